package sessioncache

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/signalsfoundry/velotrain/internal/testutils"
	"github.com/signalsfoundry/velotrain/internal/types"
)

type fakeClient struct {
	mu   sync.Mutex
	sets map[string][]byte
}

func newFakeClient() *fakeClient { return &fakeClient{sets: map[string][]byte{}} }

func (f *fakeClient) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("PONG")
	return cmd
}

func (f *fakeClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.sets[key] = v
	case string:
		f.sets[key] = []byte(v)
	}
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeClient) Close() error { return nil }

func (f *fakeClient) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sets[key]
	return ok
}

func TestPutRiderWritesThroughToRedis(t *testing.T) {
	fc := newFakeClient()
	c := NewWithClient(fc, slog.Default())
	defer c.Close()

	c.PutRider(types.RiderSnapshot{Refid: "42", InRun: true}, time.Minute)
	if err := testutils.WaitForCondition(func() bool { return fc.has("rider:42") }, 2*time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestPutDecoderWritesThroughToRedis(t *testing.T) {
	fc := newFakeClient()
	c := NewWithClient(fc, slog.Default())
	defer c.Close()

	c.PutDecoder(types.DecoderSnapshot{Mpid: 3, State: "online"}, time.Minute)
	if err := testutils.WaitForCondition(func() bool { return fc.has("decoder:3") }, 2*time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	fc := newFakeClient()
	c := &Client{client: fc, log: slog.Default(), writes: make(chan write), done: make(chan struct{})}
	// no reader goroutine running, so this enqueue must not block.
	done := make(chan struct{})
	go func() {
		c.enqueue("x", "y", time.Second)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full/unread channel")
	}
}
