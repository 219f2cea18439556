package sessioncache

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	rediscontainer "github.com/testcontainers/testcontainers-go/modules/redis"

	goredis "github.com/redis/go-redis/v9"

	"github.com/signalsfoundry/velotrain/internal/testutils"
	"github.com/signalsfoundry/velotrain/internal/types"
)

func setupRedis(t *testing.T) (*Client, *goredis.Client, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := rediscontainer.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}

	addr, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	opts, err := goredis.ParseURL(addr)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	raw := goredis.NewClient(opts)

	client := NewWithClient(raw, slog.Default())
	cleanup := func() {
		client.Close()
		raw.Close()
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate redis container: %v", err)
		}
	}
	return client, raw, cleanup
}

func TestPutRider_Integration_RoundTrips(t *testing.T) {
	client, raw, cleanup := setupRedis(t)
	defer cleanup()

	snap := types.RiderSnapshot{Refid: "42", InRun: true}
	client.PutRider(snap, time.Minute)

	if err := testutils.WaitForCondition(func() bool {
		return raw.Exists(context.Background(), "rider:42").Val() == 1
	}, 5*time.Second); err != nil {
		t.Fatal(err)
	}

	data, err := raw.Get(context.Background(), "rider:42").Bytes()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var got types.RiderSnapshot
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Refid != snap.Refid || got.InRun != snap.InRun {
		t.Errorf("unexpected rider snapshot: %+v", got)
	}
}

func TestPutDecoder_Integration_RoundTrips(t *testing.T) {
	client, raw, cleanup := setupRedis(t)
	defer cleanup()

	snap := types.DecoderSnapshot{Mpid: 3, State: "online"}
	client.PutDecoder(snap, time.Minute)

	if err := testutils.WaitForCondition(func() bool {
		return raw.Exists(context.Background(), "decoder:3").Val() == 1
	}, 5*time.Second); err != nil {
		t.Fatal(err)
	}
}
