// Package sessioncache is a best-effort, write-only Redis mirror of rider
// and decoder snapshots for external dashboards. It is never read back
// into the core decision path: a small interface seam for testing, and
// TTL'd keys.
package sessioncache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/signalsfoundry/velotrain/internal/types"
)

// ClientInterface is the subset of *redis.Client operations this package
// depends on, so tests can supply a fake.
type ClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// Client is the write-only session mirror.
type Client struct {
	client ClientInterface
	log    *slog.Logger

	writes chan write
	done   chan struct{}
}

type write struct {
	key string
	val interface{}
	ttl time.Duration
}

// New connects to addr and starts the background cache-writer goroutine.
func New(addr string, log *slog.Logger) (*Client, error) {
	rc := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("sessioncache: connect to Redis: %w", err)
	}

	return NewWithClient(rc, log), nil
}

// NewWithClient wraps an already-constructed ClientInterface, useful for
// tests.
func NewWithClient(rc ClientInterface, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		client: rc,
		log:    log,
		writes: make(chan write, 256),
		done:   make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Client) run() {
	ctx := context.Background()
	for {
		select {
		case w, ok := <-c.writes:
			if !ok {
				return
			}
			data, err := json.Marshal(w.val)
			if err != nil {
				c.log.Warn("failed to marshal session cache value", "key", w.key, "err", err)
				continue
			}
			if err := c.client.Set(ctx, w.key, data, w.ttl).Err(); err != nil {
				c.log.Warn("failed to write session cache key in Redis", "key", w.key, "err", err)
			}
		case <-c.done:
			return
		}
	}
}

// enqueue submits a write without blocking the core loop; a full channel
// drops the write and logs rather than backing up the caller.
func (c *Client) enqueue(key string, val interface{}, ttl time.Duration) {
	select {
	case c.writes <- write{key: key, val: val, ttl: ttl}:
	default:
		c.log.Warn("session cache write queue full, dropping update", "key", key)
	}
}

// PutRider mirrors a rider snapshot with the caller-supplied TTL.
func (c *Client) PutRider(snap types.RiderSnapshot, ttl time.Duration) {
	c.enqueue(fmt.Sprintf("rider:%s", snap.Refid), snap, ttl)
}

// PutDecoder mirrors a decoder snapshot with the caller-supplied TTL.
func (c *Client) PutDecoder(snap types.DecoderSnapshot, ttl time.Duration) {
	c.enqueue(fmt.Sprintf("decoder:%d", snap.Mpid), snap, ttl)
}

// PutStatus mirrors the full status record with a fixed 180s TTL; no field
// is removed before writing.
func (c *Client) PutStatus(status types.StatusRecord) {
	c.enqueue("status:latest", status, 180*time.Second)
}

// Close stops the background writer and closes the Redis connection.
func (c *Client) Close() error {
	close(c.done)
	return c.client.Close()
}
