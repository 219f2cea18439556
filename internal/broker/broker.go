// Package broker wires the core event loop to NATS JetStream: one
// connection, a JetStream context for the durable streams, and plain
// subscriptions for the control-plane subjects that are commands rather
// than a log.
package broker

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/signalsfoundry/velotrain/internal/types"
)

// Subjects used on the message broker.
const (
	SubjectPassing   = "velotrain.passing"
	SubjectRawpass   = "velotrain.rawpass"
	SubjectStatus    = "velotrain.status"
	SubjectReplay    = "velotrain.replay"
	SubjectRequest   = "velotrain.request"
	SubjectMarker    = "velotrain.marker"
	SubjectReset     = "velotrain.reset"
	SubjectTimer     = "velotrain.timer"
	SubjectResetUnit = "velotrain.resetunit"
)

const (
	streamPassing = "VELOTRAIN_PASSING"
	streamRawpass = "VELOTRAIN_RAWPASS"
	streamStatus  = "VELOTRAIN_STATUS"
)

// Client wraps a NATS connection plus its JetStream context.
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New connects to url and provisions the durable streams this module owns.
func New(url string) (*Client, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("broker: connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("broker: JetStream context: %w", err)
	}

	streams := []*nats.StreamConfig{
		{Name: streamPassing, Subjects: []string{SubjectPassing}, Storage: nats.FileStorage, MaxAge: 24 * time.Hour},
		{Name: streamRawpass, Subjects: []string{SubjectRawpass}, Storage: nats.FileStorage, MaxAge: 24 * time.Hour},
		{Name: streamStatus, Subjects: []string{SubjectStatus}, Storage: nats.FileStorage, MaxAge: 24 * time.Hour},
	}
	for _, sc := range streams {
		if _, err := js.AddStream(sc); err != nil && !strings.Contains(err.Error(), "stream name already in use") {
			nc.Close()
			return nil, fmt.Errorf("broker: create stream %s: %w", sc.Name, err)
		}
	}

	return &Client{conn: nc, js: js}, nil
}

// PublishPassing publishes a fully decorated emission record.
func (c *Client) PublishPassing(rec types.EmissionRecord) error {
	return c.publishJS(SubjectPassing, rec)
}

// PublishRawpass publishes an uncorrected raw passing, verbatim.
func (c *Client) PublishRawpass(rec types.RawPassing) error {
	return c.publishJS(SubjectRawpass, rec)
}

// PublishStatus publishes a top-of-minute status snapshot.
func (c *Client) PublishStatus(rec types.StatusRecord) error {
	return c.publishJS(SubjectStatus, rec)
}

// PublishReplay publishes a replay result. Replay responses are transient
// and not retained in a stream.
func (c *Client) PublishReplay(subject string, recs []types.EmissionRecord) error {
	return c.publishPlain(subject, recs)
}

func (c *Client) publishJS(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("broker: marshal for %s: %w", subject, err)
	}
	if _, err := c.js.Publish(subject, data); err != nil {
		return fmt.Errorf("broker: publish %s: %w", subject, err)
	}
	return nil
}

func (c *Client) publishPlain(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("broker: marshal for %s: %w", subject, err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("broker: publish %s: %w", subject, err)
	}
	return nil
}

// SubscribeMarker subscribes to marker control messages (plain, not JetStream).
func (c *Client) SubscribeMarker(handler func(text string)) error {
	_, err := c.conn.Subscribe(SubjectMarker, func(msg *nats.Msg) {
		handler(string(msg.Data))
	})
	return err
}

// SubscribeReset subscribes to reset commands, passing the raw shared-key
// payload to handler.
func (c *Client) SubscribeReset(handler func(key string)) error {
	_, err := c.conn.Subscribe(SubjectReset, func(msg *nats.Msg) {
		handler(string(msg.Data))
	})
	return err
}

// SubscribeResetUnit subscribes to per-channel reset commands.
func (c *Client) SubscribeResetUnit(handler func(channel string)) error {
	_, err := c.conn.Subscribe(SubjectResetUnit, func(msg *nats.Msg) {
		handler(string(msg.Data))
	})
	return err
}

// SubscribeTimer subscribes to foreign-timer text events in the
// INDEX;SOURCE;CHANNEL;REFID;TOD wire format.
func (c *Client) SubscribeTimer(handler func(line string)) error {
	_, err := c.conn.Subscribe(SubjectTimer, func(msg *nats.Msg) {
		handler(string(msg.Data))
	})
	return err
}

// SubscribeRequest subscribes to replay request messages.
func (c *Client) SubscribeRequest(handler func(payload []byte, replySubject string)) error {
	_, err := c.conn.Subscribe(SubjectRequest, func(msg *nats.Msg) {
		handler(msg.Data, msg.Reply)
	})
	return err
}

// SubscribeRawpass subscribes a durable JetStream consumer to the rawpass
// stream, letting a standalone log writer (cmd/rawlogger) run decoupled
// from the core event loop and replay anything it missed while offline.
func (c *Client) SubscribeRawpass(durable string, handler func(types.RawPassing)) error {
	_, err := c.js.Subscribe(SubjectRawpass, func(msg *nats.Msg) {
		var rec types.RawPassing
		if err := json.Unmarshal(msg.Data, &rec); err != nil {
			return
		}
		handler(rec)
		_ = msg.Ack()
	}, nats.Durable(durable), nats.ManualAck())
	return err
}

// Close closes the underlying NATS connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
