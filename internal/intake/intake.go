// Package intake is the raw entry point (D) of the pipeline: it stamps
// incoming passings with host receive time, mirrors them verbatim to the
// raw sink before any correction, and either forwards sync triggers to the
// decoder or applies the session offset and enqueues a corrected passing in
// the reorder buffer.
package intake

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/signalsfoundry/velotrain/internal/clock"
	"github.com/signalsfoundry/velotrain/internal/decoder"
	"github.com/signalsfoundry/velotrain/internal/reorder"
	"github.com/signalsfoundry/velotrain/internal/tod"
	"github.com/signalsfoundry/velotrain/internal/track"
	"github.com/signalsfoundry/velotrain/internal/types"
)

// RawEvent is one passing before host stamping or offset correction,
// regardless of whether it arrived over UDP (L) or the control-plane timer
// subject.
type RawEvent struct {
	Channel string
	Refid   string
	UnitTod tod.Tod
	Env     string
	Info    string
}

// CorrectedPassing is the payload queued in the reorder buffer: a RawEvent
// with the session's clock offset already applied.
type CorrectedPassing struct {
	Channel string
	Refid   string
	Tod     tod.Tod
}

// RawSource is anything intake can pull RawEvents from; the concrete UDP
// binding lives in internal/transport/udp.
type RawSource interface {
	Events() <-chan RawEvent
}

// Sink publishes and archives the verbatim raw passing, independent of the
// decision path.
type Sink interface {
	PublishRawpass(types.RawPassing) error
	WriteRawlog(types.RawPassing) error
}

// Intake binds a track model, decoder group, reorder buffer, and raw sink
// into the D stage of the pipeline.
type Intake struct {
	tm    *track.TrackModel
	group *decoder.Group
	clk   clock.Clock
	rb    *reorder.Buffer
	sink  Sink

	trigRefid string
	gateRefid string
}

// New builds an Intake. trigRefid and gateRefid identify the synchronisation
// trigger and gate system refids respectively.
func New(tm *track.TrackModel, group *decoder.Group, clk clock.Clock, rb *reorder.Buffer, sink Sink, trigRefid, gateRefid string) *Intake {
	return &Intake{
		tm:        tm,
		group:     group,
		clk:       clk,
		rb:        rb,
		sink:      sink,
		trigRefid: trigRefid,
		gateRefid: gateRefid,
	}
}

// Process handles one raw event: channel resolution, raw-sink mirroring,
// trigger routing, and offset correction into the reorder buffer. If the
// corrected passing arrives already too late for the reorder window, it is
// not queued at all: Process returns it directly so the caller can release
// it immediately, marked out_of_order.
func (in *Intake) Process(ev RawEvent) *reorder.Event {
	if !in.tm.Configured(track.Channel(ev.Channel)) {
		return nil
	}
	mpid := in.tm.Mpid(track.Channel(ev.Channel))

	recvTod := tod.Now(in.clk)
	raw := types.RawPassing{
		Mpid:    mpid,
		Refid:   ev.Refid,
		RawTod:  ev.UnitTod.String(),
		RecvTod: recvTod.String(),
		Env:     ev.Env,
		Info:    ev.Info,
	}
	_ = in.sink.PublishRawpass(raw)
	_ = in.sink.WriteRawlog(raw)

	sess := in.group.Session(ev.Channel)
	if sess == nil {
		return nil
	}

	if ev.Refid == in.trigRefid {
		sess.Trigger(recvTod, ev.UnitTod)
		return nil
	}
	sess.Event(false)

	if sess.State() != decoder.Online {
		return nil
	}

	corrected := sess.Correct(ev.UnitTod)
	return in.rb.Enqueue(reorder.Event{
		Mpid: mpid,
		Key:  corrected,
		Payload: CorrectedPassing{
			Channel: ev.Channel,
			Refid:   ev.Refid,
			Tod:     corrected,
		},
	}, tod.Now(in.clk))
}

// ParseTimerMessage parses the control-plane "/timer" text format
// INDEX;SOURCE;CHANNEL;REFID;TOD. SOURCE names the channel; CHANNEL is
// retained for compatibility with foreign timers that echo it back
// verbatim, but is not otherwise consulted. TOD accepts the sentinels "now"
// (host wall time) and "0" (most recent minute boundary).
func ParseTimerMessage(line string, clk clock.Clock) (RawEvent, error) {
	fields := strings.Split(strings.TrimSpace(line), ";")
	if len(fields) != 5 {
		return RawEvent{}, fmt.Errorf("intake: malformed timer message %q", line)
	}

	if _, err := strconv.Atoi(fields[0]); err != nil {
		return RawEvent{}, fmt.Errorf("intake: invalid index in %q: %w", line, err)
	}

	source := fields[1]
	refid := fields[3]
	todStr := fields[4]

	var t tod.Tod
	var err error
	switch todStr {
	case "0":
		t = snapToMinute(tod.Now(clk))
	default:
		t, err = tod.Parse(todStr, clk)
	}
	if err != nil {
		return RawEvent{}, fmt.Errorf("intake: invalid tod in %q: %w", line, err)
	}

	return RawEvent{Channel: source, Refid: refid, UnitTod: t}, nil
}

func snapToMinute(t tod.Tod) tod.Tod {
	const ticksPerMinute = 60 * tod.TicksPerSecond
	return tod.FromTicks((t.Ticks() / ticksPerMinute) * ticksPerMinute)
}
