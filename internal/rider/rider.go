// Package rider maintains each transponder's sector history, classifies
// every released passing as part of an active run or isolated, and
// computes the named splits (lap, half, qtr, 200, 100, 50). The
// queue-choke scheduling in this package is ported from the reference
// implementation's passing-queue processing: a refid's pending passings
// are held in a small FIFO and processed head-first, pausing ("choking")
// whenever the head neither completes the expected sector nor has aged
// enough to be declared isolated.
package rider

import (
	"fmt"

	"github.com/signalsfoundry/velotrain/internal/clock"
	"github.com/signalsfoundry/velotrain/internal/tod"
	"github.com/signalsfoundry/velotrain/internal/track"
)

// isoMaxAge bounds how long a choked passing may sit in the queue (in
// real wall-clock terms) before it is forced to an isolated decision.
var isoMaxAge = tod.FromFloatSeconds(5.0)

// maxElap is the outer bound on a plausible gate-to-passing elapsed time;
// beyond this the gate is not used as the elap origin, and elap falls back
// to the run start (or stays null when there is none).
var maxElap = tod.FromFloatSeconds(600.0)

// Passing is one corrected, released event awaiting classification.
type Passing struct {
	Channel    track.Channel
	Tod        tod.Tod
	OutOfOrder bool
}

// Classification is the result of processing one Passing.
type Classification struct {
	Channel track.Channel
	Tod     tod.Tod
	InRun   bool
	Elap    *tod.Tod
	Splits  map[track.SplitKind]tod.Tod
}

// history is the per-refid sector trail.
type history struct {
	lastChannel track.Channel
	lastTod     tod.Tod
	hasLast     bool

	runStart tod.Tod
	hasRun   bool

	perChannel map[track.Channel]tod.Tod

	choked     bool
	chokeSince tod.Tod
}

func newHistory() *history {
	return &history{perChannel: map[track.Channel]tod.Tod{}}
}

// Tracker owns every refid's history and pending queue.
type Tracker struct {
	tm  *track.TrackModel
	clk clock.Clock

	histories map[string]*history
	queues    map[string][]Passing

	gate    tod.Tod
	hasGate bool

	isoThresh tod.Tod
}

// New creates a Tracker bound to the given track geometry. isoThresh, the
// age beyond which a passing with no recent sibling is always treated as
// isolated regardless of choke state, is the time to cover one lap at
// minspeed (converted from km/h to m/s), doubled: laplen/minspeed*2 seconds
// (≈47.4s at the defaults laplen=250, minspeed=38).
func New(tm *track.TrackModel, clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.System
	}
	minspeedMps := tm.MinSpeed() / 3.6
	return &Tracker{
		tm:        tm,
		clk:       clk,
		histories: map[string]*history{},
		queues:    map[string][]Passing{},
		isoThresh: tod.FromFloatSeconds(tm.LapLen() / minspeedMps * 2),
	}
}

// SetGate records the most recent start-gate trigger tod, used for the
// gate-sector override and as the preferred elap origin.
func (t *Tracker) SetGate(gt tod.Tod) {
	t.gate = gt
	t.hasGate = true
}

func (t *Tracker) histFor(refid string) *history {
	h, ok := t.histories[refid]
	if !ok {
		h = newHistory()
		t.histories[refid] = h
	}
	return h
}

// Enqueue appends p to refid's FIFO and immediately attempts to drain it.
// It returns every Classification that could be emitted this call, in
// order; an empty slice means the queue choked on arrival.
func (t *Tracker) Enqueue(refid string, p Passing) []Classification {
	t.queues[refid] = append(t.queues[refid], p)
	return t.drain(refid)
}

// CleanQueues reprocesses every refid's queue, releasing anything that has
// unchoked since the last pass (typically because it aged past
// isoMaxAge). Call periodically from the owning event loop.
func (t *Tracker) CleanQueues() map[string][]Classification {
	out := map[string][]Classification{}
	for refid := range t.queues {
		if cs := t.drain(refid); len(cs) > 0 {
			out[refid] = cs
		}
	}
	return out
}

// drain processes refid's queue head-first until it empties or chokes.
func (t *Tracker) drain(refid string) []Classification {
	q := t.queues[refid]
	h := t.histFor(refid)
	var out []Classification

	for len(q) > 0 {
		p := q[0]

		if t.sectorMatch(p, h) {
			out = append(out, t.accept(refid, p, h, true))
			q = q[1:]
			continue
		}

		if t.isolatedMatch(p, h) {
			out = append(out, t.accept(refid, p, h, false))
			q = q[1:]
			continue
		}

		if !h.choked {
			h.choked = true
			h.chokeSince = tod.Now(t.clk)
		}
		break
	}

	if len(q) == 0 {
		delete(t.queues, refid)
	} else {
		t.queues[refid] = q
	}
	return out
}

// sectorMatch reports whether p completes the sector expected after the
// refid's current history, including the start-gate override.
func (t *Tracker) sectorMatch(p Passing, h *history) bool {
	prev := t.tm.Prev(p.Channel)

	if gateSrc, _, _, mintime, maxtime, ok := t.tm.GateSector(); ok && prev == gateSrc && t.hasGate {
		if h.hasLast && h.lastChannel == gateSrc {
			if t.gate.After(h.lastTod) {
				d := p.Tod.Sub(t.gate)
				if d.After(mintime) && d.Before(maxtime) {
					h.lastChannel = gateSrc
					h.lastTod = t.gate
					h.perChannel[gateSrc] = t.gate
					return true
				}
			}
		} else {
			d := p.Tod.Sub(t.gate)
			if d.After(mintime) && d.Before(maxtime) {
				h.lastChannel = gateSrc
				h.lastTod = t.gate
				h.perChannel[gateSrc] = t.gate
				return true
			}
		}
	}

	if !h.hasLast || h.lastChannel != prev {
		return false
	}
	_, mintime, maxtime, ok := t.tm.Sector(prev, p.Channel)
	if !ok {
		return false
	}
	d := p.Tod.Sub(h.lastTod)
	return d.After(mintime) && d.Before(maxtime)
}

// isolatedMatch reports whether p should be accepted as an isolated
// (not in-run) passing rather than left choked.
func (t *Tracker) isolatedMatch(p Passing, h *history) bool {
	if !h.hasLast || p.Tod.Sub(h.lastTod).After(t.isoThresh) {
		return true
	}
	if h.choked {
		age := tod.Now(t.clk).Sub(h.chokeSince)
		if age.After(isoMaxAge) {
			return true
		}
	}
	return false
}

// accept finalises p's classification, updates history, and returns the
// emitted record. inRun indicates whether p matched the expected sector
// (true) or was accepted via the isolated path (false).
func (t *Tracker) accept(refid string, p Passing, h *history, inRun bool) Classification {
	c := Classification{
		Channel: p.Channel,
		Tod:     p.Tod,
		InRun:   inRun,
		Splits:  map[track.SplitKind]tod.Tod{},
	}

	if !inRun {
		// A fresh isolated passing starts a new run: the old run start is
		// no longer a valid elap origin, so clear it before computing Elap
		// below rather than after.
		h.hasRun = false
	}

	if t.hasGate && t.gate.Before(p.Tod) {
		et := p.Tod.Sub(t.gate)
		if et.Before(maxElap) {
			v := et
			c.Elap = &v
		}
	}
	if c.Elap == nil && h.hasRun {
		et := p.Tod.Sub(h.runStart)
		v := et
		c.Elap = &v
	}

	if inRun {
		for kind, def := range t.tm.Splits(p.Channel) {
			srcTod, ok := h.perChannel[def.Src]
			if !ok {
				continue
			}
			d := p.Tod.Sub(srcTod)
			if d.After(def.MinDur) && d.Before(def.MaxDur) {
				c.Splits[kind] = d
			}
		}
	} else {
		h.runStart = p.Tod
		h.hasRun = true
	}

	h.lastChannel = p.Channel
	h.lastTod = p.Tod
	h.hasLast = true
	h.perChannel[p.Channel] = p.Tod
	h.choked = false

	return c
}

// DropRefid discards refid's queue and history entirely.
func (t *Tracker) DropRefid(refid string) {
	delete(t.queues, refid)
	delete(t.histories, refid)
}

// ResetAll clears every refid's queue and history, used by a daily Reset.
func (t *Tracker) ResetAll() {
	t.queues = map[string][]Passing{}
	t.histories = map[string]*history{}
	t.gate = tod.Zero
	t.hasGate = false
}

// Snapshot returns a stable summary of refid's current history, or an
// error if refid has no recorded history.
func (t *Tracker) Snapshot(refid string) (channel track.Channel, last tod.Tod, runStart tod.Tod, inRun bool, err error) {
	h, ok := t.histories[refid]
	if !ok {
		return "", tod.Zero, tod.Zero, false, fmt.Errorf("rider: no history for refid %q", refid)
	}
	return h.lastChannel, h.lastTod, h.runStart, !h.choked && h.hasLast, nil
}
