// Package moto tracks the most recent moto (pace/lead) vehicle passing at
// each measurement point and computes the proximity annotation attached to
// every other emitted passing at the same point.
package moto

import (
	"github.com/signalsfoundry/velotrain/internal/tod"
	"github.com/signalsfoundry/velotrain/internal/track"
)

// Proximity is the maximum time difference, before or after a moto passing,
// at which a rider passing is still annotated with a moto distance.
var Proximity = tod.FromFloatSeconds(5.0)

// Tracker remembers the latest moto passing per measurement point.
type Tracker struct {
	last map[track.Channel]tod.Tod
	refids map[string]bool
}

// New creates a Tracker recognising the given moto refids.
func New(refids []string) *Tracker {
	t := &Tracker{last: map[track.Channel]tod.Tod{}, refids: map[string]bool{}}
	for _, id := range refids {
		t.refids[id] = true
	}
	return t
}

// IsMoto reports whether refid is configured as a moto transponder.
func (t *Tracker) IsMoto(refid string) bool { return t.refids[refid] }

// Record stores ch's latest moto passing time, called whenever a
// configured moto refid is accepted at ch.
func (t *Tracker) Record(ch track.Channel, at tod.Tod) {
	t.last[ch] = at
}

// ProximityAt returns the absolute time difference between at and the most
// recent moto passing at ch, if one is recorded and within the proximity window.
// A moto's own passing reports zero proximity.
func (t *Tracker) ProximityAt(ch track.Channel, at tod.Tod, isMoto bool) (tod.Tod, bool) {
	if isMoto {
		return tod.Zero, true
	}
	mt, ok := t.last[ch]
	if !ok {
		return tod.Zero, false
	}
	d := at.Sub(mt).Abs()
	if d.After(Proximity) {
		return tod.Zero, false
	}
	return d, true
}

// Reset clears every recorded moto passing, used by a daily Reset.
func (t *Tracker) Reset() {
	t.last = map[track.Channel]tod.Tod{}
}
