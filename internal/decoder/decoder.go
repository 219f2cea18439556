// Package decoder implements the per-channel clock-synchronisation state
// machine: each measurement point's decoder unit runs its own clock, and a
// Session tracks the estimated offset to host wall time along with
// liveness and interference (noise) state.
package decoder

import (
	"sync"
	"time"

	"github.com/signalsfoundry/velotrain/internal/clock"
	"github.com/signalsfoundry/velotrain/internal/tod"
)

// State is one of the four decoder lifecycle states.
type State string

const (
	Offline State = "offline"
	Syncing State = "syncing"
	Online  State = "online"
	Stale   State = "stale"
)

// agreementWindow is the maximum disagreement, in ticks, between
// consecutive offset estimates allowed while syncing.
const agreementWindow = tod.TicksPerSecond / 20 // 50ms

// agreementCount is the number of consecutive agreeing triggers required
// to move from syncing to online.
const agreementCount = 2

// staleAfter is the liveness timeout: no event of any kind for this long
// demotes an online session to stale.
const staleAfter = 180 * time.Second

// Session holds the live state for one measurement-point's decoder.
type Session struct {
	mu sync.Mutex

	channel  string
	isMaster bool
	clk      clock.Clock

	state      State
	offset     tod.Tod
	lastTrig   []tod.Tod // recent trigger offset estimates, most recent last
	lastSeen   time.Time
	noise      float64
	lowBattery map[string]bool

	forcedSyncing bool // true while the sync master itself is stale
}

// New creates a Session for channel, initially offline. isMaster marks the
// channel whose triggers alone advance synchronisation time.
func New(channel string, isMaster bool, clk clock.Clock) *Session {
	if clk == nil {
		clk = clock.System
	}
	return &Session{
		channel:    channel,
		isMaster:   isMaster,
		clk:        clk,
		state:      Offline,
		lowBattery: map[string]bool{},
	}
}

// Channel returns the measurement-point channel this session tracks.
func (s *Session) Channel() string { return s.channel }

// IsMaster reports whether this is the synchronisation master channel.
func (s *Session) IsMaster() bool { return s.isMaster }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveState()
}

func (s *Session) effectiveState() State {
	if s.forcedSyncing && s.state == Online {
		return Syncing
	}
	return s.state
}

// Offset returns the current estimated host-to-unit clock offset.
func (s *Session) Offset() tod.Tod {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// Noise returns the current interference score, 0..100.
func (s *Session) Noise() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.noise
}

// LowBattery returns a snapshot of the refids currently flagged low battery.
func (s *Session) LowBattery() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.lowBattery))
	for id := range s.lowBattery {
		out = append(out, id)
	}
	return out
}

// Correct applies the session's current offset to a raw unit tod.
func (s *Session) Correct(rawTod tod.Tod) tod.Tod {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rawTod.Add(s.offset)
}

// Trigger processes a synchronisation trigger (refid == trig) arriving at
// hostRecvTod with the unit's own unitTod. It advances the offset estimate
// and the state machine, returning the new state.
func (s *Session) Trigger(hostRecvTod, unitTod tod.Tod) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touch()

	snapped := snapToMinute(hostRecvTod)
	est := snapped.Sub(unitTod)

	switch s.state {
	case Offline, Stale:
		s.state = Syncing
		s.lastTrig = []tod.Tod{est}
		s.offset = est
	case Syncing:
		s.lastTrig = append(s.lastTrig, est)
		if len(s.lastTrig) > agreementCount {
			s.lastTrig = s.lastTrig[len(s.lastTrig)-agreementCount:]
		}
		s.offset = est
		if s.agrees() {
			s.state = Online
		}
	case Online:
		s.offset = est
		s.lastTrig = []tod.Tod{est}
	}

	if s.isMaster {
		s.forcedSyncing = false
	}
	return s.effectiveState()
}

// agrees reports whether the last agreementCount trigger estimates are all
// within agreementWindow ticks of one another.
func (s *Session) agrees() bool {
	if len(s.lastTrig) < agreementCount {
		return false
	}
	min, max := s.lastTrig[0], s.lastTrig[0]
	for _, e := range s.lastTrig {
		if e.Before(min) {
			min = e
		}
		if e.After(max) {
			max = e
		}
	}
	return max.Sub(min).Ticks() <= agreementWindow
}

// Event registers any non-trigger reception on this channel: it refreshes
// liveness and demotes noise decay.
func (s *Session) Event(spurious bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.updateNoise(spurious)
}

func (s *Session) touch() {
	s.lastSeen = s.clk.Now()
}

// updateNoise folds one event's sample (100 if spurious, 0 otherwise) into
// the EMA of spurious reads, clamped to [0,100]. Samples are taken per
// event; they are not bucketed per minute.
func (s *Session) updateNoise(spurious bool) {
	const alpha = 0.2
	sample := 0.0
	if spurious {
		sample = 100.0
	}
	s.noise = s.noise*(1-alpha) + sample*alpha
	if s.noise < 0 {
		s.noise = 0
	}
	if s.noise > 100 {
		s.noise = 100
	}
}

// MarkLowBattery records refid as reporting low battery; cleared only on
// Reset.
func (s *Session) MarkLowBattery(refid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lowBattery[refid] = true
}

// CheckStale demotes an online session with no recent event to stale. It
// should be called periodically by the owning core loop. Returns the
// resulting state.
func (s *Session) CheckStale() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Online && s.clk.Now().Sub(s.lastSeen) > staleAfter {
		s.state = Stale
	}
	return s.effectiveState()
}

// ForceSyncing is called by the owning tracker on every other session when
// the synchronisation master session itself becomes stale.
func (s *Session) ForceSyncing(forced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forcedSyncing = forced
}

// ResetUnit transitions the session to offline and clears its trigger
// history, but keeps its noise/low-battery accumulation (cleared only by a
// full daily Reset). The synchronisation master cannot be reset this way;
// callers must check IsMaster first.
func (s *Session) ResetUnit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Offline
	s.lastTrig = nil
	s.forcedSyncing = false
}

// Reset clears all accumulated state for a new day: state, offset history,
// noise, and low-battery set. Unlike ResetUnit this applies even to the
// master and is only ever called from the control-plane daily Reset.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Offline
	s.offset = tod.Zero
	s.lastTrig = nil
	s.noise = 0
	s.lowBattery = map[string]bool{}
	s.forcedSyncing = false
}

// snapToMinute rounds t to the nearest whole minute boundary, matching the
// expected top-of-minute arrival of trigger pulses.
func snapToMinute(t tod.Tod) tod.Tod {
	const minuteTicks = 60 * tod.TicksPerSecond
	ticks := t.Ticks()
	rem := ticks % minuteTicks
	if rem*2 >= minuteTicks {
		return tod.FromTicks(ticks - rem + minuteTicks)
	}
	return tod.FromTicks(ticks - rem)
}
