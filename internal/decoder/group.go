package decoder

import (
	"sort"

	"github.com/signalsfoundry/velotrain/internal/clock"
)

// Group owns every channel's Session and applies the cross-session
// stale-master cascade policy: when the synchronisation master session
// itself goes stale, every other session is forced back to reporting
// "syncing" until the master recovers.
type Group struct {
	master   string
	sessions map[string]*Session
}

// NewGroup creates a Group with one Session per channel in channels.
// master names the synchronisation master channel, which must be a
// member of channels.
func NewGroup(channels []string, master string, clk clock.Clock) *Group {
	g := &Group{master: master, sessions: map[string]*Session{}}
	for _, ch := range channels {
		g.sessions[ch] = New(ch, ch == master, clk)
	}
	return g
}

// Session returns the session for ch, or nil if ch is not configured.
func (g *Group) Session(ch string) *Session { return g.sessions[ch] }

// Master returns the synchronisation master's session.
func (g *Group) Master() *Session { return g.sessions[g.master] }

// Channels returns every configured channel, sorted for deterministic
// iteration.
func (g *Group) Channels() []string {
	out := make([]string, 0, len(g.sessions))
	for ch := range g.sessions {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Reconcile re-applies the stale-master cascade after any state change:
// call after every Trigger/CheckStale/ResetUnit. Returns whether the
// cascade is currently forcing every non-master session to syncing.
func (g *Group) Reconcile() bool {
	master := g.Master()
	if master == nil {
		return false
	}
	forced := master.State() == Stale
	for ch, s := range g.sessions {
		if ch == g.master {
			continue
		}
		s.ForceSyncing(forced)
	}
	return forced
}

// CheckStale runs liveness checks on every session and reconciles the
// cascade policy afterward.
func (g *Group) CheckStale() {
	for _, s := range g.sessions {
		s.CheckStale()
	}
	g.Reconcile()
}

// ResetAll clears every session for a new day.
func (g *Group) ResetAll() {
	for _, s := range g.sessions {
		s.Reset()
	}
}
