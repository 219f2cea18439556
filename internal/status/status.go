// Package status assembles the top-of-minute status snapshot published to
// the broker's status topic and mirrored, unchanged, to the session cache.
package status

import (
	"github.com/signalsfoundry/velotrain/internal/tod"
	"github.com/signalsfoundry/velotrain/internal/types"
)

// Info values for the status record's info field.
const (
	InfoRunning   = "running"
	InfoResetting = "resetting"
	InfoOffline   = "offline"
	InfoError     = "error"
)

// SessionSource supplies one decoder channel's current state for snapshot
// assembly; internal/decoder.Session satisfies this shape via a small
// adapter in the core package.
type SessionSource struct {
	Mpid   int
	Name   string
	State  string
	Offset float64
	Noise  float64
}

// Build assembles a StatusRecord from the current tracker state.
func Build(now tod.Tod, utcOffset tod.Tod, dailyCount int, lastGate tod.Tod, hasGate bool, lowBattery []string, sessions []SessionSource, info string) types.StatusRecord {
	rec := types.StatusRecord{
		Tod:       now.Format(3),
		UTCOffset: utcOffset.Format(2),
		DailyCt:   dailyCount,
		LowBatt:   lowBattery,
		Info:      info,
	}
	if hasGate {
		rec.LastGate = lastGate.Format(2)
	}
	for _, s := range sessions {
		rec.Sessions = append(rec.Sessions, types.DecoderSnapshot{
			Mpid:   s.Mpid,
			Name:   s.Name,
			State:  s.State,
			Offset: s.Offset,
			Noise:  s.Noise,
		})
	}
	return rec
}
