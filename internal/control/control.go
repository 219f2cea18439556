// Package control implements the gate/marker/reset/replay control plane:
// the side channel that coexists with the realtime passing path, ported
// from the reference implementation's marker, reset and replay handling.
package control

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"

	"github.com/signalsfoundry/velotrain/internal/tod"
	"github.com/signalsfoundry/velotrain/internal/types"
)

// ErrBadKey is returned by Reset when the supplied key does not match the
// configured shared secret.
var ErrBadKey = errors.New("control: reset key mismatch")

// ErrMasterChannel is returned by ResetUnit when asked to reset the
// synchronisation master channel.
var ErrMasterChannel = errors.New("control: cannot reset synchronisation master")

// Log is the in-memory, append-only emission log used to serve Replay
// queries. It is capped to the current day: a daily Reset clears it.
type Log struct {
	records []types.EmissionRecord
}

// Append adds rec to the log, assigning it the next index.
func (l *Log) Append(rec types.EmissionRecord) types.EmissionRecord {
	rec.Index = len(l.records)
	l.records = append(l.records, rec)
	return rec
}

// Len returns the number of records currently logged.
func (l *Log) Len() int { return len(l.records) }

// Clear empties the log, used by a daily Reset.
func (l *Log) Clear() { l.records = nil }

// Replay returns every record matching filter, applying the post-marker
// inclusion-interval rule: when PostMarker names are given, only records
// strictly between the start of a matching marker run and its next marker
// are eligible, mirroring the reference implementation's interval scan.
func (l *Log) Replay(filter types.ReplayFilter) []types.EmissionRecord {
	var out []types.EmissionRecord
	plen := len(l.records)

	if len(filter.PostMarker) == 0 {
		out = l.scanRange(0, plen, filter)
		return out
	}

	markerSet := map[string]bool{}
	for _, m := range filter.PostMarker {
		markerSet[m] = true
	}

	i := 0
	for i < plen {
		sid := i
		fid := plen

		for i < plen {
			r := l.records[i]
			i++
			if r.Refid == "marker" && markerSet[r.Text] {
				sid = i
				break
			}
			sid = i
		}
		for i < plen {
			r := l.records[i]
			if r.Refid == "marker" {
				fid = i
				break
			}
			i++
			fid = i
		}

		if sid < fid {
			out = append(out, l.scanRange(sid, fid, filter)...)
		}
		i = fid
	}
	return out
}

func (l *Log) scanRange(start, end int, filter types.ReplayFilter) []types.EmissionRecord {
	rs, rf := start, end
	if filter.FromIndex != nil && *filter.FromIndex > rs {
		rs = min(*filter.FromIndex, end)
	}
	if filter.ToIndex != nil && *filter.ToIndex < rf-1 {
		rf = min(*filter.ToIndex+1, end)
	}
	if rs >= rf {
		return nil
	}

	var mpids map[int]bool
	if len(filter.Mpids) > 0 {
		mpids = map[int]bool{}
		for _, m := range filter.Mpids {
			mpids[m] = true
		}
	}
	var refids map[string]bool
	if len(filter.Refids) > 0 {
		refids = map[string]bool{}
		for _, r := range filter.Refids {
			refids[r] = true
		}
	}

	var out []types.EmissionRecord
	for j := rs; j < rf; j++ {
		r := l.records[j]
		if filter.FromTod != "" && r.Time < filter.FromTod {
			continue
		}
		if filter.ToTod != "" && r.Time > filter.ToTod {
			continue
		}
		if mpids != nil && !mpids[r.Mpid] {
			continue
		}
		if refids != nil && !refids[r.Refid] {
			continue
		}
		out = append(out, r)
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Authkey compares a candidate reset key against the configured secret
// using constant-time comparison. Both sides are hashed to a fixed length
// first so a mismatched candidate length isn't distinguishable from a
// mismatched value.
func Authkey(configured, candidate string) bool {
	want := sha256.Sum256([]byte(configured))
	got := sha256.Sum256([]byte(candidate))
	return subtle.ConstantTimeCompare(want[:], got[:]) == 1
}

// Marker builds a synthetic marker EmissionRecord. Markers bypass the
// reorder buffer and get the next index directly from the log.
func Marker(at tod.Tod, text string) types.EmissionRecord {
	if text == "" {
		text = "marker"
	}
	return types.EmissionRecord{
		Mpid:  0,
		Refid: "marker",
		Time:  at.Format(2),
		Text:  text,
	}
}
