// Package track holds the static, read-only track geometry: measurement
// point positions, sector lengths and the ancestor channel used to compute
// each named split. It is built once at startup from a Config and never
// mutated afterward; live per-channel state (offsets, noise, liveness)
// belongs to the decoder package instead.
package track

import (
	"fmt"
	"sort"

	"github.com/signalsfoundry/velotrain/internal/tod"
)

// Channel identifies a measurement point by its decoder channel id, e.g. "C1".
type Channel string

// SplitKind names one of the fixed distances a passing may report a split for.
type SplitKind string

// The split kinds recognised by the tracker.
const (
	SplitLap  SplitKind = "lap"
	SplitHalf SplitKind = "half"
	SplitQtr  SplitKind = "qtr"
	Split200  SplitKind = "200"
	Split100  SplitKind = "100"
	Split50   SplitKind = "50"
)

// AllSplits lists every split kind.
var AllSplits = []SplitKind{SplitLap, SplitHalf, SplitQtr, Split200, Split100, Split50}

// MPConfig is the caller-supplied configuration for one enabled measurement
// point. Parsing this out of a config file of any particular format is an
// external collaborator's concern; this module only consumes the resulting
// struct.
type MPConfig struct {
	Name    string
	OffsetM float64
	Half    Channel
	Qtr     Channel
	M200    Channel
	M100    Channel
	M50     Channel
}

// Config is the full static track configuration recognised by this module.
type Config struct {
	LapLen    float64
	MPSeq     []Channel
	MPs       map[Channel]MPConfig
	MinSpeed  float64
	MaxSpeed  float64
	MinGate   float64
	MaxGate   float64
	GateSrc   Channel
	GateDelay tod.Tod
}

// MeasurementPoint is one resolved, numbered sensor location.
type MeasurementPoint struct {
	Channel Channel
	Mpid    int
	Name    string
	OffsetM float64
}

// SplitDef describes how to compute one named split at a measurement point:
// the ancestor channel to diff against, and the valid duration range implied
// by the configured speed bounds.
type SplitDef struct {
	Src     Channel
	LenM    float64
	MinDur  tod.Tod // duration at maxspeed (fastest => shortest duration)
	MaxDur  tod.Tod // duration at minspeed (slowest => longest duration)
}

type sector struct {
	lenM           float64
	mintime        tod.Tod // duration at maxspeed
	maxtime        tod.Tod // duration at minspeed
}

// TrackModel is the immutable, precomputed track geometry.
type TrackModel struct {
	cfg Config

	seq    []Channel          // enabled channels, in travel order
	mpid   map[Channel]int    // channel -> 1-based position in seq
	mp     map[Channel]MeasurementPoint
	next   map[Channel]Channel // next channel around the loop
	prev   map[Channel]Channel
	secs   map[[2]int]sector // (fromMpid,toMpid) -> sector; the gate sector is kept in gateSec
	splits map[Channel]map[SplitKind]SplitDef

	gateSrc  Channel
	gateNext Channel
	gateSec  sector
	hasGate  bool
}

// dr2t converts a distance (m) and a speed (km/h) into a duration.
func dr2t(distM, speedKmh float64) tod.Tod {
	if speedKmh <= 0 {
		return tod.Zero
	}
	mps := speedKmh / 3.6
	return tod.FromFloatSeconds(distM / mps)
}

// Speed returns the sector speed in km/h for a distance and duration.
func Speed(lenM float64, duration tod.Tod) float64 {
	secs := duration.Seconds()
	if secs <= 0 {
		return 0
	}
	return (lenM / secs) * 3.6
}

// New validates cfg and builds a TrackModel.
func New(cfg Config) (*TrackModel, error) {
	if cfg.LapLen <= 0 {
		return nil, fmt.Errorf("track: invalid laplen %v", cfg.LapLen)
	}
	if len(cfg.MPs) == 0 {
		return nil, fmt.Errorf("track: no measurement points configured")
	}

	seen := map[Channel]bool{}
	for _, ch := range cfg.MPSeq {
		if _, ok := cfg.MPs[ch]; !ok {
			continue
		}
		if seen[ch] {
			return nil, fmt.Errorf("track: channel %s duplicated in mpseq", ch)
		}
		seen[ch] = true
	}

	var seq []Channel
	for _, ch := range cfg.MPSeq {
		if _, ok := cfg.MPs[ch]; ok {
			seq = append(seq, ch)
		}
	}
	if len(seq) == 0 {
		return nil, fmt.Errorf("track: no configured measurement point appears in mpseq")
	}

	for ch, mpc := range cfg.MPs {
		if mpc.OffsetM < 0 || mpc.OffsetM >= cfg.LapLen {
			return nil, fmt.Errorf("track: channel %s offset %v outside [0,%v)", ch, mpc.OffsetM, cfg.LapLen)
		}
		for _, anc := range []Channel{mpc.Half, mpc.Qtr, mpc.M200, mpc.M100, mpc.M50} {
			if anc == "" {
				continue
			}
			if anc == ch {
				return nil, fmt.Errorf("track: channel %s cannot be its own split ancestor", ch)
			}
			if _, ok := cfg.MPs[anc]; !ok {
				return nil, fmt.Errorf("track: ancestor channel %s for %s is not configured", anc, ch)
			}
		}
	}

	tm := &TrackModel{
		cfg:    cfg,
		seq:    seq,
		mpid:   map[Channel]int{},
		mp:     map[Channel]MeasurementPoint{},
		next:   map[Channel]Channel{},
		prev:   map[Channel]Channel{},
		secs:   map[[2]int]sector{},
		splits: map[Channel]map[SplitKind]SplitDef{},
	}

	for i, ch := range seq {
		mpid := i + 1
		tm.mpid[ch] = mpid
		tm.mp[ch] = MeasurementPoint{
			Channel: ch,
			Mpid:    mpid,
			Name:    displayName(cfg.MPs[ch], ch),
			OffsetM: cfg.MPs[ch].OffsetM,
		}
	}

	// sector length between every ordered pair, including the full-lap
	// self pair.
	distance := func(from, to Channel) float64 {
		if from == to {
			return cfg.LapLen
		}
		soft := cfg.MPs[from].OffsetM
		doft := cfg.MPs[to].OffsetM
		if soft < doft {
			return doft - soft
		}
		return cfg.LapLen - soft + doft
	}

	for _, from := range seq {
		for _, to := range seq {
			lenM := distance(from, to)
			tm.secs[[2]int{tm.mpid[from], tm.mpid[to]}] = sector{
				lenM:    lenM,
				mintime: dr2t(lenM, cfg.MaxSpeed),
				maxtime: dr2t(lenM, cfg.MinSpeed),
			}
		}
	}

	// link the loop and compute the immediate sector feeding each point.
	for i, ch := range seq {
		next := seq[(i+1)%len(seq)]
		prev := seq[(i-1+len(seq))%len(seq)]
		tm.next[ch] = next
		tm.prev[ch] = prev
	}

	// split definitions per measurement point.
	for _, ch := range seq {
		mpc := cfg.MPs[ch]
		defs := map[SplitKind]SplitDef{}
		defs[SplitLap] = splitDefFor(tm, ch, cfg.LapLen)
		if mpc.Half != "" {
			defs[SplitHalf] = splitDefFor(tm, mpc.Half, cfg.LapLen/2)
		}
		if mpc.Qtr != "" {
			defs[SplitQtr] = splitDefFor(tm, mpc.Qtr, cfg.LapLen/4)
		}
		if mpc.M200 != "" {
			defs[Split200] = splitDefFor(tm, mpc.M200, 200)
		}
		if mpc.M100 != "" {
			defs[Split100] = splitDefFor(tm, mpc.M100, 100)
		}
		if mpc.M50 != "" {
			defs[Split50] = splitDefFor(tm, mpc.M50, 50)
		}
		tm.splits[ch] = defs
	}

	// optional start-gate entrance sector, from gatesrc to the next
	// configured point around the loop.
	if cfg.GateSrc != "" {
		if _, ok := cfg.MPs[cfg.GateSrc]; !ok {
			return nil, fmt.Errorf("track: gatesrc %s is not a configured measurement point", cfg.GateSrc)
		}
		next := tm.next[cfg.GateSrc]
		lenM := distance(cfg.GateSrc, next)
		tm.gateSrc = cfg.GateSrc
		tm.gateNext = next
		tm.gateSec = sector{
			lenM:    lenM,
			mintime: dr2t(lenM, cfg.MaxGate),
			maxtime: dr2t(lenM, cfg.MinGate),
		}
		tm.hasGate = true
	}

	if err := tm.checkClosure(); err != nil {
		return nil, err
	}

	return tm, nil
}

func displayName(mpc MPConfig, ch Channel) string {
	if mpc.Name != "" {
		return mpc.Name
	}
	return string(ch)
}

// splitDefFor builds a split from ancestor src over the split kind's nominal
// length lenM, with duration bounds taken from the configured speed limits.
func splitDefFor(tm *TrackModel, src Channel, lenM float64) SplitDef {
	return SplitDef{
		Src:    src,
		LenM:   lenM,
		MinDur: dr2t(lenM, tm.cfg.MaxSpeed),
		MaxDur: dr2t(lenM, tm.cfg.MinSpeed),
	}
}

// checkClosure verifies the sum of immediate sector lengths around the loop
// equals the configured lap length, within floating point tolerance.
func (tm *TrackModel) checkClosure() error {
	var total float64
	for _, ch := range tm.seq {
		sec := tm.secs[[2]int{tm.mpid[ch], tm.mpid[tm.next[ch]]}]
		total += sec.lenM
	}
	const eps = 1e-6
	if d := total - tm.cfg.LapLen; d > eps || d < -eps {
		return fmt.Errorf("track: sector lengths sum to %v, want laplen %v", total, tm.cfg.LapLen)
	}
	return nil
}

// MeasurementPoints returns every configured point, ordered by mpid.
func (tm *TrackModel) MeasurementPoints() []MeasurementPoint {
	out := make([]MeasurementPoint, 0, len(tm.mp))
	for _, mp := range tm.mp {
		out = append(out, mp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mpid < out[j].Mpid })
	return out
}

// Channel returns the channel for a given mpid, or "" if unknown.
func (tm *TrackModel) Channel(mpid int) Channel {
	for ch, id := range tm.mpid {
		if id == mpid {
			return ch
		}
	}
	return ""
}

// Mpid returns the numeric id for ch, or 0 if unconfigured.
func (tm *TrackModel) Mpid(ch Channel) int {
	return tm.mpid[ch]
}

// Configured reports whether ch is an enabled measurement point.
func (tm *TrackModel) Configured(ch Channel) bool {
	_, ok := tm.mpid[ch]
	return ok
}

// Next returns the next channel around the loop after ch.
func (tm *TrackModel) Next(ch Channel) Channel { return tm.next[ch] }

// Prev returns the channel immediately preceding ch around the loop.
func (tm *TrackModel) Prev(ch Channel) Channel { return tm.prev[ch] }

// Sector returns the bounds for the sector from one channel to another.
func (tm *TrackModel) Sector(from, to Channel) (lenM float64, mintime, maxtime tod.Tod, ok bool) {
	s, ok := tm.secs[[2]int{tm.mpid[from], tm.mpid[to]}]
	if !ok {
		return 0, tod.Zero, tod.Zero, false
	}
	return s.lenM, s.mintime, s.maxtime, true
}

// Splits returns the split definitions configured for ch.
func (tm *TrackModel) Splits(ch Channel) map[SplitKind]SplitDef {
	return tm.splits[ch]
}

// GateSector returns the entrance sector from the configured start gate to
// the next measurement point, if a gate source is configured.
func (tm *TrackModel) GateSector() (src, next Channel, lenM float64, mintime, maxtime tod.Tod, ok bool) {
	if !tm.hasGate {
		return "", "", 0, tod.Zero, tod.Zero, false
	}
	return tm.gateSrc, tm.gateNext, tm.gateSec.lenM, tm.gateSec.mintime, tm.gateSec.maxtime, true
}

// MinSpeed returns the configured minimum legal sector speed in km/h.
func (tm *TrackModel) MinSpeed() float64 { return tm.cfg.MinSpeed }

// MaxSpeed returns the configured maximum legal sector speed in km/h.
func (tm *TrackModel) MaxSpeed() float64 { return tm.cfg.MaxSpeed }

// LapLen returns the configured lap length in metres.
func (tm *TrackModel) LapLen() float64 { return tm.cfg.LapLen }

// GateDelay returns the configured start-gate trigger correction.
func (tm *TrackModel) GateDelay() tod.Tod { return tm.cfg.GateDelay }
