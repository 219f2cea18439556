// Package core is the single-threaded cooperative event loop that owns
// decoder sessions, rider histories, and the emission log, wiring raw
// intake through the reorder buffer into the rider tracker and out to the
// broker, session cache, and archive. Small interfaces stand in for every
// external dependency so the loop itself stays testable without a live
// broker or database.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/velotrain/internal/clock"
	"github.com/signalsfoundry/velotrain/internal/control"
	"github.com/signalsfoundry/velotrain/internal/decoder"
	"github.com/signalsfoundry/velotrain/internal/intake"
	"github.com/signalsfoundry/velotrain/internal/moto"
	"github.com/signalsfoundry/velotrain/internal/reorder"
	"github.com/signalsfoundry/velotrain/internal/rider"
	"github.com/signalsfoundry/velotrain/internal/status"
	"github.com/signalsfoundry/velotrain/internal/tod"
	"github.com/signalsfoundry/velotrain/internal/track"
	"github.com/signalsfoundry/velotrain/internal/types"
)

// rawSilenceThreshold is how long the raw input channel may go without an
// event before publishStatus reports info="error".
const rawSilenceThreshold = 30 * time.Second

// Publisher is the broker surface the core needs.
type Publisher interface {
	PublishPassing(types.EmissionRecord) error
	PublishRawpass(types.RawPassing) error
	PublishStatus(types.StatusRecord) error
	PublishReplay(subject string, recs []types.EmissionRecord) error
}

// Cacher is the session-cache surface the core needs.
type Cacher interface {
	PutRider(snap types.RiderSnapshot, ttl time.Duration)
	PutDecoder(snap types.DecoderSnapshot, ttl time.Duration)
	PutStatus(status types.StatusRecord)
}

// Archiver is the stats-archive surface the core needs.
type Archiver interface {
	StoreSessionSummary(resetSeq int, s types.SessionSummary, start, end time.Time) error
}

// RawSource supplies inbound raw events, typically the UDP transport.
type RawSource interface {
	Events() <-chan intake.RawEvent
}

// ReplayRequest is one control-plane /request query awaiting a reply.
type ReplayRequest struct {
	Filter       types.ReplayFilter
	ReplySubject string
}

// Core is the event loop. Construct with New, wire inputs with the
// exported channel accessors, then call Run.
type Core struct {
	tm      *track.TrackModel
	group   *decoder.Group
	rider   *rider.Tracker
	moto    *moto.Tracker
	ctl     *control.Log
	rb      *reorder.Buffer
	in      *intake.Intake
	clk     clock.Clock
	log     *slog.Logger
	mpNames map[track.Channel]string

	pub     Publisher
	cache   Cacher
	archive Archiver

	authkey   string
	trigRefid string
	gateRefid string
	utcOffset tod.Tod

	dailyCount   int
	resetSeq     int
	resetting    bool
	day          string
	startWall    time.Time
	lastGate     tod.Tod
	hasGate      bool
	lastOverflow int
	lastRaw      time.Time

	rawCh       chan intake.RawEvent
	markerCh    chan string
	resetCh     chan string
	resetUnitCh chan string
	requestCh   chan ReplayRequest
}

type sinkAdapter struct {
	pub    Publisher
	rawlog func(types.RawPassing) error
}

func (s sinkAdapter) PublishRawpass(rp types.RawPassing) error {
	return s.pub.PublishRawpass(rp)
}

func (s sinkAdapter) WriteRawlog(rp types.RawPassing) error {
	if s.rawlog == nil {
		return nil
	}
	return s.rawlog(rp)
}

// New assembles a Core. master is the synchronisation master channel;
// trigRefid/gateRefid/motoRefids identify the special system refids.
func New(tm *track.TrackModel, clk clock.Clock, pub Publisher, cache Cacher, archive Archiver,
	authkey, master, trigRefid, gateRefid string, motoRefids []string, utcOffset tod.Tod, log *slog.Logger) *Core {

	if clk == nil {
		clk = clock.System
	}
	if log == nil {
		log = slog.Default()
	}

	mps := tm.MeasurementPoints()
	channels := make([]string, 0, len(mps))
	mpNames := map[track.Channel]string{}
	for _, mp := range mps {
		channels = append(channels, string(mp.Channel))
		mpNames[mp.Channel] = mp.Name
	}

	group := decoder.NewGroup(channels, master, clk)
	rb := reorder.New(reorder.DefaultWindow)

	c := &Core{
		tm:          tm,
		group:       group,
		rider:       rider.New(tm, clk),
		moto:        moto.New(motoRefids),
		ctl:         &control.Log{},
		rb:          rb,
		clk:         clk,
		log:         log,
		mpNames:     mpNames,
		pub:         pub,
		cache:       cache,
		archive:     archive,
		authkey:     authkey,
		trigRefid:   trigRefid,
		gateRefid:   gateRefid,
		utcOffset:   utcOffset,
		day:         clk.Now().UTC().Format("2006-01-02"),
		startWall:   clk.Now(),
		lastRaw:     clk.Now(),
		rawCh:       make(chan intake.RawEvent, 1024),
		markerCh:    make(chan string, 16),
		resetCh:     make(chan string, 4),
		resetUnitCh: make(chan string, 4),
		requestCh:   make(chan ReplayRequest, 16),
	}
	c.in = intake.New(tm, group, clk, rb, sinkAdapter{pub: pub}, trigRefid, gateRefid)
	return c
}

// SetRawlogWriter wires the daily raw log into the intake sink, kept
// separate from New so tests can omit it entirely.
func (c *Core) SetRawlogWriter(write func(types.RawPassing) error) {
	c.in = intake.New(c.tm, c.group, c.clk, c.rb, sinkAdapter{pub: c.pub, rawlog: write}, c.trigRefid, c.gateRefid)
}

// RawEvents returns the channel raw inputs (UDP, control-plane timer) are
// fed on.
func (c *Core) RawEvents() chan<- intake.RawEvent { return c.rawCh }

// Markers returns the channel marker text is fed on.
func (c *Core) Markers() chan<- string { return c.markerCh }

// Resets returns the channel reset authkeys are fed on.
func (c *Core) Resets() chan<- string { return c.resetCh }

// ResetUnits returns the channel unit-reset channel ids are fed on.
func (c *Core) ResetUnits() chan<- string { return c.resetUnitCh }

// Requests returns the channel replay requests are fed on.
func (c *Core) Requests() chan<- ReplayRequest { return c.requestCh }

// Run starts the cooperative event loop and blocks until ctx is cancelled
// or a supporting goroutine returns an error.
func (c *Core) Run(ctx context.Context, source RawSource) error {
	g, ctx := errgroup.WithContext(ctx)

	if source != nil {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-source.Events():
					if !ok {
						return nil
					}
					select {
					case c.rawCh <- ev:
					case <-ctx.Done():
						return nil
					}
				}
			}
		})
	}

	releaseTicker := time.NewTicker(100 * time.Millisecond)
	defer releaseTicker.Stop()
	statusTicker := time.NewTicker(time.Second)
	defer statusTicker.Stop()
	lastStatusMinute := -1

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil

			case ev := <-c.rawCh:
				c.lastRaw = c.clk.Now()
				if immediate := c.in.Process(ev); immediate != nil {
					c.classifyAndEmit(*immediate)
				}

			case text := <-c.markerCh:
				c.emitMarker(text)

			case key := <-c.resetCh:
				if err := c.handleReset(key); err != nil {
					c.log.Warn("core: reset rejected", "error", err)
				}

			case ch := <-c.resetUnitCh:
				if err := c.handleResetUnit(ch); err != nil {
					c.log.Warn("core: resetunit rejected", "error", err)
				}

			case req := <-c.requestCh:
				recs := c.ctl.Replay(req.Filter)
				if err := c.pub.PublishReplay(req.ReplySubject, recs); err != nil {
					c.log.Warn("core: replay publish failed", "error", err)
				}

			case <-releaseTicker.C:
				c.releaseAndClassify()

			case now := <-statusTicker.C:
				minute := now.UTC().Minute()
				if minute != lastStatusMinute {
					lastStatusMinute = minute
					c.publishStatus()
				}
			}
		}
	})

	return g.Wait()
}

// releaseAndClassify drains the reorder buffer up to now, classifies each
// released passing, and publishes the resulting emission records.
func (c *Core) releaseAndClassify() {
	now := tod.Now(c.clk)
	for _, ev := range c.rb.Release(now) {
		c.classifyAndEmit(ev)
	}
	for refid, classifications := range c.rider.CleanQueues() {
		for _, cl := range classifications {
			c.emit(refid, cl, false)
		}
	}
}

func (c *Core) classifyAndEmit(ev reorder.Event) {
	cp, ok := ev.Payload.(intake.CorrectedPassing)
	if !ok {
		return
	}

	if cp.Refid == c.gateRefid {
		c.rider.SetGate(cp.Tod)
		c.lastGate = cp.Tod
		c.hasGate = true
		c.emitGate(cp.Tod)
		return
	}

	isMoto := c.moto.IsMoto(cp.Refid)
	refid := cp.Refid
	if isMoto {
		c.moto.Record(track.Channel(cp.Channel), cp.Tod)
		refid = "moto"
	}

	classifications := c.rider.Enqueue(refid, rider.Passing{
		Channel:    track.Channel(cp.Channel),
		Tod:        cp.Tod,
		OutOfOrder: ev.OutOfOrder,
	})
	for _, cl := range classifications {
		c.emit(refid, cl, ev.OutOfOrder)
	}
}

func (c *Core) emit(refid string, cl rider.Classification, outOfOrder bool) {
	mpid := c.tm.Mpid(cl.Channel)
	rec := types.EmissionRecord{
		Mpid:       mpid,
		Refid:      refid,
		Time:       cl.Tod.Format(2),
		OutOfOrder: outOfOrder,
	}
	rec.Elap = formatPtr(cl.Elap)
	if d, ok := cl.Splits[track.SplitLap]; ok {
		rec.Lap = formatTodPtr(d)
	}
	if d, ok := cl.Splits[track.SplitHalf]; ok {
		rec.Half = formatTodPtr(d)
	}
	if d, ok := cl.Splits[track.SplitQtr]; ok {
		rec.Qtr = formatTodPtr(d)
	}
	if d, ok := cl.Splits[track.Split200]; ok {
		rec.M200 = formatTodPtr(d)
	}
	if d, ok := cl.Splits[track.Split100]; ok {
		rec.M100 = formatTodPtr(d)
	}
	if d, ok := cl.Splits[track.Split50]; ok {
		rec.M50 = formatTodPtr(d)
	}
	if d, ok := c.moto.ProximityAt(cl.Channel, cl.Tod, refid == "moto"); ok {
		rec.Moto = formatTodPtr(d)
	}

	rec = c.ctl.Append(rec)
	c.dailyCount++
	if err := c.pub.PublishPassing(rec); err != nil {
		c.log.Warn("core: publish passing failed", "error", err)
	}
	if c.cache != nil {
		channel, last, runStart, inRun, err := c.rider.Snapshot(refid)
		if err == nil {
			snap := types.RiderSnapshot{
				Refid:    refid,
				InRun:    inRun,
				LastMpid: c.tm.Mpid(channel),
				LastTod:  last.Format(2),
			}
			if inRun {
				snap.RunStartTod = runStart.Format(2)
			}
			c.cache.PutRider(snap, 24*time.Hour)
		}
	}
}

func (c *Core) emitMarker(text string) {
	rec := control.Marker(tod.Now(c.clk), text)
	rec = c.ctl.Append(rec)
	if err := c.pub.PublishPassing(rec); err != nil {
		c.log.Warn("core: publish marker failed", "error", err)
	}
}

// emitGate publishes the synthetic mpid=0 passing record a start-gate
// trigger produces alongside the SetGate bookkeeping, grouping it with
// markers as a synthetic event per the data model.
func (c *Core) emitGate(at tod.Tod) {
	rec := types.EmissionRecord{
		Mpid:  0,
		Refid: "gate",
		Time:  at.Format(2),
		Elap:  formatTodPtr(tod.Zero),
		Text:  "Start Gate",
	}
	rec = c.ctl.Append(rec)
	if err := c.pub.PublishPassing(rec); err != nil {
		c.log.Warn("core: publish gate failed", "error", err)
	}
}

func (c *Core) handleReset(key string) error {
	if !control.Authkey(c.authkey, key) {
		return control.ErrBadKey
	}

	c.resetting = true
	c.publishStatus()

	now := c.clk.Now()
	summary := types.SessionSummary{
		SessionID:    uuid.New().String(),
		Day:          c.day,
		ResetCount:   c.resetSeq + 1,
		TotalEmitted: c.dailyCount,
	}
	for _, ch := range c.group.Channels() {
		sess := c.group.Session(ch)
		summary.FinalNoise = append(summary.FinalNoise, types.DecoderSnapshot{
			Mpid:   c.tm.Mpid(track.Channel(ch)),
			Name:   c.mpNames[track.Channel(ch)],
			State:  string(sess.State()),
			Offset: sess.Offset().Seconds(),
			Noise:  sess.Noise(),
		})
	}

	if c.archive != nil {
		if err := c.archive.StoreSessionSummary(c.resetSeq, summary, c.startWall, now); err != nil {
			c.log.Warn("core: archive session summary failed", "error", err)
		}
	}

	c.rider.ResetAll()
	c.moto.Reset()
	c.ctl.Clear()
	c.group.ResetAll()
	c.rb.Drain()
	c.lastOverflow = 0
	c.lastGate = tod.Zero
	c.hasGate = false
	c.resetSeq++
	c.dailyCount = 0
	c.day = now.UTC().Format("2006-01-02")
	c.startWall = now

	c.resetting = false
	c.publishStatus()
	return nil
}

func (c *Core) handleResetUnit(ch string) error {
	if ch == c.group.Master().Channel() {
		return control.ErrMasterChannel
	}
	sess := c.group.Session(ch)
	if sess == nil {
		return fmt.Errorf("core: unknown channel %q", ch)
	}
	sess.ResetUnit()
	c.rb.DropChannel(func(p interface{}) bool {
		cp, ok := p.(intake.CorrectedPassing)
		return ok && cp.Channel == ch
	})
	return nil
}

func (c *Core) publishStatus() {
	var lowBattery []string
	var sessions []status.SessionSource
	for _, ch := range c.group.Channels() {
		sess := c.group.Session(ch)
		lowBattery = append(lowBattery, sess.LowBattery()...)
		sessions = append(sessions, status.SessionSource{
			Mpid:   c.tm.Mpid(track.Channel(ch)),
			Name:   c.mpNames[track.Channel(ch)],
			State:  string(sess.State()),
			Offset: sess.Offset().Seconds(),
			Noise:  sess.Noise(),
		})
	}

	info := status.InfoRunning
	if overflow := c.rb.Overflowed(); overflow > c.lastOverflow {
		c.lastOverflow = overflow
		c.log.Warn("core: reorder buffer overflow", "dropped", overflow)
		info = status.InfoError
	} else if silence := c.clk.Now().Sub(c.lastRaw); silence > rawSilenceThreshold {
		c.log.Warn("core: raw input channel silent", "silence", silence)
		info = status.InfoError
	} else if c.resetting {
		info = status.InfoResetting
	}
	rec := status.Build(tod.Now(c.clk), c.utcOffset, c.dailyCount, c.lastGate, c.hasGate, lowBattery, sessions, info)

	if err := c.pub.PublishStatus(rec); err != nil {
		c.log.Warn("core: publish status failed", "error", err)
	}
	if c.cache != nil {
		c.cache.PutStatus(rec)
	}
}

// PublishOfflineStatus publishes a final status record marked offline. Call
// once during graceful shutdown, after the event loop has stopped.
func (c *Core) PublishOfflineStatus() {
	var sessions []status.SessionSource
	for _, ch := range c.group.Channels() {
		sess := c.group.Session(ch)
		sessions = append(sessions, status.SessionSource{
			Mpid:   c.tm.Mpid(track.Channel(ch)),
			Name:   c.mpNames[track.Channel(ch)],
			State:  string(sess.State()),
			Offset: sess.Offset().Seconds(),
			Noise:  sess.Noise(),
		})
	}
	rec := status.Build(tod.Now(c.clk), c.utcOffset, c.dailyCount, c.lastGate, c.hasGate, nil, sessions, status.InfoOffline)
	if err := c.pub.PublishStatus(rec); err != nil {
		c.log.Warn("core: publish offline status failed", "error", err)
	}
	if c.cache != nil {
		c.cache.PutStatus(rec)
	}
}

func formatPtr(t *tod.Tod) *string {
	if t == nil {
		return nil
	}
	return formatTodPtr(*t)
}

func formatTodPtr(t tod.Tod) *string {
	s := t.Format(2)
	return &s
}
