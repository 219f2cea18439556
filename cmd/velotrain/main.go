// Command velotrain runs the realtime transponder timing filter: it reads
// the track topology from a JSON file, wires the broker, session cache,
// archive, raw-log, and UDP listener into a core.Core, and blocks until a
// shutdown signal arrives.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/signalsfoundry/velotrain/internal/archive"
	"github.com/signalsfoundry/velotrain/internal/broker"
	"github.com/signalsfoundry/velotrain/internal/clock"
	"github.com/signalsfoundry/velotrain/internal/config"
	"github.com/signalsfoundry/velotrain/internal/core"
	"github.com/signalsfoundry/velotrain/internal/intake"
	"github.com/signalsfoundry/velotrain/internal/rawlog"
	"github.com/signalsfoundry/velotrain/internal/sessioncache"
	"github.com/signalsfoundry/velotrain/internal/tod"
	"github.com/signalsfoundry/velotrain/internal/track"
	"github.com/signalsfoundry/velotrain/internal/transport/udp"
	"github.com/signalsfoundry/velotrain/internal/types"
)

// topologyFile is the on-disk shape of the track and operational
// configuration. Parsing this file is this binary's concern, not the
// track package's: track.Config is a plain Go value any caller can build
// however it likes.
type topologyFile struct {
	LapLen    float64                   `json:"laplen"`
	MPSeq     []string                `json:"mpseq"`
	MPs       map[string]mpConfigFile `json:"mps"`
	MinSpeed  float64                 `json:"minspeed"`
	MaxSpeed  float64                 `json:"maxspeed"`
	MinGate   float64                 `json:"mingate"`
	MaxGate   float64                 `json:"maxgate"`
	GateSrc   string                  `json:"gatesrc"`
	GateDelay float64                 `json:"gatedelay"`
	Sync      string                  `json:"sync"`
	Trig      string                  `json:"trig"`
	Gate      string                  `json:"gate"`
	Moto      []string                `json:"moto"`
	UTCOffset float64                 `json:"utcoffset"`
	Peers     map[string]string       `json:"peers"` // UDP peer addr -> channel
}

type mpConfigFile struct {
	Name    string  `json:"name"`
	OffsetM float64 `json:"offsetm"`
	Half    string  `json:"half"`
	Qtr     string  `json:"qtr"`
	M200    string  `json:"200"`
	M100    string  `json:"100"`
	M50     string  `json:"50"`
}

func loadTopology(path string) (*topologyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology file: %w", err)
	}
	var tf topologyFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse topology file: %w", err)
	}
	return &tf, nil
}

func (tf *topologyFile) trackConfig() track.Config {
	mpseq := make([]track.Channel, len(tf.MPSeq))
	for i, ch := range tf.MPSeq {
		mpseq[i] = track.Channel(ch)
	}
	mps := make(map[track.Channel]track.MPConfig, len(tf.MPs))
	for ch, m := range tf.MPs {
		mps[track.Channel(ch)] = track.MPConfig{
			Name:    m.Name,
			OffsetM: m.OffsetM,
			Half:    track.Channel(m.Half),
			Qtr:     track.Channel(m.Qtr),
			M200:    track.Channel(m.M200),
			M100:    track.Channel(m.M100),
			M50:     track.Channel(m.M50),
		}
	}
	return track.Config{
		LapLen:    tf.LapLen,
		MPSeq:     mpseq,
		MPs:       mps,
		MinSpeed:  tf.MinSpeed,
		MaxSpeed:  tf.MaxSpeed,
		MinGate:   tf.MinGate,
		MaxGate:   tf.MaxGate,
		GateSrc:   track.Channel(tf.GateSrc),
		GateDelay: tod.FromFloatSeconds(tf.GateDelay),
	}
}

func main() {
	topoPath := flag.String("topology", "./topology.json", "path to the track topology JSON file")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := run(*topoPath, log); err != nil {
		log.Error("velotrain: fatal", "error", err)
		os.Exit(1)
	}
}

func run(topoPath string, log *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	tf, err := loadTopology(topoPath)
	if err != nil {
		return fmt.Errorf("load topology: %w", err)
	}

	tm, err := track.New(tf.trackConfig())
	if err != nil {
		return fmt.Errorf("build track model: %w", err)
	}

	brokerClient, err := broker.New(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer brokerClient.Close()

	cacheClient, err := sessioncache.New(cfg.RedisAddr, log)
	if err != nil {
		return fmt.Errorf("connect session cache: %w", err)
	}
	defer cacheClient.Close()

	archiveClient, err := archive.New(cfg.ArchiveDSN)
	if err != nil {
		return fmt.Errorf("connect archive: %w", err)
	}
	defer archiveClient.Close()

	rawlogger, err := rawlog.New(cfg.RawlogDir)
	if err != nil {
		return fmt.Errorf("open rawlog: %w", err)
	}
	defer rawlogger.Close()

	clk := clock.System
	c := core.New(tm, clk, brokerClient, cacheClient, archiveClient,
		cfg.AuthKey, tf.Sync, tf.Trig, tf.Gate, tf.Moto, tod.FromFloatSeconds(tf.UTCOffset), log)
	c.SetRawlogWriter(func(rp types.RawPassing) error { return rawlogger.Write(rp) })

	resolver := buildResolver(tf.Peers)
	listener, err := udp.New(cfg.UDPAddr, resolver, log)
	if err != nil {
		return fmt.Errorf("bind udp listener: %w", err)
	}
	listener.Start()
	defer listener.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case dg, ok := <-listener.Messages():
				if !ok {
					return
				}
				forwardDatagram(ctx, dg, clk, c, log)
			}
		}
	}()

	if err := brokerClient.SubscribeMarker(func(text string) {
		select {
		case c.Markers() <- text:
		case <-ctx.Done():
		}
	}); err != nil {
		return fmt.Errorf("subscribe marker: %w", err)
	}
	if err := brokerClient.SubscribeReset(func(key string) {
		select {
		case c.Resets() <- key:
		case <-ctx.Done():
		}
	}); err != nil {
		return fmt.Errorf("subscribe reset: %w", err)
	}
	if err := brokerClient.SubscribeResetUnit(func(channel string) {
		select {
		case c.ResetUnits() <- channel:
		case <-ctx.Done():
		}
	}); err != nil {
		return fmt.Errorf("subscribe resetunit: %w", err)
	}
	if err := brokerClient.SubscribeTimer(func(line string) {
		ev, err := intake.ParseTimerMessage(line, clk)
		if err != nil {
			log.Warn("velotrain: malformed timer message", "error", err)
			return
		}
		select {
		case c.RawEvents() <- ev:
		case <-ctx.Done():
		}
	}); err != nil {
		return fmt.Errorf("subscribe timer: %w", err)
	}
	if err := brokerClient.SubscribeRequest(func(payload []byte, replySubject string) {
		var filter types.ReplayFilter
		if err := json.Unmarshal(payload, &filter); err != nil {
			log.Warn("velotrain: malformed replay request", "error", err)
			return
		}
		select {
		case c.Requests() <- core.ReplayRequest{Filter: filter, ReplySubject: replySubject}:
		case <-ctx.Done():
		}
	}); err != nil {
		return fmt.Errorf("subscribe request: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx, nil) }()

	var runErr error
	select {
	case <-sigCh:
		log.Info("velotrain: shutting down")
		cancel()
	case runErr = <-errCh:
		cancel()
	}

	wg.Wait()
	c.PublishOfflineStatus()
	if runErr != nil {
		return fmt.Errorf("core run: %w", runErr)
	}
	return nil
}

// buildResolver turns the topology's declared UDP peer addresses into a
// udp.Resolver keyed on host, since decoder units send from a fixed source
// port but an arbitrary ephemeral one on replies.
func buildResolver(peers map[string]string) udp.Resolver {
	byHost := make(map[string]string, len(peers))
	for addr, channel := range peers {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		byHost[host] = channel
	}
	return func(addr net.Addr) (string, bool) {
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			host = addr.String()
		}
		channel, ok := byHost[host]
		return channel, ok
	}
}

// forwardDatagram parses one UDP payload as a timer-style passing line and
// forwards it as a RawEvent. Decoder units on the timing LAN are assumed to
// speak the same INDEX;SOURCE;CHANNEL;REFID;TOD text format as the
// control-plane /timer subject.
func forwardDatagram(ctx context.Context, dg udp.Datagram, clk clock.Clock, c *core.Core, log *slog.Logger) {
	line := strings.TrimSpace(string(dg.Payload))
	if line == "" {
		return
	}
	ev, err := intake.ParseTimerMessage(line, clk)
	if err != nil {
		log.Warn("velotrain: malformed udp datagram", "channel", dg.Channel, "error", err)
		return
	}
	ev.Channel = dg.Channel
	select {
	case c.RawEvents() <- ev:
	case <-ctx.Done():
	}
}
