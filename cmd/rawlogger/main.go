// Command rawlogger is a standalone consumer of the rawpass stream: it
// subscribes a durable JetStream consumer and appends every raw passing to
// the gzip-rotated daily log, independent of the core timing process.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/signalsfoundry/velotrain/internal/broker"
	"github.com/signalsfoundry/velotrain/internal/config"
	"github.com/signalsfoundry/velotrain/internal/rawlog"
	"github.com/signalsfoundry/velotrain/internal/types"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if err := run(log); err != nil {
		log.Error("rawlogger: fatal", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := rawlog.New(cfg.RawlogDir)
	if err != nil {
		return fmt.Errorf("open rawlog: %w", err)
	}
	defer logger.Close()

	brokerClient, err := broker.New(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer brokerClient.Close()

	if err := brokerClient.SubscribeRawpass("rawlogger", func(rec types.RawPassing) {
		if err := logger.Write(rec); err != nil {
			log.Warn("rawlogger: write failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("subscribe rawpass: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("rawlogger: shutting down")
	return nil
}
