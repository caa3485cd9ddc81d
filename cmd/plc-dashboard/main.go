package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/plc-dashboard/db"
	"github.com/thatsimonsguy/plc-dashboard/internal/api"
	"github.com/thatsimonsguy/plc-dashboard/internal/config"
	"github.com/thatsimonsguy/plc-dashboard/internal/configstore"
	"github.com/thatsimonsguy/plc-dashboard/internal/datadog"
	"github.com/thatsimonsguy/plc-dashboard/internal/logging"
	"github.com/thatsimonsguy/plc-dashboard/internal/plc"
	"github.com/thatsimonsguy/plc-dashboard/internal/poller"
	"github.com/thatsimonsguy/plc-dashboard/system/shutdown"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFile)

	log.Info().
		Str("document", cfg.Document).
		Str("backend", cfg.Backend).
		Str("driver", cfg.PLC.Driver).
		Msg("Starting PLC dashboard")

	seq := shutdown.New()

	metrics := datadog.New(cfg.Datadog)
	seq.Add("metrics", func(context.Context) error { return metrics.Close() })

	backend, closeBackend, err := db.OpenConfigBackend(cfg.Backend, cfg.Document)
	if err != nil {
		shutdown.ShutdownWithError(seq, err, "Failed to open configuration backend")
		return
	}
	seq.Add("backend", func(context.Context) error { return closeBackend() })

	store := configstore.New(backend)
	if err := store.Load(); err != nil {
		shutdown.ShutdownWithError(seq, err, "Failed to load configuration")
		return
	}

	dial, err := plc.NewDialer(cfg.PLC.Driver, cfg.PLC.ModbusPort, cfg.PLC.DialTimeout)
	if err != nil {
		shutdown.ShutdownWithError(seq, err, "Failed to set up PLC driver")
		return
	}
	client := plc.NewClient(dial)

	sched := poller.New(store, client, poller.WithMetrics(metrics))
	seq.Add("scheduler", func(context.Context) error {
		sched.Close()
		return nil
	})
	if err := sched.Start(context.Background()); err != nil {
		shutdown.ShutdownWithError(seq, err, "Failed to start polling scheduler")
		return
	}

	server := api.NewServer(store, sched)
	seq.Add("api", server.Shutdown)
	go func() {
		if err := server.Start(cfg.Listen); err != nil {
			shutdown.ShutdownWithError(seq, err, "API server failed")
		}
	}()

	shutdown.WaitForSignal(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := seq.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Shutdown finished with errors")
		os.Exit(1)
	}
	log.Info().Msg("PLC dashboard stopped")
}
