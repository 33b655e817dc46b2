// Command engine runs the funding-flow analysis service: graph store,
// Kafka ingest, watchlist monitor and the HTTP API, assembled from one
// configuration. Postgres, Redis, Kafka and the chain RPC are each
// optional; the engine degrades to a memory-only instance when their
// endpoints are left unset.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rawblock/fundflow-engine/internal/alert"
	"github.com/rawblock/fundflow-engine/internal/analysis"
	"github.com/rawblock/fundflow-engine/internal/api"
	"github.com/rawblock/fundflow-engine/internal/cache"
	"github.com/rawblock/fundflow-engine/internal/chain"
	"github.com/rawblock/fundflow-engine/internal/config"
	"github.com/rawblock/fundflow-engine/internal/db"
	"github.com/rawblock/fundflow-engine/internal/graph"
	"github.com/rawblock/fundflow-engine/internal/ingest"
	"github.com/rawblock/fundflow-engine/internal/monitor"
	"github.com/rawblock/fundflow-engine/internal/refdata"
	"github.com/rawblock/fundflow-engine/internal/stats"
	"github.com/rawblock/fundflow-engine/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(1)
	}
	telemetry.SetupLogging(cfg.LogLevel, cfg.Environment)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("engine exited")
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := graph.NewStore(cfg.Graph)
	stream := stats.NewCollector()

	var dbStore *db.PostgresStore
	if cfg.Database.URL != "" {
		var err error
		dbStore, err = db.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer dbStore.Close()

		if err := dbStore.InitSchema(ctx); err != nil {
			return fmt.Errorf("initializing schema: %w", err)
		}
		if _, err := dbStore.ReplayEvents(ctx, store.Replay); err != nil {
			return fmt.Errorf("replaying funding events: %w", err)
		}
		// Attach after replay so reloaded events are not written back.
		store.AttachPersister(dbStore)
	} else {
		log.Warn().Msg("no database configured, running memory-only")
	}

	directory := refdata.NewDirectory()
	if cfg.Refdata.Path != "" {
		if err := directory.LoadFile(cfg.Refdata.Path); err != nil {
			return fmt.Errorf("loading reference directory: %w", err)
		}
		log.Info().Str("path", cfg.Refdata.Path).Int("entries", directory.Size()).Msg("reference directory loaded")
	}

	opts := analysis.Options{
		Trace:      cfg.Trace,
		Thresholds: analysis.ThresholdsFromConfig(cfg.Detectors),
	}

	if cfg.Chain.RPCURL != "" {
		probe, err := chain.Dial(cfg.Chain)
		if err != nil {
			return fmt.Errorf("dialing chain rpc: %w", err)
		}
		defer probe.Close()
		opts.Contracts = probe
	}

	if cfg.Redis.Addr != "" {
		analysisCache, err := cache.New(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer analysisCache.Close()
		opts.Cache = analysisCache
	}

	engine := analysis.NewEngine(store, directory, opts)

	alerts := alert.NewManager(cfg.Alerts)
	if dbStore != nil {
		alerts.AddSink(func(a alert.Alert) {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := dbStore.SaveAlert(sctx, a); err != nil {
				log.Warn().Err(err).Str("alert", a.ID).Msg("persisting alert failed")
			}
		})
	}

	hub := api.NewHub()
	go hub.Run()
	alerts.AddSink(hub.AlertSink())

	if cfg.Kafka.Brokers != "" && cfg.Kafka.AlertsTopic != "" {
		publisher, err := ingest.NewAlertPublisher(cfg.Kafka)
		if err != nil {
			return fmt.Errorf("starting alert publisher: %w", err)
		}
		defer publisher.Close()
		alerts.AddSink(publisher.Publish)
	}

	var shadow *monitor.ShadowRunner
	if cfg.Detectors.ShadowEnabled {
		candidate := monitor.CandidateThresholds(opts.Thresholds, cfg.Detectors.Shadow)
		var sink monitor.ShadowSink
		if dbStore != nil {
			sink = dbStore
		}
		shadow = monitor.NewShadowRunner(store, candidate, sink)
		log.Info().Msg("shadow detector evaluation enabled")
	}

	mon := monitor.NewMonitor(cfg.Monitor, engine, monitor.NewWatchSet(), alerts, shadow)
	mon.OnSweep(hub.SweepSink())

	if dbStore != nil {
		entries, err := dbStore.LoadWatchlist(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("loading watchlist failed, starting empty")
		}
		for _, entry := range entries {
			if err := mon.Watch(entry.Wallet, entry.Label); err != nil {
				log.Warn().Err(err).Str("wallet", entry.Wallet).Msg("restoring watch failed")
			}
		}
		if len(entries) > 0 {
			log.Info().Int("wallets", len(entries)).Msg("watchlist restored")
		}
	}

	monDone := make(chan struct{})
	go func() {
		defer close(monDone)
		mon.Run(ctx)
	}()

	if cfg.Kafka.Brokers != "" {
		consumer, err := ingest.NewConsumer(cfg.Kafka, store, stream)
		if err != nil {
			return fmt.Errorf("starting kafka consumer: %w", err)
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("kafka consumer stopped")
			}
		}()
	}

	handler := api.NewHandler(engine, mon, alerts, stream, dbStore, hub)
	router := api.SetupRouter(cfg.Server, cfg.Environment, handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("environment", cfg.Environment).Msg("engine listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown did not finish cleanly")
	}

	// The monitor drains its alert queue before returning.
	<-monDone
	return nil
}
