// Package telemetry owns process-wide observability: the global zerolog
// configuration and the prometheus instruments shared across subsystems.
package telemetry

import (
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging configures the global logger. Development gets a console
// writer; anything else emits JSON lines.
func SetupLogging(level, environment string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if environment == "development" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "fundflow-engine").Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "fundflow-engine").Logger()
	}
}

// Graph ingest metrics
var (
	EventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fundflow",
		Subsystem: "graph",
		Name:      "events_ingested_total",
		Help:      "Funding events accepted into the graph",
	})

	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fundflow",
		Subsystem: "graph",
		Name:      "events_rejected_total",
		Help:      "Funding events rejected at ingest",
	}, []string{"reason"}) // "invalid_address", "below_minimum", "duplicate"

	GraphWallets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fundflow",
		Subsystem: "graph",
		Name:      "wallets",
		Help:      "Distinct wallets present in the graph",
	})

	GraphEdges = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fundflow",
		Subsystem: "graph",
		Name:      "edges",
		Help:      "Directed edges present in the graph",
	})
)

// Ingest stream metrics. The estimates come from the stream collector's
// sketches, refreshed on a sampling cadence rather than per event.
var (
	StreamUniqueWallets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fundflow",
		Subsystem: "stream",
		Name:      "unique_wallets_estimate",
		Help:      "Approximate distinct wallets observed on the ingest stream",
	})

	StreamUniqueEdges = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fundflow",
		Subsystem: "stream",
		Name:      "unique_edges_estimate",
		Help:      "Approximate distinct (source, target) pairs observed on the ingest stream",
	})
)

// Analysis metrics
var (
	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fundflow",
		Subsystem: "analysis",
		Name:      "duration_seconds",
		Help:      "Full funding analysis latency",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	})

	DetectorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fundflow",
		Subsystem: "analysis",
		Name:      "detector_errors_total",
		Help:      "Detector invocations that returned an error",
	}, []string{"pattern"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fundflow",
		Subsystem: "analysis",
		Name:      "cache_requests_total",
		Help:      "Analysis cache lookups",
	}, []string{"outcome"}) // "hit", "miss", "refresh", "bypass", "error"
)

// Monitor and alert metrics
var (
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fundflow",
		Subsystem: "monitor",
		Name:      "sweep_duration_seconds",
		Help:      "Wall time of one full watchlist sweep",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	ChecksAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fundflow",
		Subsystem: "monitor",
		Name:      "checks_abandoned_total",
		Help:      "Wallet checks abandoned on per-wallet timeout",
	})

	WatchlistSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fundflow",
		Subsystem: "monitor",
		Name:      "watchlist_size",
		Help:      "Wallets currently monitored",
	})

	AlertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fundflow",
		Subsystem: "alerts",
		Name:      "emitted_total",
		Help:      "Alerts pushed onto the queue",
	}, []string{"severity"})

	AlertsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fundflow",
		Subsystem: "alerts",
		Name:      "dropped_total",
		Help:      "Alerts dropped because the queue was full",
	})

	AlertQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fundflow",
		Subsystem: "alerts",
		Name:      "queue_depth",
		Help:      "Alerts waiting in the delivery queue",
	})
)
