// Package monitor re-evaluates watched wallets on a fixed interval and
// pushes fresh high-severity findings onto a bounded alert queue.
//
// Mechanics per tick:
//  1. Snapshot the watch set and dispatch one check per wallet, at most
//     MaxConcurrent in flight.
//  2. Each check runs the full funding analysis under a per-wallet
//     timeout. A check that overruns is abandoned and logged; the next
//     tick retries it.
//  3. Findings clearing the alert severity floor are deduplicated by
//     (wallet, patternType, chainSignature) so a standing pattern
//     alerts once, then again only when its evidence changes shape.
//  4. Alerts are enqueued without blocking. A full queue drops the
//     alert and counts the drop; the dedup entry is not recorded, so
//     the next sweep retries delivery.
//
// One delivery goroutine drains the queue into the alert manager. On
// shutdown the monitor stops ticking, gives in-flight checks a bounded
// grace period, then closes and drains the queue.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/rawblock/fundflow-engine/internal/alert"
	"github.com/rawblock/fundflow-engine/internal/config"
	"github.com/rawblock/fundflow-engine/internal/graph"
	"github.com/rawblock/fundflow-engine/internal/telemetry"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Analyzer produces a funding analysis for one wallet. Satisfied by the
// analysis engine.
type Analyzer interface {
	AnalyzeFundingSources(ctx context.Context, wallet string, maxDepth int) (models.FundingAnalysis, error)
}

type alertKey struct {
	wallet    string
	pattern   models.PatternType
	signature string
}

// SweepSummary describes one completed pass over the watch set. Alerted
// counts wallets whose check enqueued at least one new alert.
type SweepSummary struct {
	Wallets    int       `json:"wallets"`
	Alerted    int       `json:"alerted"`
	ElapsedMs  int64     `json:"elapsedMs"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Monitor owns the watch set sweep loop and the alert queue.
type Monitor struct {
	cfg      config.MonitorConfig
	analyzer Analyzer
	watch    *WatchSet
	alerts   *alert.Manager
	shadow   *ShadowRunner
	onSweep  func(SweepSummary)

	queue  chan alert.Alert
	seenMu sync.Mutex
	seen   map[alertKey]struct{}
}

// NewMonitor wires a monitor. shadow may be nil to disable side-by-side
// threshold evaluation.
func NewMonitor(cfg config.MonitorConfig, analyzer Analyzer, watch *WatchSet, alerts *alert.Manager, shadow *ShadowRunner) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.WalletTimeout <= 0 {
		cfg.WalletTimeout = 10 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	return &Monitor{
		cfg:      cfg,
		analyzer: analyzer,
		watch:    watch,
		alerts:   alerts,
		shadow:   shadow,
		queue:    make(chan alert.Alert, cfg.QueueSize),
		seen:     make(map[alertKey]struct{}),
	}
}

// OnSweep registers a callback invoked after each completed sweep, e.g.
// to mirror summaries onto a live stream. Call before Run; the field is
// read without a lock once the loop starts.
func (m *Monitor) OnSweep(fn func(SweepSummary)) {
	m.onSweep = fn
}

// Watch adds a wallet to the watch set.
func (m *Monitor) Watch(wallet, label string) error {
	return m.watch.Add(wallet, label)
}

// Unwatch removes a wallet and clears its alert dedup state, so a
// re-added wallet alerts fresh.
func (m *Monitor) Unwatch(wallet string) {
	m.watch.Remove(wallet)

	normalized := graph.Normalize(wallet)
	m.seenMu.Lock()
	for key := range m.seen {
		if key.wallet == normalized {
			delete(m.seen, key)
		}
	}
	m.seenMu.Unlock()
}

// Watchlist returns the current monitoring entries.
func (m *Monitor) Watchlist() []WatchedWallet {
	return m.watch.List()
}

// Run drives the sweep loop until ctx is cancelled, then drains the
// alert queue and returns.
func (m *Monitor) Run(ctx context.Context) {
	workCtx, workCancel := context.WithCancel(context.Background())
	defer workCancel()

	// In-flight checks run under workCtx, not ctx, so cancellation
	// grants them ShutdownTimeout to finish before the hard cut.
	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
			return
		}
		timer := time.NewTimer(m.cfg.ShutdownTimeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			workCancel()
		case <-stopped:
		}
	}()

	consumerDone := make(chan struct{})
	go m.consume(consumerDone)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	log.Info().Dur("interval", m.cfg.Interval).Msg("monitor started")

	for {
		select {
		case <-ctx.Done():
			close(stopped)
			close(m.queue)
			<-consumerDone
			log.Info().Msg("monitor stopped")
			return
		case <-ticker.C:
			m.sweep(workCtx)
		}
	}
}

func (m *Monitor) consume(done chan struct{}) {
	defer close(done)
	for a := range m.queue {
		m.alerts.Emit(a)
		telemetry.AlertQueueDepth.Set(float64(len(m.queue)))
	}
}

// sweep runs one full pass over the watch set. It returns only after
// every dispatched check has completed or been abandoned.
func (m *Monitor) sweep(ctx context.Context) {
	wallets := m.watch.Wallets()
	if len(wallets) == 0 {
		return
	}
	started := time.Now()

	var alerted atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(m.cfg.MaxConcurrent)
	for _, wallet := range wallets {
		g.Go(func() error {
			if m.checkWallet(ctx, wallet) {
				alerted.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	elapsed := time.Since(started)
	telemetry.SweepDuration.Observe(elapsed.Seconds())
	log.Debug().Int("wallets", len(wallets)).Dur("elapsed", elapsed).Msg("sweep complete")

	if m.onSweep != nil {
		m.onSweep(SweepSummary{
			Wallets:    len(wallets),
			Alerted:    int(alerted.Load()),
			ElapsedMs:  elapsed.Milliseconds(),
			FinishedAt: time.Now().UTC(),
		})
	}
}

// checkWallet reports whether the check enqueued at least one new alert.
func (m *Monitor) checkWallet(ctx context.Context, wallet string) bool {
	gen, ok := m.watch.beginCheck(wallet)
	if !ok {
		log.Debug().Str("wallet", wallet).Msg("previous check still in flight, skipping")
		return false
	}

	checkCtx, cancel := context.WithTimeout(ctx, m.cfg.WalletTimeout)
	defer cancel()

	type outcome struct {
		analysis models.FundingAnalysis
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		analysis, err := m.analyzer.AnalyzeFundingSources(checkCtx, wallet, 0)
		done <- outcome{analysis: analysis, err: err}
	}()

	select {
	case <-checkCtx.Done():
		if m.watch.abandonCheck(wallet, gen) {
			telemetry.ChecksAbandoned.Inc()
			log.Warn().Str("wallet", wallet).Dur("timeout", m.cfg.WalletTimeout).
				Msg("wallet check abandoned, will retry next tick")
		}
		return false
	case out := <-done:
		if out.err != nil {
			m.watch.finishCheck(wallet, gen, false, 0, "")
			log.Warn().Str("wallet", wallet).Err(out.err).Msg("wallet check failed")
			return false
		}
		alerted := m.raiseAlerts(out.analysis)
		m.watch.finishCheck(wallet, gen, alerted, out.analysis.Risk.OverallScore, out.analysis.Risk.Level)
		if m.shadow != nil {
			m.shadow.Compare(checkCtx, wallet, out.analysis.Chains, out.analysis.Findings)
		}
		return alerted
	}
}

// raiseAlerts enqueues alerts for findings not yet alerted under their
// (wallet, pattern, signature) key. Reports whether anything new fired.
func (m *Monitor) raiseAlerts(analysis models.FundingAnalysis) bool {
	raised := false
	for _, f := range analysis.Findings {
		a, ok := m.alerts.FromFinding(f)
		if !ok {
			continue
		}
		key := alertKey{wallet: f.Wallet, pattern: f.PatternType, signature: f.ChainSignature}
		m.seenMu.Lock()
		_, dup := m.seen[key]
		m.seenMu.Unlock()
		if dup {
			continue
		}

		select {
		case m.queue <- a:
			m.seenMu.Lock()
			m.seen[key] = struct{}{}
			m.seenMu.Unlock()
			telemetry.AlertQueueDepth.Set(float64(len(m.queue)))
			raised = true
		default:
			telemetry.AlertsDropped.Inc()
			log.Warn().Str("wallet", f.Wallet).Str("pattern", string(f.PatternType)).
				Msg("alert queue full, dropping alert")
		}
	}
	return raised
}
