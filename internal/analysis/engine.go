package analysis

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rawblock/fundflow-engine/internal/config"
	"github.com/rawblock/fundflow-engine/internal/graph"
	"github.com/rawblock/fundflow-engine/internal/refdata"
	"github.com/rawblock/fundflow-engine/internal/telemetry"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Engine is the analysis facade: one call traces a wallet's funding,
// classifies and scores the origins, sweeps the pattern detectors and
// blends the aggregate risk verdict. It owns no goroutines and keeps
// no per-wallet state; every result is derived from the store at call
// time, which is what makes cached results safe to key by graph
// version.
type Engine struct {
	store      *graph.Store
	tracer     *Tracer
	classifier *Classifier
	scorer     *Scorer
	topology   *TopologyAnalyzer
	thresholds Thresholds
	cache      AnalysisCache
}

// AnalysisCache stores completed analyses keyed by (wallet, graph
// version). Implementations must treat entries as immutable.
type AnalysisCache interface {
	GetAnalysis(ctx context.Context, wallet string, version uint64) (*models.FundingAnalysis, bool)
	PutAnalysis(ctx context.Context, analysis models.FundingAnalysis)
}

// Options carries the injected collaborators and tuning for an Engine.
// Contracts and Cache may be nil: classification falls back to the
// reference directory's contract list, and caching is skipped.
type Options struct {
	Trace      config.TraceConfig
	Thresholds Thresholds
	Contracts  ContractChecker
	Cache      AnalysisCache
}

// NewEngine wires the analysis pipeline around one graph store.
func NewEngine(store *graph.Store, directory *refdata.Directory, opts Options) *Engine {
	classifier := NewClassifier(store, directory, opts.Contracts)
	return &Engine{
		store:      store,
		tracer:     NewTracer(store, opts.Trace.MaxDepth, opts.Trace.MaxChains),
		classifier: classifier,
		scorer:     NewScorer(store, classifier),
		topology:   NewTopologyAnalyzer(store),
		thresholds: opts.Thresholds,
		cache:      opts.Cache,
	}
}

// Store exposes the underlying graph for ingestion wiring.
func (e *Engine) Store() *graph.Store { return e.store }

// AnalyzeFundingSources runs the full trace-classify-detect-score pass
// for one wallet. A wallet with no funding history yields an empty
// analysis with a low risk verdict, not an error.
func (e *Engine) AnalyzeFundingSources(ctx context.Context, wallet string, maxDepth int) (models.FundingAnalysis, error) {
	return e.analyze(ctx, wallet, maxDepth, false)
}

// RefreshFundingSources recomputes the analysis even when a cached copy
// exists, and stores the fresh result. Cache keys carry the graph
// version, but a reference-data reload changes classifications without
// advancing it; refresh is the remedy when cached verdicts lag a reload.
func (e *Engine) RefreshFundingSources(ctx context.Context, wallet string, maxDepth int) (models.FundingAnalysis, error) {
	return e.analyze(ctx, wallet, maxDepth, true)
}

func (e *Engine) analyze(ctx context.Context, wallet string, maxDepth int, refresh bool) (models.FundingAnalysis, error) {
	started := time.Now()
	if err := graph.ValidateWallet(wallet); err != nil {
		return models.FundingAnalysis{}, err
	}
	wallet = graph.Normalize(wallet)
	version := e.store.Version()

	switch {
	case e.cache == nil:
		telemetry.CacheHits.WithLabelValues("bypass").Inc()
	case refresh:
		telemetry.CacheHits.WithLabelValues("refresh").Inc()
	default:
		if cached, ok := e.cache.GetAnalysis(ctx, wallet, version); ok {
			telemetry.CacheHits.WithLabelValues("hit").Inc()
			cached.Cached = true
			return *cached, nil
		}
		telemetry.CacheHits.WithLabelValues("miss").Inc()
	}

	analysis := models.FundingAnalysis{
		Wallet:       wallet,
		MaxDepth:     maxDepth,
		GraphVersion: version,
		AnalyzedAt:   started.UTC(),
	}

	if !e.store.HasWallet(wallet) {
		analysis.Risk = AssessFundingRisk(nil, nil, nil)
		analysis.ElapsedMs = time.Since(started).Milliseconds()
		return analysis, nil
	}

	trace := e.tracer.TraceChains(wallet, maxDepth, 0)
	analysis.Chains = trace.Chains
	analysis.Truncated = trace.Truncated
	if err := ctx.Err(); err != nil {
		return analysis, err
	}

	input := DetectorInput{
		Wallet:       wallet,
		Chains:       trace.Chains,
		Incoming:     e.store.InEdges(wallet),
		Graph:        e.store,
		GraphVersion: version,
	}
	analysis.Findings, analysis.DetectorErrors = RunDetectors(input, e.thresholds)
	if err := ctx.Err(); err != nil {
		return analysis, err
	}

	analysis.Sources = e.scorer.ProfileSources(trace.Chains)
	analysis.Risk = AssessFundingRisk(trace.Chains, analysis.Sources, analysis.Findings)
	analysis.ElapsedMs = time.Since(started).Milliseconds()

	telemetry.AnalysisDuration.Observe(time.Since(started).Seconds())
	log.Debug().Str("wallet", wallet).Int("chains", len(analysis.Chains)).
		Int("findings", len(analysis.Findings)).Float64("risk", analysis.Risk.OverallScore).
		Bool("truncated", analysis.Truncated).Msg("funding analysis complete")

	if e.cache != nil {
		e.cache.PutAnalysis(ctx, analysis)
	}
	return analysis, nil
}

// DetectCircular scans one wallet for funding cycles, or sweeps every
// known wallet when the wallet argument is empty. The batch form is
// meant for offline jobs; interactive callers pass a wallet.
func (e *Engine) DetectCircular(ctx context.Context, wallet string) ([]models.Finding, error) {
	if wallet != "" {
		if err := graph.ValidateWallet(wallet); err != nil {
			return nil, err
		}
		return e.circularFor(graph.Normalize(wallet)), nil
	}

	wallets := e.store.Wallets()
	sort.Strings(wallets)
	var findings []models.Finding
	for _, w := range wallets {
		if err := ctx.Err(); err != nil {
			return findings, err
		}
		findings = append(findings, e.circularFor(w)...)
	}
	return findings, nil
}

func (e *Engine) circularFor(wallet string) []models.Finding {
	version := e.store.Version()
	finding, err := runIsolated(models.PatternCircularFunding, func() (*models.Finding, error) {
		return DetectCircularFunding(DetectorInput{
			Wallet:       wallet,
			Graph:        e.store,
			GraphVersion: version,
		}, e.thresholds.Circular)
	})
	if err != nil {
		telemetry.DetectorErrors.WithLabelValues(string(models.PatternCircularFunding)).Inc()
		log.Warn().Str("wallet", wallet).Err(err).Msg("circular scan failed")
		return nil
	}
	if finding == nil {
		return nil
	}
	finding.ID = uuid.NewString()
	finding.Wallet = wallet
	finding.GraphVersion = version
	finding.DetectedAt = time.Now().UTC()
	return []models.Finding{*finding}
}

// BuildTopology reports the structural neighborhood of a wallet, or a
// whole-graph overview when the wallet argument is empty.
func (e *Engine) BuildTopology(ctx context.Context, wallet string, radius int) (models.Topology, error) {
	if wallet != "" {
		if err := graph.ValidateWallet(wallet); err != nil {
			return models.Topology{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return models.Topology{}, err
	}
	return e.topology.Build(wallet, radius), nil
}
