package analysis

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rawblock/fundflow-engine/internal/config"
	"github.com/rawblock/fundflow-engine/internal/graph"
	"github.com/rawblock/fundflow-engine/internal/telemetry"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Funding Pattern Detectors
//
// Six independent detectors, each consuming the same per-wallet snapshot
// (traced chains plus copied incoming edges) and emitting at most one
// typed Finding:
//
//   1. Layered funding:      value staged through distinct depth layers
//   2. Mixing:               many near-uniform inbound amounts
//   3. Timing coordination:  distinct senders clustered in short windows
//   4. Amount pattern:       one rounded amount dominating the chains
//   5. Source repetition:    the same origin funding repeatedly
//   6. Circular funding:     value routed back to the wallet it left
//
// Detectors are pure over their input: same snapshot, same thresholds,
// same verdict. A detector that cannot establish sufficient evidence
// returns (nil, nil) rather than a low-confidence Finding. Failures are
// isolated: one detector erroring or panicking is recorded as an error
// entry and never aborts the rest of the sweep.
//
// References:
//   - Möser, Böhme & Breuker, "An Inquiry into Money Laundering Tools
//     in the Bitcoin Ecosystem" (eCrime 2013)
//   - Weber et al., "Anti-Money Laundering in Bitcoin: Experimenting
//     with GCNs for Financial Forensics" (KDD Workshop 2019)
//   - FATF, "Virtual Assets Red Flag Indicators" (2020)

// DetectorInput is the point-in-time snapshot one detector sweep reads.
// Chains and Incoming are copies; Graph is only consulted read-only by
// the circular-funding cycle search.
type DetectorInput struct {
	Wallet       string
	Chains       []models.Chain
	Incoming     []models.Edge
	Graph        *graph.Store
	GraphVersion uint64
}

// NewDetectorInput assembles the snapshot for one wallet sweep: the
// caller's traced chains plus a copy of the wallet's inbound edges.
func NewDetectorInput(g *graph.Store, wallet string, chains []models.Chain) DetectorInput {
	return DetectorInput{
		Wallet:       wallet,
		Chains:       chains,
		Incoming:     g.InEdges(wallet),
		Graph:        g,
		GraphVersion: g.Version(),
	}
}

// LayeringThresholds tunes the layered-funding detector.
type LayeringThresholds struct {
	MinLayers      int     // Distinct significant depth layers required
	MinLayerAmount float64 // Summed amount for a layer to count
}

// MixingThresholds tunes the mixing detector.
type MixingThresholds struct {
	MinIncoming int     // Inbound transfer count required
	MaxCoV      float64 // Coefficient-of-variation ceiling
}

// TimingThresholds tunes the timing-coordination detector.
type TimingThresholds struct {
	Window     time.Duration // Sliding window width
	MinSources int           // Distinct senders required inside one window
}

// AmountThresholds tunes the amount-pattern detector.
type AmountThresholds struct {
	MinRecurrence int     // Occurrences of the dominant rounded amount
	MinFraction   float64 // Dominant amount's share of all amounts
	RoundDecimals int32   // Decimals kept when bucketing amounts
}

// SourceThresholds tunes the source-repetition detector.
type SourceThresholds struct {
	MinRepeats int     // Chains per origin to count as repeated
	MinTotal   float64 // Summed chain amount per repeated origin
}

// CircularThresholds tunes the circular-funding detector.
type CircularThresholds struct {
	MinCycleLen int // Closed-path length, start wallet counted twice
	Radius      int // Ego-graph hop bound for the cycle search
}

// Thresholds bundles all six detector tunings for one engine instance.
type Thresholds struct {
	Layering LayeringThresholds
	Mixing   MixingThresholds
	Timing   TimingThresholds
	Amounts  AmountThresholds
	Sources  SourceThresholds
	Circular CircularThresholds
}

// ThresholdsFromConfig maps the loaded configuration onto detector
// thresholds.
func ThresholdsFromConfig(cfg config.DetectorsConfig) Thresholds {
	return Thresholds{
		Layering: LayeringThresholds{
			MinLayers:      cfg.Layering.MinLayers,
			MinLayerAmount: cfg.Layering.MinLayerAmount,
		},
		Mixing: MixingThresholds{
			MinIncoming: cfg.Mixing.MinIncoming,
			MaxCoV:      cfg.Mixing.MaxCoV,
		},
		Timing: TimingThresholds{
			Window:     cfg.Timing.Window,
			MinSources: cfg.Timing.MinSources,
		},
		Amounts: AmountThresholds{
			MinRecurrence: cfg.Amounts.MinRecurrence,
			MinFraction:   cfg.Amounts.MinFraction,
			RoundDecimals: cfg.Amounts.RoundDecimals,
		},
		Sources: SourceThresholds{
			MinRepeats: cfg.Sources.MinRepeats,
			MinTotal:   cfg.Sources.MinTotal,
		},
		Circular: CircularThresholds{
			MinCycleLen: cfg.Circular.MinCycleLen,
			Radius:      cfg.Circular.Radius,
		},
	}
}

// RunDetectors executes all six detectors over one snapshot. Findings
// are unioned with no mutual exclusion; a failing detector contributes
// an error entry instead, and the caller scores it as "no finding".
func RunDetectors(in DetectorInput, th Thresholds) ([]models.Finding, []models.DetectorError) {
	detectors := []struct {
		pattern models.PatternType
		run     func() (*models.Finding, error)
	}{
		{models.PatternLayeredFunding, func() (*models.Finding, error) { return DetectLayeredFunding(in, th.Layering) }},
		{models.PatternMixing, func() (*models.Finding, error) { return DetectMixing(in, th.Mixing) }},
		{models.PatternTimingCoordination, func() (*models.Finding, error) { return DetectTimingCoordination(in, th.Timing) }},
		{models.PatternAmountPattern, func() (*models.Finding, error) { return DetectAmountPattern(in, th.Amounts) }},
		{models.PatternSourceRepetition, func() (*models.Finding, error) { return DetectSourceRepetition(in, th.Sources) }},
		{models.PatternCircularFunding, func() (*models.Finding, error) { return DetectCircularFunding(in, th.Circular) }},
	}

	var findings []models.Finding
	var failures []models.DetectorError
	now := time.Now().UTC()

	for _, d := range detectors {
		finding, err := runIsolated(d.pattern, d.run)
		if err != nil {
			telemetry.DetectorErrors.WithLabelValues(string(d.pattern)).Inc()
			log.Warn().Str("wallet", in.Wallet).Str("pattern", string(d.pattern)).
				Err(err).Msg("detector failed; continuing without its finding")
			failures = append(failures, models.DetectorError{
				PatternType: d.pattern,
				Error:       err.Error(),
			})
			continue
		}
		if finding == nil {
			continue
		}
		finding.ID = uuid.NewString()
		finding.Wallet = in.Wallet
		finding.GraphVersion = in.GraphVersion
		finding.DetectedAt = now
		findings = append(findings, *finding)
	}
	return findings, failures
}

// runIsolated converts a detector panic into an ordinary error so one
// misbehaving detector cannot take down an analysis or the monitor.
func runIsolated(pattern models.PatternType, fn func() (*models.Finding, error)) (f *models.Finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			f = nil
			err = fmt.Errorf("%s detector panic: %v", pattern, r)
		}
	}()
	return fn()
}
