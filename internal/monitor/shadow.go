package monitor

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rawblock/fundflow-engine/internal/analysis"
	"github.com/rawblock/fundflow-engine/internal/config"
	"github.com/rawblock/fundflow-engine/internal/graph"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Shadow Threshold Evaluation
//
// Candidate detector thresholds run side by side with production
// against the same traced-chain snapshot. Shadow findings never reach
// the alert queue; divergences are logged and optionally persisted for
// offline drift review. A candidate graduates to production only after
// an observation window with an acceptable divergence rate.

// ShadowResult captures one production-versus-candidate comparison.
type ShadowResult struct {
	Wallet             string    `json:"wallet"`
	ProductionPatterns []string  `json:"productionPatterns"`
	ShadowPatterns     []string  `json:"shadowPatterns"`
	Diverged           bool      `json:"diverged"`
	DeltaFindings      int       `json:"deltaFindings"` // shadow count minus production count
	CheckedAt          time.Time `json:"checkedAt"`
}

// ShadowSink persists shadow comparisons, isolated from production
// tables.
type ShadowSink interface {
	SaveShadowResult(ctx context.Context, result ShadowResult) error
}

// ShadowRunner re-runs the detector sweep under candidate thresholds.
type ShadowRunner struct {
	store     *graph.Store
	candidate analysis.Thresholds
	sink      ShadowSink
}

// NewShadowRunner builds a runner. sink may be nil for log-only mode.
func NewShadowRunner(store *graph.Store, candidate analysis.Thresholds, sink ShadowSink) *ShadowRunner {
	return &ShadowRunner{store: store, candidate: candidate, sink: sink}
}

// CandidateThresholds merges the shadow override onto the production
// thresholds. Zero-valued override fields keep the production value, so
// a candidate can vary one knob at a time.
func CandidateThresholds(base analysis.Thresholds, ov config.ShadowOverride) analysis.Thresholds {
	cand := base
	if ov.Mixing.MinIncoming > 0 {
		cand.Mixing.MinIncoming = ov.Mixing.MinIncoming
	}
	if ov.Mixing.MaxCoV > 0 {
		cand.Mixing.MaxCoV = ov.Mixing.MaxCoV
	}
	if ov.Timing.Window > 0 {
		cand.Timing.Window = ov.Timing.Window
	}
	if ov.Timing.MinSources > 0 {
		cand.Timing.MinSources = ov.Timing.MinSources
	}
	if ov.Sources.MinRepeats > 0 {
		cand.Sources.MinRepeats = ov.Sources.MinRepeats
	}
	if ov.Sources.MinTotal > 0 {
		cand.Sources.MinTotal = ov.Sources.MinTotal
	}
	return cand
}

// Compare runs the candidate sweep over the production snapshot and
// records the divergence.
func (sr *ShadowRunner) Compare(ctx context.Context, wallet string, chains []models.Chain, production []models.Finding) ShadowResult {
	input := analysis.NewDetectorInput(sr.store, wallet, chains)
	shadowFindings, _ := analysis.RunDetectors(input, sr.candidate)

	result := ShadowResult{
		Wallet:             wallet,
		ProductionPatterns: patternSet(production),
		ShadowPatterns:     patternSet(shadowFindings),
		DeltaFindings:      len(shadowFindings) - len(production),
		CheckedAt:          time.Now().UTC(),
	}
	result.Diverged = !equalPatterns(result.ProductionPatterns, result.ShadowPatterns)

	if result.Diverged {
		log.Info().Str("wallet", wallet).
			Strs("production", result.ProductionPatterns).
			Strs("shadow", result.ShadowPatterns).
			Int("delta", result.DeltaFindings).
			Msg("shadow threshold divergence")
	}
	if sr.sink != nil {
		if err := sr.sink.SaveShadowResult(ctx, result); err != nil {
			log.Warn().Str("wallet", wallet).Err(err).Msg("shadow result persist failed")
		}
	}
	return result
}

func patternSet(findings []models.Finding) []string {
	distinct := make(map[string]bool, len(findings))
	for _, f := range findings {
		distinct[string(f.PatternType)] = true
	}
	patterns := make([]string, 0, len(distinct))
	for p := range distinct {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)
	return patterns
}

func equalPatterns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
