package monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rawblock/fundflow-engine/internal/analysis"
	"github.com/rawblock/fundflow-engine/internal/config"
	"github.com/rawblock/fundflow-engine/internal/graph"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

var shadowClock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func addTransfer(t *testing.T, s *graph.Store, seq int, source, target string, amount float64, ts time.Time) {
	t.Helper()
	added, err := s.AddConnection(context.Background(), models.FundingEvent{
		Source:      source,
		Target:      target,
		Amount:      decimal.NewFromFloat(amount),
		Timestamp:   ts,
		TxHash:      fmt.Sprintf("0x%064x", seq),
		BlockNumber: uint64(1000 + seq),
	})
	if err != nil {
		t.Fatalf("Expected the transfer to be accepted. Got: %v", err)
	}
	if !added {
		t.Fatal("Expected the transfer to be recorded")
	}
}

func TestCandidateThresholds_PartialOverride(t *testing.T) {
	base := analysis.ThresholdsFromConfig(config.Defaults().Detectors)

	cand := CandidateThresholds(base, config.ShadowOverride{
		Mixing: config.MixingConfig{MinIncoming: 3},
	})

	if cand.Mixing.MinIncoming != 3 {
		t.Errorf("Expected the override to apply. Got: %d", cand.Mixing.MinIncoming)
	}
	if cand.Mixing.MaxCoV != base.Mixing.MaxCoV {
		t.Errorf("Expected the untouched knob to keep its base value. Got: %v", cand.Mixing.MaxCoV)
	}
	if cand.Timing != base.Timing || cand.Sources != base.Sources {
		t.Error("Expected non-overridden sections to be unchanged")
	}
	if cand.Circular != base.Circular {
		t.Error("Expected sections outside the override surface to be unchanged")
	}
}

func TestShadowCompare_FlagsDivergence(t *testing.T) {
	s := graph.NewStore(config.Defaults().Graph)
	target := wallet(0)
	amounts := []float64{1.0, 0.99, 1.01, 1.0}
	for i, amount := range amounts {
		// Hourly spacing keeps the timing detector out of the picture.
		addTransfer(t, s, i, wallet(i+1), target, amount, shadowClock.Add(time.Duration(i)*time.Hour))
	}

	base := analysis.ThresholdsFromConfig(config.Defaults().Detectors)
	cand := CandidateThresholds(base, config.ShadowOverride{
		Mixing: config.MixingConfig{MinIncoming: 4},
	})

	input := analysis.NewDetectorInput(s, target, nil)
	production, _ := analysis.RunDetectors(input, base)
	if len(production) != 0 {
		t.Fatalf("Expected production thresholds to stay quiet. Got: %d findings", len(production))
	}

	sr := NewShadowRunner(s, cand, nil)
	result := sr.Compare(context.Background(), target, nil, production)

	if !result.Diverged {
		t.Error("Expected the lower candidate floor to diverge")
	}
	if len(result.ShadowPatterns) != 1 || result.ShadowPatterns[0] != string(models.PatternMixing) {
		t.Errorf("Expected the shadow sweep to flag mixing. Got: %v", result.ShadowPatterns)
	}
	if result.DeltaFindings != 1 {
		t.Errorf("Expected a delta of 1 finding. Got: %d", result.DeltaFindings)
	}
}

func TestShadowCompare_AgreementIsQuiet(t *testing.T) {
	s := graph.NewStore(config.Defaults().Graph)
	base := analysis.ThresholdsFromConfig(config.Defaults().Detectors)

	sr := NewShadowRunner(s, base, nil)
	result := sr.Compare(context.Background(), wallet(9), nil, nil)

	if result.Diverged {
		t.Error("Expected identical thresholds on an empty wallet to agree")
	}
	if result.DeltaFindings != 0 {
		t.Errorf("Expected no finding delta. Got: %d", result.DeltaFindings)
	}
}

type captureSink struct {
	results []ShadowResult
}

func (c *captureSink) SaveShadowResult(_ context.Context, r ShadowResult) error {
	c.results = append(c.results, r)
	return nil
}

func TestShadowCompare_NotifiesSink(t *testing.T) {
	s := graph.NewStore(config.Defaults().Graph)
	base := analysis.ThresholdsFromConfig(config.Defaults().Detectors)
	sink := &captureSink{}

	sr := NewShadowRunner(s, base, sink)
	sr.Compare(context.Background(), wallet(3), nil, nil)

	if len(sink.results) != 1 {
		t.Fatalf("Expected the sink to receive 1 result. Got: %d", len(sink.results))
	}
	if sink.results[0].Wallet != wallet(3) {
		t.Errorf("Expected the result for %s. Got: %s", wallet(3), sink.results[0].Wallet)
	}
	if sink.results[0].CheckedAt.IsZero() {
		t.Error("Expected a check timestamp")
	}
}
