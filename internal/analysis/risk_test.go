package analysis

import (
	"math"
	"testing"

	"github.com/rawblock/fundflow-engine/internal/graph"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

func newTestScorer(s *graph.Store) *Scorer {
	return NewScorer(s, newTestClassifier(s))
}

func TestScoreSource_MixerEscalatesToCritical(t *testing.T) {
	s := newTestStore()
	sc := newTestScorer(s)

	// Base 0.9 plus the >1 amount tier clamps to 1.0.
	p := sc.ScoreSource(tornadoRouter, 1, 2.0)
	if p.RiskScore != 1.0 {
		t.Errorf("Expected clamped score 1.0. Got: %f", p.RiskScore)
	}
	if p.RiskLevel != models.RiskCritical {
		t.Errorf("Expected critical level. Got: %s", p.RiskLevel)
	}
	if p.Type != models.SourceMixer {
		t.Errorf("Expected mixer type. Got: %s", p.Type)
	}
}

func TestScoreSource_QuietExchangeStaysLow(t *testing.T) {
	s := newTestStore()
	sc := newTestScorer(s)

	p := sc.ScoreSource(binanceHot, 1, 0.5)
	if math.Abs(p.RiskScore-0.2) > 1e-9 {
		t.Errorf("Expected the bare exchange base 0.2. Got: %f", p.RiskScore)
	}
	if p.RiskLevel != models.RiskLow {
		t.Errorf("Expected low level. Got: %s", p.RiskLevel)
	}
	if p.Label != "Binance 1" {
		t.Errorf("Expected the curated label carried through. Got: %q", p.Label)
	}
}

func TestScoreSource_ActivityTiers(t *testing.T) {
	s := newTestStore()
	sc := newTestScorer(s)
	origin := wallet(300)

	// 21 outbound transfers cross the >20 transaction tier.
	for i := 0; i < 21; i++ {
		transfer(t, s, origin, wallet(400+i), 0.01, testClock)
	}

	// individual 0.4 + tx tier 0.1 + amount tier 0.2 (>10).
	p := sc.ScoreSource(origin, 3, 15.0)
	if math.Abs(p.RiskScore-0.7) > 1e-9 {
		t.Errorf("Expected 0.4+0.1+0.2 = 0.7. Got: %f", p.RiskScore)
	}
	if p.RiskLevel != models.RiskHigh {
		t.Errorf("Expected high level at 0.7. Got: %s", p.RiskLevel)
	}
	if p.TxCount != 21 {
		t.Errorf("Expected 21 outbound transfers recorded. Got: %d", p.TxCount)
	}
}

func TestScoreSource_MoreActivityNeverLowersScore(t *testing.T) {
	s := newTestStore()
	sc := newTestScorer(s)
	origin := wallet(310)

	for i := 0; i < 5; i++ {
		transfer(t, s, origin, wallet(320+i), 1.0, testClock)
	}
	before := sc.ScoreSource(origin, 2, 5.0).RiskScore

	// Cross the >20 transaction tier and grow traced volume.
	for i := 5; i < 25; i++ {
		transfer(t, s, origin, wallet(320+i), 1.0, testClock)
	}
	after := sc.ScoreSource(origin, 4, 25.0).RiskScore

	if after < before {
		t.Errorf("Score decreased with more activity: %f → %f", before, after)
	}
}

func TestProfileSources_OrderedByRisk(t *testing.T) {
	s := newTestStore()
	sc := newTestScorer(s)
	target := wallet(0)

	chains := []models.Chain{
		chainAt(target, binanceHot, 1, 0.5),
		chainAt(target, tornadoRouter, 1, 2.0),
	}
	profiles := sc.ProfileSources(chains)
	if len(profiles) != 2 {
		t.Fatalf("Expected 2 profiles. Got: %d", len(profiles))
	}
	if profiles[0].Wallet != tornadoRouter {
		t.Errorf("Expected the mixer ranked first. Got: %s", profiles[0].Wallet)
	}
	if profiles[1].Wallet != binanceHot {
		t.Errorf("Expected the exchange ranked last. Got: %s", profiles[1].Wallet)
	}
	if profiles[0].ChainCount != 1 || math.Abs(profiles[0].TotalAmount-2.0) > 1e-9 {
		t.Errorf("Expected per-origin aggregates on the profile. Got: %+v", profiles[0])
	}
}

func TestAssessFundingRisk_WeightedBlend(t *testing.T) {
	target := wallet(0)
	chains := []models.Chain{chainAt(target, wallet(1), 5, 10.0)} // Depth 5, total 50

	sources := []models.SourceProfile{
		{Wallet: wallet(1), RiskLevel: models.RiskHigh},
		{Wallet: wallet(2), RiskLevel: models.RiskLow},
	}
	findings := []models.Finding{{PatternType: models.PatternMixing, Severity: models.RiskHigh}}

	r := AssessFundingRisk(chains, sources, findings)

	// 0.3·0.5 + 0.3·1.0 + 0.2·1.0 + 0.2·0.5 = 0.75
	if math.Abs(r.OverallScore-0.75) > 1e-9 {
		t.Errorf("Expected overall 0.75. Got: %f", r.OverallScore)
	}
	if r.Level != models.RiskHigh {
		t.Errorf("Expected high level. Got: %s", r.Level)
	}
	if math.Abs(r.Factors.SourceRisk-0.5) > 1e-9 || math.Abs(r.Factors.PatternRisk-1.0) > 1e-9 {
		t.Errorf("Unexpected factor breakdown: %+v", r.Factors)
	}
	// Pattern and depth risk pass 0.5 → blockers; source and amount
	// sit in (0.3, 0.5] → recommendations.
	if len(r.Blockers) != 2 {
		t.Errorf("Expected 2 blockers. Got: %v", r.Blockers)
	}
	if len(r.Recommendations) != 2 {
		t.Errorf("Expected 2 recommendations. Got: %v", r.Recommendations)
	}
}

func TestAssessFundingRisk_EmptyInputsAreLow(t *testing.T) {
	r := AssessFundingRisk(nil, nil, nil)
	if r.OverallScore != 0 {
		t.Errorf("Expected zero score on empty inputs. Got: %f", r.OverallScore)
	}
	if r.Level != models.RiskLow {
		t.Errorf("Expected low level. Got: %s", r.Level)
	}
	if len(r.Blockers) != 0 || len(r.Recommendations) != 0 {
		t.Errorf("Expected no advice entries. Got: %v / %v", r.Blockers, r.Recommendations)
	}
}

func TestAssessFundingRisk_Deterministic(t *testing.T) {
	chains := []models.Chain{chainAt(wallet(0), wallet(1), 2, 1.0)}
	findings := []models.Finding{{Severity: models.RiskCritical}}

	a := AssessFundingRisk(chains, nil, findings)
	b := AssessFundingRisk(chains, nil, findings)
	if a.OverallScore != b.OverallScore || a.Level != b.Level {
		t.Errorf("Expected identical assessments for identical inputs: %+v vs %+v", a, b)
	}
}
