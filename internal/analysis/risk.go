package analysis

import (
	"fmt"
	"sort"

	"github.com/rawblock/fundflow-engine/internal/graph"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Source & Funding Risk Scorer
//
// Two layers of scoring:
//
//   Per source:  type base risk, escalated by activity tiers
//                (transaction count, traced volume, fan-out)
//   Per target:  weighted blend of source risk, pattern risk,
//                chain-depth risk and volume risk
//                (weights 0.3 / 0.3 / 0.2 / 0.2)
//
// Both layers clamp to [0,1] and map to levels at the shared
// thresholds (>0.8 critical, >0.6 high, >0.4 medium). Scores are
// computed from cumulative aggregates with no decay, so more observed
// activity can only hold or raise a wallet's score between runs.

// sourceBaseRisk fixes the per-type floor. The type ordering tracks
// reachable reclassifications: degree growth moves a wallet from
// individual toward collector/distributor/hub, never the other way,
// so the floor never drops as the graph fills in.
var sourceBaseRisk = map[models.SourceType]float64{
	models.SourceExchange:    0.2,
	models.SourceMiningPool:  0.25,
	models.SourceContract:    0.3,
	models.SourceIndividual:  0.4,
	models.SourceCollector:   0.5,
	models.SourceDistributor: 0.55,
	models.SourceHub:         0.6,
	models.SourceMixer:       0.9,
}

// Scorer classifies and risk-scores origin wallets.
type Scorer struct {
	store      *graph.Store
	classifier *Classifier
}

func NewScorer(store *graph.Store, classifier *Classifier) *Scorer {
	return &Scorer{store: store, classifier: classifier}
}

// ScoreSource builds the risk profile for one origin wallet given the
// chains that terminated there.
func (sc *Scorer) ScoreSource(wallet string, chainCount int, totalAmount float64) models.SourceProfile {
	sourceType := sc.classifier.ClassifySource(wallet)
	st := sc.store.Stats(wallet)

	score := sourceBaseRisk[sourceType]
	switch {
	case st.OutTxCount > 100:
		score += 0.3
	case st.OutTxCount > 50:
		score += 0.2
	case st.OutTxCount > 20:
		score += 0.1
	}
	switch {
	case totalAmount > 100:
		score += 0.3
	case totalAmount > 10:
		score += 0.2
	case totalAmount > 1:
		score += 0.1
	}
	if st.OutDegree > 100 {
		score += 0.2
	}
	score = clamp01(score)

	return models.SourceProfile{
		Wallet:      wallet,
		Type:        sourceType,
		Label:       sc.classifier.Label(wallet),
		RiskScore:   score,
		RiskLevel:   models.LevelForScore(score),
		ChainCount:  chainCount,
		TotalAmount: totalAmount,
		TxCount:     st.OutTxCount,
		OutDegree:   st.OutDegree,
		InDegree:    st.InDegree,
	}
}

// ProfileSources aggregates traced chains per origin and scores each
// one. Output is ordered by risk score descending, wallet ascending on
// ties, so reports and alerts read stably.
func (sc *Scorer) ProfileSources(chains []models.Chain) []models.SourceProfile {
	chainCount := make(map[string]int)
	amount := make(map[string]float64)
	for _, c := range chains {
		chainCount[c.OriginalSource]++
		amount[c.OriginalSource] += c.TotalAmount
	}

	profiles := make([]models.SourceProfile, 0, len(chainCount))
	for origin, n := range chainCount {
		profiles = append(profiles, sc.ScoreSource(origin, n, amount[origin]))
	}
	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].RiskScore != profiles[j].RiskScore {
			return profiles[i].RiskScore > profiles[j].RiskScore
		}
		return profiles[i].Wallet < profiles[j].Wallet
	})
	return profiles
}

// AssessFundingRisk blends sources, findings, depth and volume into
// the aggregate verdict. Pure over its inputs: no store reads, no
// clock, no randomness, so identical snapshots always produce the
// identical assessment.
func AssessFundingRisk(chains []models.Chain, sources []models.SourceProfile, findings []models.Finding) models.RiskAssessment {
	highSources := 0
	for _, s := range sources {
		if s.RiskLevel == models.RiskHigh || s.RiskLevel == models.RiskCritical {
			highSources++
		}
	}
	sourceRisk := 0.0
	if len(sources) > 0 {
		sourceRisk = float64(highSources) / float64(len(sources))
	}

	highFindings := 0
	for _, f := range findings {
		if f.Severity == models.RiskHigh || f.Severity == models.RiskCritical {
			highFindings++
		}
	}
	patternRisk := 0.0
	if len(findings) > 0 {
		patternRisk = float64(highFindings) / float64(len(findings))
	}

	maxDepth := 0
	totalAmount := 0.0
	for _, c := range chains {
		if c.Depth > maxDepth {
			maxDepth = c.Depth
		}
		totalAmount += c.TotalAmount
	}
	depthRisk := clamp01(float64(maxDepth) / 5)
	amountRisk := clamp01(totalAmount / 100)

	overall := clamp01(0.3*sourceRisk + 0.3*patternRisk + 0.2*depthRisk + 0.2*amountRisk)

	assessment := models.RiskAssessment{
		OverallScore: overall,
		Level:        models.LevelForScore(overall),
		Factors: models.RiskFactors{
			SourceRisk:  sourceRisk,
			PatternRisk: patternRisk,
			DepthRisk:   depthRisk,
			AmountRisk:  amountRisk,
		},
	}

	checks := []struct {
		risk           float64
		blocker        string
		recommendation string
	}{
		{sourceRisk,
			fmt.Sprintf("%d of %d funding origins score high or critical", highSources, len(sources)),
			"review the highest-risk funding origins before relying on this wallet"},
		{patternRisk,
			fmt.Sprintf("%d of %d detected patterns are high or critical severity", highFindings, len(findings)),
			"inspect detected funding patterns and their evidence"},
		{depthRisk,
			"funding chains reach the trace depth bound; true origins may sit deeper",
			"re-trace with a larger depth bound to surface the true origins"},
		{amountRisk,
			"traced funding volume exceeds the review threshold",
			"verify the provenance of the largest funding chains"},
	}
	for _, c := range checks {
		switch {
		case c.risk > 0.5:
			assessment.Blockers = append(assessment.Blockers, c.blocker)
		case c.risk > 0.3:
			assessment.Recommendations = append(assessment.Recommendations, c.recommendation)
		}
	}
	return assessment
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
