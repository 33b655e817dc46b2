package analysis

import (
	"fmt"
	"math"

	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Mixing Detector
//
// Mixers split a deposit into many near-identical outputs so that no
// single inbound transfer stands out. The statistical fingerprint is a
// low coefficient of variation (stddev/mean) across inbound amounts:
// organic funding varies widely, mixer output barely at all.
//
// The amount population comes from the retained edge samples; the
// inbound transfer count comes from the exact per-edge counters, so a
// saturated sample ring cannot suppress the trigger.

// DetectMixing fires when the wallet has enough inbound transfers and
// their amounts are near-uniform. Confidence is 1 - CoV.
func DetectMixing(in DetectorInput, th MixingThresholds) (*models.Finding, error) {
	incoming := 0
	var amounts []float64
	for _, e := range in.Incoming {
		incoming += e.TransactionCount
		for _, s := range e.Samples {
			amounts = append(amounts, s.Amount)
		}
	}
	if incoming < th.MinIncoming || len(amounts) < 2 {
		return nil, nil
	}

	mean := 0.0
	for _, a := range amounts {
		mean += a
	}
	mean /= float64(len(amounts))
	if mean <= 0 {
		return nil, nil
	}

	variance := 0.0
	for _, a := range amounts {
		d := a - mean
		variance += d * d
	}
	variance /= float64(len(amounts))
	cov := math.Sqrt(variance) / mean

	if cov >= th.MaxCoV {
		return nil, nil
	}

	return &models.Finding{
		PatternType: models.PatternMixing,
		Confidence:  math.Max(0, 1-cov),
		Severity:    models.RiskHigh,
		Description: fmt.Sprintf("%d inbound transfers with near-uniform amounts (mean %.4f, CoV %.4f)",
			incoming, mean, cov),
		Evidence: models.Evidence{Mixing: &models.MixingEvidence{
			IncomingCount: incoming,
			MeanAmount:    mean,
			CoV:           cov,
		}},
		ChainSignature: fmt.Sprintf("in:%d", incoming),
	}, nil
}
