package analysis

import (
	"fmt"
	"sort"

	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Source Repetition Detector
//
// A wallet drawing funds from many unrelated origins looks organic; a
// wallet repeatedly topped up by the same origin through separate
// paths suggests a controller rotating intermediaries. The detector
// counts traced chains per original source and fires on origins that
// recur with meaningful total volume.

// DetectSourceRepetition fires when at least one origin funds the
// target through minRepeats or more chains summing to minTotal.
// Confidence is min(1, repeatedOriginCount/5).
func DetectSourceRepetition(in DetectorInput, th SourceThresholds) (*models.Finding, error) {
	chainsPer := make(map[string]int)
	amountPer := make(map[string]float64)
	for _, c := range in.Chains {
		chainsPer[c.OriginalSource]++
		amountPer[c.OriginalSource] += c.TotalAmount
	}

	repeated := make(map[string]int)
	for origin, n := range chainsPer {
		if n >= th.MinRepeats && amountPer[origin] >= th.MinTotal {
			repeated[origin] = n
		}
	}
	if len(repeated) == 0 {
		return nil, nil
	}

	confidence := float64(len(repeated)) / 5
	if confidence > 1 {
		confidence = 1
	}

	origins := make([]string, 0, len(repeated))
	for origin := range repeated {
		origins = append(origins, origin)
	}
	sort.Strings(origins)

	return &models.Finding{
		PatternType: models.PatternSourceRepetition,
		Confidence:  confidence,
		Severity:    models.RiskHigh,
		Description: fmt.Sprintf("%d origin wallet(s) fund the target through %d+ separate chains each",
			len(repeated), th.MinRepeats),
		Evidence: models.Evidence{Sources: &models.RepetitionEvidence{
			RepeatedSources: repeated,
			TotalChains:     len(in.Chains),
		}},
		ChainSignature: fmt.Sprintf("src:%d:%s", len(repeated), origins[0]),
	}, nil
}
