package analysis

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Amount Pattern Detector
//
// Scripted funding reuses one configured amount; humans do not. The
// detector buckets every hop amount across the traced chains after
// rounding to a fixed number of decimals, and fires when a single
// bucket both recurs and dominates the population.
//
// Bucketing goes through decimal string keys rather than float map
// keys, so 0.1+0.2 artifacts cannot split a bucket.

// DetectAmountPattern fires when one rounded amount recurs at least
// minRecurrence times and makes up at least minFraction of all hop
// amounts. Confidence is that fraction.
func DetectAmountPattern(in DetectorInput, th AmountThresholds) (*models.Finding, error) {
	buckets := make(map[string]int)
	total := 0
	for _, c := range in.Chains {
		for _, h := range c.Hops {
			key := decimal.NewFromFloat(h.Amount).Round(th.RoundDecimals).String()
			buckets[key]++
			total++
		}
	}
	if total == 0 {
		return nil, nil
	}

	dominantKey := ""
	occurrences := 0
	for key, n := range buckets {
		if n > occurrences {
			dominantKey, occurrences = key, n
		}
	}
	fraction := float64(occurrences) / float64(total)
	if occurrences < th.MinRecurrence || fraction < th.MinFraction {
		return nil, nil
	}

	dominant, err := strconv.ParseFloat(dominantKey, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing dominant amount bucket %q: %w", dominantKey, err)
	}

	return &models.Finding{
		PatternType: models.PatternAmountPattern,
		Confidence:  fraction,
		Severity:    models.RiskHigh,
		Description: fmt.Sprintf("amount %s recurs %d times across %d chain hops (%.0f%% of all amounts)",
			dominantKey, occurrences, total, fraction*100),
		Evidence: models.Evidence{Amounts: &models.AmountEvidence{
			RecurringAmount:   dominant,
			Occurrences:       occurrences,
			TotalAmounts:      total,
			RecurringFraction: fraction,
		}},
		ChainSignature: fmt.Sprintf("amt:%sx%d", dominantKey, occurrences),
	}, nil
}
