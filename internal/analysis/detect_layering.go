package analysis

import (
	"fmt"

	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Layered Funding Detector
//
// Layering stages value through successive intermediary wallets so the
// final recipient sits several hops away from the true origin. Traced
// chains expose this directly: grouping chains by depth shows how many
// distinct hop layers carry meaningful value. Organic funding is
// dominated by one or two layers; deliberate layering spreads it.

// DetectLayeredFunding groups chains by depth and fires when enough
// layers each carry at least the configured amount. Confidence is the
// significant share of all observed layers.
func DetectLayeredFunding(in DetectorInput, th LayeringThresholds) (*models.Finding, error) {
	if len(in.Chains) == 0 {
		return nil, nil
	}

	layerAmounts := make(map[int]float64)
	for _, c := range in.Chains {
		layerAmounts[c.Depth] += c.TotalAmount
	}

	significant := 0
	for _, amount := range layerAmounts {
		if amount >= th.MinLayerAmount {
			significant++
		}
	}
	if significant < th.MinLayers {
		return nil, nil
	}

	total := len(layerAmounts)
	return &models.Finding{
		PatternType: models.PatternLayeredFunding,
		Confidence:  float64(significant) / float64(total),
		Severity:    models.RiskHigh,
		Description: fmt.Sprintf("funding arrives through %d depth layers, %d carrying %.2f or more",
			total, significant, th.MinLayerAmount),
		Evidence: models.Evidence{Layering: &models.LayeringEvidence{
			TotalLayers:       total,
			SignificantLayers: significant,
			LayerAmounts:      layerAmounts,
			ChainCount:        len(in.Chains),
		}},
		ChainSignature: fmt.Sprintf("layers:%d/%d", significant, total),
	}, nil
}
