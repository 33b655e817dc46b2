package metrics

import (
	"fmt"
	"math"
	"testing"
)

func wallet(i int) string {
	return fmt.Sprintf("0x%040x", i+1)
}

func partition(labels ...int) map[string]int {
	p := make(map[string]int, len(labels))
	for i, l := range labels {
		p[wallet(i)] = l
	}
	return p
}

func TestAdjustedRandIndex_IdenticalPartitions(t *testing.T) {
	prev := partition(0, 0, 1, 1, 2, 2)
	cur := partition(0, 0, 1, 1, 2, 2)

	if ari := AdjustedRandIndex(prev, cur); math.Abs(ari-1.0) > 0.01 {
		t.Errorf("ARI = %f, want 1.0 for identical partitions", ari)
	}
}

func TestAdjustedRandIndex_LabelsAreArbitrary(t *testing.T) {
	prev := partition(0, 0, 1, 1)
	cur := partition(7, 7, 3, 3)

	if ari := AdjustedRandIndex(prev, cur); math.Abs(ari-1.0) > 0.01 {
		t.Errorf("ARI = %f, want 1.0 when only labels differ", ari)
	}
}

func TestAdjustedRandIndex_DissimilarPartitions(t *testing.T) {
	prev := partition(0, 0, 0, 1, 1, 1)
	cur := partition(0, 1, 0, 1, 0, 1)

	if ari := AdjustedRandIndex(prev, cur); ari > 0.5 {
		t.Errorf("ARI = %f, want near 0 for dissimilar partitions", ari)
	}
}

func TestAdjustedRandIndex_FirstSnapshotScoresOne(t *testing.T) {
	cur := partition(0, 0, 1, 1)

	if ari := AdjustedRandIndex(nil, cur); ari != 1 {
		t.Errorf("ARI = %f, want 1 with no prior snapshot", ari)
	}
}

func TestAdjustedRandIndex_IgnoresUnsharedWallets(t *testing.T) {
	prev := partition(0, 0, 1, 1)
	cur := map[string]int{
		wallet(0): 0, wallet(1): 0,
		wallet(2): 1, wallet(3): 1,
		// Wallets the previous snapshot never saw.
		wallet(10): 9, wallet(11): 9,
	}

	if ari := AdjustedRandIndex(prev, cur); math.Abs(ari-1.0) > 0.01 {
		t.Errorf("ARI = %f, want 1.0 when the shared wallets agree", ari)
	}
}

func TestVariationOfInformation_Identical(t *testing.T) {
	prev := partition(0, 0, 1, 1, 2, 2)
	cur := partition(0, 0, 1, 1, 2, 2)

	if vi := VariationOfInformation(prev, cur); vi > 0.01 {
		t.Errorf("VI = %f, want 0 for identical partitions", vi)
	}
}

func TestVariationOfInformation_Drift(t *testing.T) {
	prev := partition(0, 0, 0, 1, 1, 1)
	cur := partition(0, 1, 0, 1, 0, 1)

	if vi := VariationOfInformation(prev, cur); vi < 0.1 {
		t.Errorf("VI = %f, want positive for shuffled partitions", vi)
	}
}
