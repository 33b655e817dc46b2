// Package metrics compares community partitions across topology
// snapshots. The graph reshapes continuously under ingest; these
// scores tell a reviewer whether the cluster structure held steady or
// reshuffled between two versions.
package metrics

import "math"

// AdjustedRandIndex scores the agreement between two wallet partitions
// on a -1..1 scale: 1 is identical grouping, 0 is what random
// assignment would produce. Only wallets present in both partitions
// carry signal; with fewer than two shared wallets there is nothing to
// disagree about and the score is 1.
func AdjustedRandIndex(prev, cur map[string]int) float64 {
	cells, rows, cols, n := contingency(prev, cur)
	if n < 2 {
		return 1
	}

	sumCells := 0.0
	for _, count := range cells {
		sumCells += comb2(count)
	}
	sumRows := 0.0
	for _, count := range rows {
		sumRows += comb2(count)
	}
	sumCols := 0.0
	for _, count := range cols {
		sumCols += comb2(count)
	}

	expected := sumRows * sumCols / comb2(n)
	maxIndex := (sumRows + sumCols) / 2
	if math.Abs(maxIndex-expected) < 1e-12 {
		return 1
	}
	return (sumCells - expected) / (maxIndex - expected)
}

// VariationOfInformation measures partition drift in bits: 0 for
// identical assignments, growing as wallets shuffle between
// communities. Unlike the Rand index it is a true metric, so drift
// across consecutive snapshots can be summed.
func VariationOfInformation(prev, cur map[string]int) float64 {
	cells, rows, cols, n := contingency(prev, cur)
	if n < 2 {
		return 0
	}
	nf := float64(n)

	var vi float64
	for cell, count := range cells {
		p := float64(count) / nf
		vi -= p * math.Log2(float64(count)/float64(rows[cell.prev]))
		vi -= p * math.Log2(float64(count)/float64(cols[cell.cur]))
	}
	return vi
}

type pairKey struct{ prev, cur int }

// contingency tabulates co-assignment counts over the wallets both
// partitions know about. Community labels are arbitrary ints; only the
// grouping matters.
func contingency(prev, cur map[string]int) (map[pairKey]int, map[int]int, map[int]int, int) {
	cells := make(map[pairKey]int)
	rows := make(map[int]int)
	cols := make(map[int]int)
	n := 0
	for w, p := range prev {
		c, ok := cur[w]
		if !ok {
			continue
		}
		cells[pairKey{p, c}]++
		rows[p]++
		cols[c]++
		n++
	}
	return cells, rows, cols, n
}

func comb2(n int) float64 {
	if n < 2 {
		return 0
	}
	return float64(n) * float64(n-1) / 2
}
