// Package analysis implements the funding-flow analysis core: backward
// chain tracing, origin classification, pattern detection, risk
// scoring, and neighborhood topology over the wallet graph.
package analysis

import (
	"github.com/rawblock/fundflow-engine/internal/graph"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Funding Chain Tracer
//
// Given a target wallet, walks the funding graph BACKWARD hop by hop to
// recover where its funds originated:
//
//   1. Start at the target wallet
//   2. Fetch all edges funding it (incoming transfers)
//   3. For each funder, extend the path one hop toward the origin
//   4. Emit a chain when the frontier wallet has no funders of its own
//      (a true origin) or the depth bound is reached
//   5. Repeat breadth-first until the queue drains or the chain cap hits
//
// Visited-wallet tracking keeps one trace from revisiting a wallet, so
// cycles never cause unbounded expansion here; circular routing is the
// circular-funding detector's job. The chain cap bounds combinatorial
// blow-up on high-fan-in wallets: once reached, tracing stops with
// truncated=true even if the queue still holds work. That is a
// documented completeness trade-off, not a bug.
//
// Complexity: O(maxChains × maxDepth) edge fetches in the common case.
//
// References:
//   - Meiklejohn et al., "A Fistful of Bitcoins" (IMC 2013)
//   - Chainalysis, "The 2024 Crypto Crime Report"

// Tracer performs backward chain discovery over the graph store.
type Tracer struct {
	store     *graph.Store
	maxDepth  int
	maxChains int
}

// NewTracer builds a tracer with default depth and chain caps, applied
// when a call passes non-positive bounds.
func NewTracer(store *graph.Store, maxDepth, maxChains int) *Tracer {
	if maxDepth <= 0 {
		maxDepth = 5
	}
	if maxChains <= 0 {
		maxChains = 100
	}
	return &Tracer{store: store, maxDepth: maxDepth, maxChains: maxChains}
}

// TraceResult is one trace invocation's output. Truncated marks a
// partial result: the depth or chain cap fired before exhaustion.
type TraceResult struct {
	Chains    []models.Chain
	Truncated bool
}

type traceItem struct {
	wallet string
	// path keeps hops origin-side first; each extension prepends, so
	// an emitted chain reads origin → target without a reverse pass.
	path   []models.ChainHop
	depth  int
	amount float64
}

// TraceChains walks backward from target. A wallet with no incoming
// edges yields an empty chain list, which is a valid outcome, not an
// error.
func (t *Tracer) TraceChains(target string, maxDepth, maxChains int) TraceResult {
	if maxDepth <= 0 || maxDepth > t.maxDepth {
		maxDepth = t.maxDepth
	}
	if maxChains <= 0 || maxChains > t.maxChains {
		maxChains = t.maxChains
	}
	target = graph.Normalize(target)

	var result TraceResult
	visited := map[string]bool{target: true}
	queue := []traceItem{{wallet: target}}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		for _, edge := range t.store.InEdges(item.wallet) {
			if len(result.Chains) >= maxChains {
				// Cap reached with work remaining.
				result.Truncated = true
				return result
			}
			source := edge.Source
			if visited[source] {
				continue
			}
			visited[source] = true

			hop := models.ChainHop{
				Source:  source,
				Target:  edge.Target,
				Amount:  edge.TotalAmount,
				TxCount: edge.TransactionCount,
			}
			path := make([]models.ChainHop, len(item.path)+1)
			path[0] = hop
			copy(path[1:], item.path)
			depth := item.depth + 1
			amount := item.amount + edge.TotalAmount

			atOrigin := len(t.store.InEdges(source)) == 0
			if depth == maxDepth || atOrigin {
				result.Chains = append(result.Chains, models.Chain{
					Target:         target,
					Hops:           path,
					Depth:          depth,
					TotalAmount:    amount,
					OriginalSource: source,
				})
				if depth == maxDepth && !atOrigin {
					// The path continues beyond the bound.
					result.Truncated = true
				}
				continue
			}
			queue = append(queue, traceItem{wallet: source, path: path, depth: depth, amount: amount})
		}
	}
	return result
}

// Attribution apportions the target's traced inflow across origin
// wallets, proportional to each chain's volume. Shares sum to 1 when
// any chain exists.
func Attribution(chains []models.Chain) map[string]float64 {
	var total float64
	for _, c := range chains {
		total += c.TotalAmount
	}
	if total == 0 {
		return nil
	}
	shares := make(map[string]float64)
	for _, c := range chains {
		shares[c.OriginalSource] += c.TotalAmount / total
	}
	return shares
}
