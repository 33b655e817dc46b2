package analysis

import (
	"fmt"

	"github.com/rawblock/fundflow-engine/internal/graph"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Circular Funding Detector
//
// Value leaving a wallet and returning to it through other wallets is
// the classic wash pattern: the return leg fakes independent funding.
// Cycle enumeration over the whole graph is exponential in the worst
// case, so the search is an ego-bounded DFS instead:
//
//   1. Walk outgoing edges from the wallet, depth-limited by radius
//   2. Keep wallets of the current path in an on-path set; a step may
//      revisit the start wallet (closing a cycle) but no other path
//      member
//   3. Reaching the start wallet after two or more hops records the
//      closed path as one cycle
//   4. Enumeration stops at cycleCap cycles or stepBudget expansions
//
// Every cycle found this way passes through the queried wallet, which
// is exactly the population the alert concerns.

const (
	cycleCap   = 32     // Cycles recorded before the search stops
	stepBudget = 100000 // DFS expansions before the search stops
)

// DetectCircularFunding fires when the graph contains at least one
// funding cycle through the wallet whose closed path reaches
// minCycleLen entries. Severity is always critical; confidence is
// min(1, cycleCount/3).
func DetectCircularFunding(in DetectorInput, th CircularThresholds) (*models.Finding, error) {
	if in.Graph == nil {
		return nil, nil
	}

	cycles := findCycles(in.Graph, in.Wallet, th.Radius, th.MinCycleLen)
	if len(cycles) == 0 {
		return nil, nil
	}

	maxLen := 0
	for _, c := range cycles {
		if len(c) > maxLen {
			maxLen = len(c)
		}
	}
	confidence := float64(len(cycles)) / 3
	if confidence > 1 {
		confidence = 1
	}

	return &models.Finding{
		PatternType: models.PatternCircularFunding,
		Confidence:  confidence,
		Severity:    models.RiskCritical,
		Description: fmt.Sprintf("%d funding cycle(s) route value back to the wallet; longest loop spans %d wallets",
			len(cycles), maxLen-1),
		Evidence: models.Evidence{Circular: &models.CircularEvidence{
			CycleCount: len(cycles),
			Cycles:     cycles,
			MaxLength:  maxLen,
		}},
		ChainSignature: fmt.Sprintf("cycles:%d", len(cycles)),
	}, nil
}

// cycleSearch carries the DFS state for one wallet's cycle scan.
type cycleSearch struct {
	graph  *graph.Store
	start  string
	radius int
	minLen int
	steps  int
	onPath map[string]bool
	path   []string
	found  [][]string
}

// findCycles enumerates directed cycles through start within the
// radius bound. Each cycle is returned as its closed wallet path,
// start appearing at both ends.
func findCycles(g *graph.Store, start string, radius, minLen int) [][]string {
	if radius < 1 {
		radius = 1
	}
	cs := &cycleSearch{
		graph:  g,
		start:  start,
		radius: radius,
		minLen: minLen,
		onPath: map[string]bool{start: true},
		path:   []string{start},
	}
	cs.walk(start, 0)
	return cs.found
}

func (cs *cycleSearch) walk(wallet string, depth int) {
	if len(cs.found) >= cycleCap || cs.steps >= stepBudget {
		return
	}
	cs.steps++

	for _, e := range cs.graph.OutEdges(wallet) {
		if len(cs.found) >= cycleCap {
			return
		}
		if e.Target == cs.start {
			closed := append(append([]string{}, cs.path...), cs.start)
			if len(closed) >= cs.minLen {
				cs.found = append(cs.found, closed)
			}
			continue
		}
		if depth+1 >= cs.radius || cs.onPath[e.Target] {
			continue
		}
		cs.onPath[e.Target] = true
		cs.path = append(cs.path, e.Target)
		cs.walk(e.Target, depth+1)
		cs.path = cs.path[:len(cs.path)-1]
		delete(cs.onPath, e.Target)
	}
}
