package analysis

import (
	"math"
	"testing"

	"github.com/rawblock/fundflow-engine/internal/graph"
)

// barbellStore wires two directed triangles joined through a connector
// wallet: t1→t2→t3→t1, t4→t5→t6→t4, with t1→b and b→t4.
func barbellStore(t *testing.T) (*graph.Store, string) {
	t.Helper()
	s := newTestStore()
	b := wallet(0)
	t1, t2, t3 := wallet(1), wallet(2), wallet(3)
	t4, t5, t6 := wallet(4), wallet(5), wallet(6)

	transfer(t, s, t1, t2, 1.0, testClock)
	transfer(t, s, t2, t3, 1.0, testClock)
	transfer(t, s, t3, t1, 1.0, testClock)
	transfer(t, s, t4, t5, 1.0, testClock)
	transfer(t, s, t5, t6, 1.0, testClock)
	transfer(t, s, t6, t4, 1.0, testClock)
	transfer(t, s, t1, b, 1.0, testClock)
	transfer(t, s, b, t4, 1.0, testClock)
	return s, b
}

func TestTopology_BarbellStructure(t *testing.T) {
	s, b := barbellStore(t)
	ta := NewTopologyAnalyzer(s)

	topo := ta.Build(b, 3)
	if topo.WalletCount != 7 {
		t.Fatalf("Expected 7 wallets in scope. Got: %d", topo.WalletCount)
	}
	if topo.EdgeCount != 8 {
		t.Errorf("Expected 8 directed edges in scope. Got: %d", topo.EdgeCount)
	}

	if len(topo.Communities) != 2 {
		t.Fatalf("Expected the two triangle communities. Got: %d", len(topo.Communities))
	}
	sizes := []int{len(topo.Communities[0].Wallets), len(topo.Communities[1].Wallets)}
	if sizes[0] != 4 || sizes[1] != 3 {
		t.Errorf("Expected community sizes 4 and 3. Got: %v", sizes)
	}

	foundBridge := false
	for _, w := range topo.Bridges {
		if w == b {
			foundBridge = true
		}
	}
	if !foundBridge {
		t.Errorf("Expected the connector flagged as a bridge. Got: %v", topo.Bridges)
	}

	if len(topo.IsolatedClusters) != 0 {
		t.Errorf("A connected graph has no isolated clusters. Got: %v", topo.IsolatedClusters)
	}
}

func TestTopology_ConnectorHasTopBetweenness(t *testing.T) {
	s, b := barbellStore(t)
	topo := NewTopologyAnalyzer(s).Build(b, 3)

	var connector, maxOther float64
	for _, c := range topo.Centrality {
		if c.Wallet == b {
			connector = c.Betweenness
		} else if c.Betweenness > maxOther {
			maxOther = c.Betweenness
		}
	}
	if connector <= maxOther {
		t.Errorf("Expected the connector to carry the most betweenness: %f vs %f", connector, maxOther)
	}
}

func TestTopology_PageRankSumsToOne(t *testing.T) {
	s, b := barbellStore(t)
	topo := NewTopologyAnalyzer(s).Build(b, 3)

	sum := 0.0
	for _, c := range topo.Centrality {
		sum += c.PageRank
	}
	if math.Abs(sum-1.0) > 1e-6 {
		t.Errorf("Expected PageRank mass to sum to 1. Got: %f", sum)
	}
}

func TestTopology_RadiusBoundsScope(t *testing.T) {
	s := newTestStore()
	linearChain(t, s, 1.0, wallet(3), wallet(2), wallet(1), wallet(0))

	topo := NewTopologyAnalyzer(s).Build(wallet(0), 1)
	if topo.WalletCount != 2 {
		t.Errorf("Expected the wallet plus its direct neighbor at radius 1. Got: %d", topo.WalletCount)
	}
}

func TestTopology_UnknownWalletEmptyReport(t *testing.T) {
	s := newTestStore()
	transfer(t, s, wallet(1), wallet(2), 1.0, testClock)

	topo := NewTopologyAnalyzer(s).Build(wallet(50), 2)
	if topo.WalletCount != 0 || len(topo.Centrality) != 0 {
		t.Errorf("Expected an empty report for an unknown wallet. Got: %+v", topo)
	}
}

func TestTopology_OverviewReportsIsolatedComponents(t *testing.T) {
	s := newTestStore()
	// Main component of three wallets, plus a detached pair.
	linearChain(t, s, 1.0, wallet(1), wallet(2), wallet(3))
	transfer(t, s, wallet(10), wallet(11), 1.0, testClock)

	topo := NewTopologyAnalyzer(s).Build("", 1)
	if topo.WalletCount != 5 {
		t.Errorf("Expected all 5 wallets in the overview. Got: %d", topo.WalletCount)
	}
	if len(topo.IsolatedClusters) != 1 {
		t.Fatalf("Expected the detached pair reported. Got: %v", topo.IsolatedClusters)
	}
	if len(topo.IsolatedClusters[0]) != 2 {
		t.Errorf("Expected the isolated cluster to hold 2 wallets. Got: %v", topo.IsolatedClusters[0])
	}
}

func TestTopology_StableRebuildScoresOne(t *testing.T) {
	s, b := barbellStore(t)
	ta := NewTopologyAnalyzer(s)

	ta.Build(b, 3)
	second := ta.Build(b, 3)
	if second.PartitionStability != 1.0 {
		t.Errorf("Expected identical partitions to score 1.0. Got: %f", second.PartitionStability)
	}
}
