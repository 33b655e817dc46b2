package analysis

import (
	"math"
	"testing"
	"time"
)

func TestTraceChains_SimpleFanIn(t *testing.T) {
	s := newTestStore()
	target := wallet(0)

	// Three independent funders, none funded themselves.
	for i := 1; i <= 3; i++ {
		transfer(t, s, wallet(i), target, float64(i), testClock)
	}

	res := NewTracer(s, 5, 100).TraceChains(target, 5, 100)
	if len(res.Chains) != 3 {
		t.Fatalf("Expected 3 chains. Got: %d", len(res.Chains))
	}
	if res.Truncated {
		t.Error("Expected complete trace, not truncated")
	}
	for _, c := range res.Chains {
		if c.Depth != 1 {
			t.Errorf("Expected depth 1 for direct funders. Got: %d", c.Depth)
		}
		if c.Target != target {
			t.Errorf("Expected chain target %s. Got: %s", target, c.Target)
		}
		if c.OriginalSource != c.Hops[0].Source {
			t.Errorf("Expected originalSource to match first hop. Got: %s vs %s",
				c.OriginalSource, c.Hops[0].Source)
		}
	}
}

func TestTraceChains_DepthBoundOnDeepPath(t *testing.T) {
	s := newTestStore()

	// Five-hop funding path: w5→w4→w3→w2→w1→target.
	target := wallet(0)
	linearChain(t, s, 2.0, wallet(5), wallet(4), wallet(3), wallet(2), wallet(1), target)

	res := NewTracer(s, 10, 100).TraceChains(target, 3, 100)
	if len(res.Chains) != 1 {
		t.Fatalf("Expected exactly 1 chain. Got: %d", len(res.Chains))
	}
	if res.Chains[0].Depth != 3 {
		t.Errorf("Expected chain cut at depth 3. Got: %d", res.Chains[0].Depth)
	}
	if !res.Truncated {
		t.Error("Expected truncated=true when the path continues past the bound")
	}
	if len(res.Chains[0].Hops) != 3 {
		t.Errorf("Expected 3 hops. Got: %d", len(res.Chains[0].Hops))
	}
	// Hops read origin → target.
	last := res.Chains[0].Hops[2]
	if last.Target != target {
		t.Errorf("Expected last hop to end at the target. Got: %s", last.Target)
	}
}

func TestTraceChains_TrueOriginEndsChain(t *testing.T) {
	s := newTestStore()
	target := wallet(0)

	// Two-hop path with a genuine origin; bound far larger than depth.
	linearChain(t, s, 1.0, wallet(2), wallet(1), target)

	res := NewTracer(s, 5, 100).TraceChains(target, 5, 100)
	if len(res.Chains) != 1 {
		t.Fatalf("Expected 1 chain. Got: %d", len(res.Chains))
	}
	c := res.Chains[0]
	if c.Depth != 2 || c.OriginalSource != wallet(2) {
		t.Errorf("Expected depth 2 chain from %s. Got: depth=%d source=%s",
			wallet(2), c.Depth, c.OriginalSource)
	}
	if res.Truncated {
		t.Error("A chain ending at a true origin is complete, not truncated")
	}
	if math.Abs(c.TotalAmount-2.0) > 1e-9 {
		t.Errorf("Expected chain totalAmount 2.0 (two 1.0 hops). Got: %f", c.TotalAmount)
	}
}

func TestTraceChains_ChainCapTruncates(t *testing.T) {
	s := newTestStore()
	target := wallet(0)

	for i := 1; i <= 6; i++ {
		transfer(t, s, wallet(i), target, 1.0, testClock)
	}

	res := NewTracer(s, 5, 100).TraceChains(target, 5, 2)
	if len(res.Chains) != 2 {
		t.Fatalf("Expected the chain cap to hold at 2. Got: %d", len(res.Chains))
	}
	if !res.Truncated {
		t.Error("Expected truncated=true when maxChains fires with work remaining")
	}
}

func TestTraceChains_NoIncomingEdges(t *testing.T) {
	s := newTestStore()
	target := wallet(0)

	// The wallet only ever sent funds.
	transfer(t, s, target, wallet(1), 1.0, testClock)

	res := NewTracer(s, 5, 100).TraceChains(target, 5, 100)
	if len(res.Chains) != 0 {
		t.Errorf("Expected empty chain list for a wallet with no funders. Got: %d", len(res.Chains))
	}
	if res.Truncated {
		t.Error("An empty trace is complete, not truncated")
	}
}

func TestTraceChains_VisitedWalletNotRevisited(t *testing.T) {
	s := newTestStore()
	target := wallet(0)
	shared := wallet(9)

	// Diamond: shared funds two intermediaries that both fund the target.
	transfer(t, s, shared, wallet(1), 1.0, testClock)
	transfer(t, s, shared, wallet(2), 1.0, testClock)
	transfer(t, s, wallet(1), target, 1.0, testClock.Add(time.Minute))
	transfer(t, s, wallet(2), target, 1.0, testClock.Add(time.Minute))

	res := NewTracer(s, 5, 100).TraceChains(target, 5, 100)

	// The shared origin is expanded once; the second path stops when it
	// meets the visited wallet.
	originHits := 0
	for _, c := range res.Chains {
		if c.OriginalSource == shared {
			originHits++
		}
	}
	if originHits != 1 {
		t.Errorf("Expected the shared origin to appear in exactly 1 chain. Got: %d", originHits)
	}
}

func TestAttribution_ProportionalShares(t *testing.T) {
	s := newTestStore()
	target := wallet(0)

	transfer(t, s, wallet(1), target, 3.0, testClock)
	transfer(t, s, wallet(2), target, 1.0, testClock)

	res := NewTracer(s, 5, 100).TraceChains(target, 5, 100)
	shares := Attribution(res.Chains)

	if math.Abs(shares[wallet(1)]-0.75) > 1e-9 {
		t.Errorf("Expected 0.75 share for the 3.0 origin. Got: %f", shares[wallet(1)])
	}
	if math.Abs(shares[wallet(2)]-0.25) > 1e-9 {
		t.Errorf("Expected 0.25 share for the 1.0 origin. Got: %f", shares[wallet(2)])
	}
}
