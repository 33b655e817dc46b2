package analysis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rawblock/fundflow-engine/internal/config"
	"github.com/rawblock/fundflow-engine/internal/graph"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

var testClock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// wallet fabricates a deterministic valid address from an index.
func wallet(i int) string {
	return fmt.Sprintf("0x%040x", i+1)
}

func newTestStore() *graph.Store {
	return graph.NewStore(config.Defaults().Graph)
}

var txSeq int

// transfer records source→target in the store, fabricating a unique
// transaction hash.
func transfer(t *testing.T, s *graph.Store, source, target string, amount float64, ts time.Time) {
	t.Helper()
	txSeq++
	ev := models.FundingEvent{
		Source:    source,
		Target:    target,
		Amount:    decimal.NewFromFloat(amount),
		Timestamp: ts,
		TxHash:    fmt.Sprintf("0x%064x", txSeq),
	}
	added, err := s.AddConnection(context.Background(), ev)
	if err != nil {
		t.Fatalf("AddConnection(%s→%s) error: %v", source, target, err)
	}
	if !added {
		t.Fatalf("AddConnection(%s→%s) not added", source, target)
	}
}

// linearChain wires w[0]→w[1]→...→w[n-1], one transfer per hop.
func linearChain(t *testing.T, s *graph.Store, amount float64, wallets ...string) {
	t.Helper()
	for i := 0; i+1 < len(wallets); i++ {
		transfer(t, s, wallets[i], wallets[i+1], amount, testClock.Add(time.Duration(i)*time.Minute))
	}
}

func defaultThresholds() Thresholds {
	return ThresholdsFromConfig(config.Defaults().Detectors)
}
