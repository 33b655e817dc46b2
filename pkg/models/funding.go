package models

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// FundingEvent represents a single parsed wallet-to-wallet value transfer.
// Events are immutable once recorded and uniquely identified by
// (source, target, txHash).
type FundingEvent struct {
	Source      string          `json:"source"`      // Sending wallet, lowercase hex
	Target      string          `json:"target"`      // Receiving wallet, lowercase hex
	Amount      decimal.Decimal `json:"amount"`      // Transfer value in native units (ETH-equivalent)
	Timestamp   time.Time       `json:"timestamp"`   // Chain timestamp of the transfer
	TxHash      string          `json:"txHash"`      // Transaction hash, lowercase hex
	BlockNumber uint64          `json:"blockNumber"` // Containing block (0 if pending)
	GasUsed     uint64          `json:"gasUsed,omitempty"`
	GasPrice    uint64          `json:"gasPrice,omitempty"` // In wei
}

// TransferSample is one observed transfer retained on an edge's sample ring.
type TransferSample struct {
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// RelationshipMetrics is the derived strength snapshot of an edge,
// recomputed on every new sample.
type RelationshipMetrics struct {
	Strength          float64 `json:"strength"`          // min(1, totalAmount/10)
	FrequencyScore    float64 `json:"frequencyScore"`    // min(1, txCount/10)
	AmountConsistency float64 `json:"amountConsistency"` // max(0, 1 - variance(samples))
}

// PrecheckResult is the synchronous manipulation screen run inside
// AddConnection and attached to the stored event.
type PrecheckResult struct {
	Flags []string `json:"flags,omitempty"` // "round_amount"/"rapid_repeat"/"reverse_edge"
	Score float64  `json:"score"`           // 0.0 (clean) to 1.0
}

// Edge is the mutable aggregate of all observed transfers source→target.
// Mutated only through the graph store's single write path.
type Edge struct {
	Source           string              `json:"source"`
	Target           string              `json:"target"`
	TotalAmount      float64             `json:"totalAmount"`      // Always equals the sum of sample amounts
	TransactionCount int                 `json:"transactionCount"` // Always equals the sample count
	Samples          []TransferSample    `json:"samples"`          // Bounded ring, oldest dropped first
	Metrics          RelationshipMetrics `json:"metrics"`
	FlaggedCount     int                 `json:"flaggedCount"` // Events that tripped the ingest precheck
	FirstSeen        time.Time           `json:"firstSeen"`
	LastSeen         time.Time           `json:"lastSeen"`
}

// ChainHop is one traversed edge inside a funding chain, recorded at
// trace time from the edge aggregate.
type ChainHop struct {
	Source  string  `json:"source"`
	Target  string  `json:"target"`
	Amount  float64 `json:"amount"`  // Edge totalAmount at trace time
	TxCount int     `json:"txCount"` // Edge transactionCount at trace time
}

// Chain is an ordered funding path ending at the traced target wallet.
// Hops[0] starts at OriginalSource; the last hop ends at Target.
// Chains are ephemeral trace output and never persisted.
type Chain struct {
	Target         string     `json:"target"`
	Hops           []ChainHop `json:"hops"`
	Depth          int        `json:"depth"`          // Hop count from target
	TotalAmount    float64    `json:"totalAmount"`    // Sum of hop amounts at trace time
	OriginalSource string     `json:"originalSource"` // Far end of the path within the depth bound
}

// Signature returns a stable identity for the chain used in alert
// deduplication: same origin, same entry hop, same depth.
func (c Chain) Signature() string {
	first := ""
	if len(c.Hops) > 0 {
		first = c.Hops[len(c.Hops)-1].Source
	}
	return c.OriginalSource + ">" + first + ">" + strconv.Itoa(c.Depth)
}
