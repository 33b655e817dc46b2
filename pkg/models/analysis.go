package models

import "time"

// SourceType classifies the role of an origin wallet in the funding graph.
type SourceType string

const (
	SourceExchange    SourceType = "exchange"
	SourceMiningPool  SourceType = "mining_pool"
	SourceContract    SourceType = "contract"
	SourceMixer       SourceType = "mixer"
	SourceDistributor SourceType = "distributor" // High out-degree, low in-degree
	SourceCollector   SourceType = "collector"   // High in-degree, low out-degree
	SourceHub         SourceType = "hub"         // High degree both directions
	SourceIndividual  SourceType = "individual"
)

// RiskLevel buckets a [0,1] risk score. Also used as Finding severity.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// LevelForScore maps a clamped [0,1] score to its risk level.
// Thresholds: >0.8 critical, >0.6 high, >0.4 medium, else low.
func LevelForScore(score float64) RiskLevel {
	switch {
	case score > 0.8:
		return RiskCritical
	case score > 0.6:
		return RiskHigh
	case score > 0.4:
		return RiskMedium
	default:
		return RiskLow
	}
}

// PatternType identifies which detector produced a Finding.
type PatternType string

const (
	PatternLayeredFunding     PatternType = "layered_funding"
	PatternMixing             PatternType = "mixing"
	PatternTimingCoordination PatternType = "timing_coordination"
	PatternAmountPattern      PatternType = "amount_pattern"
	PatternSourceRepetition   PatternType = "source_repetition"
	PatternCircularFunding    PatternType = "circular_funding"
)

// Finding is a single detector's output. Immutable once emitted.
type Finding struct {
	ID             string      `json:"id"`
	Wallet         string      `json:"wallet"`
	PatternType    PatternType `json:"patternType"`
	Confidence     float64     `json:"confidence"` // Always in [0,1]
	Severity       RiskLevel   `json:"severity"`
	Description    string      `json:"description"`
	Evidence       Evidence    `json:"evidence"`
	ChainSignature string      `json:"chainSignature,omitempty"` // Alert dedup component
	GraphVersion   uint64      `json:"graphVersion"`
	DetectedAt     time.Time   `json:"detectedAt"`
}

// Evidence carries the typed per-detector supporting data. Exactly one
// branch is set, matching the Finding's pattern type.
type Evidence struct {
	Layering *LayeringEvidence   `json:"layering,omitempty"`
	Mixing   *MixingEvidence     `json:"mixing,omitempty"`
	Timing   *TimingEvidence     `json:"timing,omitempty"`
	Amounts  *AmountEvidence     `json:"amounts,omitempty"`
	Sources  *RepetitionEvidence `json:"sources,omitempty"`
	Circular *CircularEvidence   `json:"circular,omitempty"`
}

// LayeringEvidence describes depth-layer structure behind a layered-funding finding.
type LayeringEvidence struct {
	TotalLayers       int             `json:"totalLayers"`
	SignificantLayers int             `json:"significantLayers"` // Layers with summed amount >= threshold
	LayerAmounts      map[int]float64 `json:"layerAmounts"`      // Depth → summed amount
	ChainCount        int             `json:"chainCount"`
}

// MixingEvidence describes the uniform inbound set behind a mixing finding.
type MixingEvidence struct {
	IncomingCount int     `json:"incomingCount"`
	MeanAmount    float64 `json:"meanAmount"`
	CoV           float64 `json:"cov"` // Coefficient of variation, stddev/mean
}

// TimingEvidence describes coordinated send windows.
type TimingEvidence struct {
	WindowSeconds int       `json:"windowSeconds"`
	GroupCount    int       `json:"groupCount"` // Qualifying windows found
	LargestGroup  int       `json:"largestGroup"`
	WindowStart   time.Time `json:"windowStart"` // Start of the densest window
	SourceWallets []string  `json:"sourceWallets"`
}

// AmountEvidence describes recurring rounded amounts along chains.
type AmountEvidence struct {
	RecurringAmount   float64 `json:"recurringAmount"` // The dominant rounded value
	Occurrences       int     `json:"occurrences"`
	TotalAmounts      int     `json:"totalAmounts"`
	RecurringFraction float64 `json:"recurringFraction"`
}

// RepetitionEvidence describes repeated origin wallets across chains.
type RepetitionEvidence struct {
	RepeatedSources map[string]int `json:"repeatedSources"` // Origin → chain occurrences
	TotalChains     int            `json:"totalChains"`
}

// CircularEvidence describes funding cycles through the target.
type CircularEvidence struct {
	CycleCount int        `json:"cycleCount"`
	Cycles     [][]string `json:"cycles"` // Each cycle as an ordered wallet list
	MaxLength  int        `json:"maxLength"`
}

// DetectorError records one detector's failure without aborting the rest
// of an analysis; the scorer treats it as "no finding".
type DetectorError struct {
	PatternType PatternType `json:"patternType"`
	Error       string      `json:"error"`
}

// SourceProfile is a classified and risk-scored origin wallet discovered
// by a trace.
type SourceProfile struct {
	Wallet      string     `json:"wallet"`
	Type        SourceType `json:"type"`
	Label       string     `json:"label,omitempty"` // Curated tag when the wallet is known
	RiskScore   float64    `json:"riskScore"`       // Clamped to [0,1]
	RiskLevel   RiskLevel  `json:"riskLevel"`
	ChainCount  int        `json:"chainCount"`  // Chains terminating at this origin
	TotalAmount float64    `json:"totalAmount"` // Summed over those chains
	TxCount     int        `json:"txCount"`     // Graph-wide outbound transfer count
	OutDegree   int        `json:"outDegree"`
	InDegree    int        `json:"inDegree"`
}

// RiskFactors is the per-factor breakdown feeding the overall score.
type RiskFactors struct {
	SourceRisk  float64 `json:"sourceRisk"`  // Weight 0.3
	PatternRisk float64 `json:"patternRisk"` // Weight 0.3
	DepthRisk   float64 `json:"depthRisk"`   // Weight 0.2
	AmountRisk  float64 `json:"amountRisk"`  // Weight 0.2
}

// RiskAssessment is the deterministic aggregate over sources, findings,
// depth and volume.
type RiskAssessment struct {
	OverallScore    float64     `json:"overallScore"` // Weighted blend, clamped to [0,1]
	Level           RiskLevel   `json:"level"`
	Factors         RiskFactors `json:"factors"`
	Blockers        []string    `json:"blockers,omitempty"`        // Factors scoring below 0.5 safety
	Recommendations []string    `json:"recommendations,omitempty"` // Factors scoring below 0.7 safety
}

// FundingAnalysis bundles one complete trace-classify-detect-score pass
// for a wallet.
type FundingAnalysis struct {
	Wallet         string          `json:"wallet"`
	MaxDepth       int             `json:"maxDepth"`
	Chains         []Chain         `json:"chains"`
	Sources        []SourceProfile `json:"sources"`
	Findings       []Finding       `json:"findings"`
	DetectorErrors []DetectorError `json:"detectorErrors,omitempty"`
	Risk           RiskAssessment  `json:"risk"`
	Truncated      bool            `json:"truncated"` // Trace hit maxChains/maxDepth before exhaustion
	GraphVersion   uint64          `json:"graphVersion"`
	AnalyzedAt     time.Time       `json:"analyzedAt"`
	ElapsedMs      int64           `json:"elapsedMs"`
	Cached         bool            `json:"cached,omitempty"` // Served from the analysis cache
}

// WalletCentrality holds per-wallet centrality measures for a topology scope.
type WalletCentrality struct {
	Wallet      string  `json:"wallet"`
	InDegree    int     `json:"inDegree"`
	OutDegree   int     `json:"outDegree"`
	Betweenness float64 `json:"betweenness"`
	Closeness   float64 `json:"closeness"`
	Eigenvector float64 `json:"eigenvector"`
	PageRank    float64 `json:"pageRank"`
}

// Community is one modularity partition of the undirected projection.
type Community struct {
	ID      int      `json:"id"`
	Wallets []string `json:"wallets"`
}

// Topology is the read-only structural report for a bounded neighborhood
// (or the whole graph for an overview request). Feeds reporting, not risk.
type Topology struct {
	Wallet             string             `json:"wallet,omitempty"` // Empty for an overview request
	Radius             int                `json:"radius"`
	WalletCount        int                `json:"walletCount"`
	EdgeCount          int                `json:"edgeCount"`
	Centrality         []WalletCentrality `json:"centrality"`
	Communities        []Community        `json:"communities"`
	Bridges            []string           `json:"bridges"`            // Betweenness above mean + 1·stddev
	IsolatedClusters   [][]string         `json:"isolatedClusters"`   // Weak components disjoint from the wallet
	PartitionStability float64            `json:"partitionStability"` // Agreement with the previous snapshot, -1..1
	GraphVersion       uint64             `json:"graphVersion"`
	ComputedAt         time.Time          `json:"computedAt"`
}
