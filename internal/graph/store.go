// Package graph owns the funding multigraph: wallet nodes, directed
// aggregated edges, and the single write path every ingested transfer
// goes through. Readers get copy-on-read snapshots and may run
// concurrently with writes.
package graph

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/rawblock/fundflow-engine/internal/config"
	"github.com/rawblock/fundflow-engine/internal/faults"
	"github.com/rawblock/fundflow-engine/internal/telemetry"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// EventPersister is the durable-store collaborator. SaveEvent is the
// write of record and its failure aborts ingestion; SaveEdge persists a
// derivable aggregate and failures there are logged, not surfaced.
type EventPersister interface {
	SaveEvent(ctx context.Context, ev models.FundingEvent, pre models.PrecheckResult) error
	SaveEdge(ctx context.Context, edge models.Edge) error
}

type edgeKey struct {
	source string
	target string
}

// Store is the in-memory graph. One coarse RWMutex guards all maps:
// AddConnection is the only mutator, readers take the read lock and
// copy what they return.
type Store struct {
	mu      sync.RWMutex
	edges   map[edgeKey]*models.Edge
	out     map[string][]edgeKey // Wallet → outgoing edge keys
	in      map[string][]edgeKey // Wallet → incoming edge keys
	seenTx  map[string]struct{}  // source|target|txHash dedup
	version uint64

	cfg       config.GraphConfig
	persister EventPersister
}

// NewStore builds an empty graph with the given tunables.
func NewStore(cfg config.GraphConfig) *Store {
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = 256
	}
	if cfg.StrengthNorm <= 0 {
		cfg.StrengthNorm = 10
	}
	if cfg.FrequencyNorm <= 0 {
		cfg.FrequencyNorm = 10
	}
	return &Store{
		edges:  make(map[edgeKey]*models.Edge),
		out:    make(map[string][]edgeKey),
		in:     make(map[string][]edgeKey),
		seenTx: make(map[string]struct{}),
		cfg:    cfg,
	}
}

// AttachPersister wires the durable store. Called after boot replay so
// replayed events are not written back out.
func (s *Store) AttachPersister(p EventPersister) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persister = p
}

// Normalize canonicalizes a wallet identifier to the lowercase hex form
// used as the graph node key.
func Normalize(wallet string) string {
	return strings.ToLower(strings.TrimSpace(wallet))
}

// ValidateWallet rejects identifiers that are not 0x-prefixed 20-byte
// hex addresses.
func ValidateWallet(wallet string) error {
	if !common.IsHexAddress(strings.TrimSpace(wallet)) {
		return faults.New(faults.InvalidInput, "malformed wallet address %q", wallet)
	}
	return nil
}

// AddConnection validates and records one funding event. It returns
// added=false without error for below-threshold and duplicate events;
// malformed input is an InvalidInput fault. The read-modify-write of
// the edge aggregate is atomic under the store lock.
func (s *Store) AddConnection(ctx context.Context, ev models.FundingEvent) (bool, error) {
	return s.add(ctx, ev, true)
}

// Replay applies an already-durable event during boot reload: same
// validation and aggregation path, no persistence writes.
func (s *Store) Replay(ev models.FundingEvent) (bool, error) {
	return s.add(context.Background(), ev, false)
}

func (s *Store) add(ctx context.Context, ev models.FundingEvent, persist bool) (bool, error) {
	if err := ValidateWallet(ev.Source); err != nil {
		telemetry.EventsRejected.WithLabelValues("invalid_address").Inc()
		return false, err
	}
	if err := ValidateWallet(ev.Target); err != nil {
		telemetry.EventsRejected.WithLabelValues("invalid_address").Inc()
		return false, err
	}
	ev.Source = Normalize(ev.Source)
	ev.Target = Normalize(ev.Target)
	ev.TxHash = strings.ToLower(strings.TrimSpace(ev.TxHash))
	if ev.Source == ev.Target {
		telemetry.EventsRejected.WithLabelValues("invalid_address").Inc()
		return false, faults.New(faults.InvalidInput, "self-transfer %s", ev.Source)
	}
	if ev.TxHash == "" {
		return false, faults.New(faults.InvalidInput, "missing txHash for %s→%s", ev.Source, ev.Target)
	}
	if ev.Amount.IsNegative() || ev.Amount.IsZero() {
		telemetry.EventsRejected.WithLabelValues("invalid_amount").Inc()
		return false, faults.New(faults.InvalidInput, "non-positive amount %s", ev.Amount)
	}
	amount, _ := ev.Amount.Float64()
	if amount < s.cfg.MinAmount {
		telemetry.EventsRejected.WithLabelValues("below_minimum").Inc()
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	txKey := ev.Source + "|" + ev.Target + "|" + ev.TxHash
	if _, dup := s.seenTx[txKey]; dup {
		telemetry.EventsRejected.WithLabelValues("duplicate").Inc()
		return false, nil
	}

	pre := s.precheckLocked(ev, amount)

	// The event row is the write of record: if it cannot be made
	// durable the in-memory graph is left untouched.
	if persist && s.persister != nil {
		if err := s.persister.SaveEvent(ctx, ev, pre); err != nil {
			return false, faults.Wrap(faults.Internal, err, "persisting event %s", ev.TxHash)
		}
	}

	s.seenTx[txKey] = struct{}{}
	edge := s.upsertLocked(ev, amount, pre)
	s.version++

	telemetry.EventsIngested.Inc()
	telemetry.GraphEdges.Set(float64(len(s.edges)))
	telemetry.GraphWallets.Set(float64(s.walletCountLocked()))

	if persist && s.persister != nil {
		if err := s.persister.SaveEdge(ctx, copyEdge(edge)); err != nil {
			log.Warn().Err(err).
				Str("source", ev.Source).Str("target", ev.Target).
				Msg("edge aggregate persist failed; will rebuild from events")
		}
	}
	return true, nil
}

// precheckLocked is the cheap synchronous manipulation screen run on
// every accepted event. Its output rides along with the stored event
// for later detector consumption.
func (s *Store) precheckLocked(ev models.FundingEvent, amount float64) models.PrecheckResult {
	var pre models.PrecheckResult

	if amount >= 1 && amount == math.Trunc(amount*10)/10 {
		pre.Flags = append(pre.Flags, "round_amount")
		pre.Score += 0.2
	}
	if edge, ok := s.edges[edgeKey{ev.Source, ev.Target}]; ok && len(edge.Samples) > 0 {
		last := edge.Samples[len(edge.Samples)-1].Timestamp
		if gap := ev.Timestamp.Sub(last); gap >= 0 && gap < time.Minute {
			pre.Flags = append(pre.Flags, "rapid_repeat")
			pre.Score += 0.4
		}
	}
	if _, ok := s.edges[edgeKey{ev.Target, ev.Source}]; ok {
		pre.Flags = append(pre.Flags, "reverse_edge")
		pre.Score += 0.4
	}
	if pre.Score > 1 {
		pre.Score = 1
	}
	return pre
}

func (s *Store) upsertLocked(ev models.FundingEvent, amount float64, pre models.PrecheckResult) *models.Edge {
	key := edgeKey{ev.Source, ev.Target}
	edge, ok := s.edges[key]
	if !ok {
		edge = &models.Edge{Source: ev.Source, Target: ev.Target, FirstSeen: ev.Timestamp}
		s.edges[key] = edge
		s.out[ev.Source] = append(s.out[ev.Source], key)
		s.in[ev.Target] = append(s.in[ev.Target], key)
	}

	edge.TotalAmount += amount
	edge.TransactionCount++
	edge.Samples = append(edge.Samples, models.TransferSample{Amount: amount, Timestamp: ev.Timestamp})
	if len(edge.Samples) > s.cfg.MaxSamples {
		edge.Samples = edge.Samples[len(edge.Samples)-s.cfg.MaxSamples:]
	}
	if ev.Timestamp.After(edge.LastSeen) {
		edge.LastSeen = ev.Timestamp
	}
	if len(pre.Flags) > 0 {
		edge.FlaggedCount++
	}
	edge.Metrics = s.recomputeMetricsLocked(edge)
	return edge
}

// recomputeMetricsLocked derives the relationship snapshot from the
// current aggregate state. Normalizers are fixed production constants.
func (s *Store) recomputeMetricsLocked(edge *models.Edge) models.RelationshipMetrics {
	strength := math.Min(1, edge.TotalAmount/s.cfg.StrengthNorm)
	frequency := math.Min(1, float64(edge.TransactionCount)/s.cfg.FrequencyNorm)
	consistency := math.Max(0, 1-sampleVariance(edge.Samples))
	return models.RelationshipMetrics{
		Strength:          strength,
		FrequencyScore:    frequency,
		AmountConsistency: consistency,
	}
}

// sampleVariance is the population variance of the retained window.
func sampleVariance(samples []models.TransferSample) float64 {
	n := float64(len(samples))
	if n < 2 {
		return 0
	}
	var sum float64
	for _, sm := range samples {
		sum += sm.Amount
	}
	mean := sum / n
	var sq float64
	for _, sm := range samples {
		d := sm.Amount - mean
		sq += d * d
	}
	return sq / n
}

// HasWallet reports whether the wallet appears on any edge.
func (s *Store) HasWallet(wallet string) bool {
	wallet = Normalize(wallet)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.in[wallet]) > 0 || len(s.out[wallet]) > 0
}

// HasEdge reports whether at least one transfer source→target was observed.
func (s *Store) HasEdge(source, target string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.edges[edgeKey{Normalize(source), Normalize(target)}]
	return ok
}

// EdgeBetween returns a copy of the source→target aggregate.
func (s *Store) EdgeBetween(source, target string) (models.Edge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	edge, ok := s.edges[edgeKey{Normalize(source), Normalize(target)}]
	if !ok {
		return models.Edge{}, false
	}
	return copyEdge(edge), true
}

// InEdges returns point-in-time copies of all edges into the wallet.
func (s *Store) InEdges(wallet string) []models.Edge {
	wallet = Normalize(wallet)
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.in[wallet]
	result := make([]models.Edge, 0, len(keys))
	for _, k := range keys {
		result = append(result, copyEdge(s.edges[k]))
	}
	return result
}

// OutEdges returns point-in-time copies of all edges out of the wallet.
func (s *Store) OutEdges(wallet string) []models.Edge {
	wallet = Normalize(wallet)
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.out[wallet]
	result := make([]models.Edge, 0, len(keys))
	for _, k := range keys {
		result = append(result, copyEdge(s.edges[k]))
	}
	return result
}

// WalletStats summarizes one wallet's aggregate position in the graph.
type WalletStats struct {
	InDegree   int
	OutDegree  int
	InTxCount  int
	OutTxCount int
	InTotal    float64
	OutTotal   float64
	FlaggedOut int
}

// Stats returns degree and volume aggregates for a wallet.
func (s *Store) Stats(wallet string) WalletStats {
	wallet = Normalize(wallet)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st WalletStats
	st.InDegree = len(s.in[wallet])
	st.OutDegree = len(s.out[wallet])
	for _, k := range s.in[wallet] {
		st.InTxCount += s.edges[k].TransactionCount
		st.InTotal += s.edges[k].TotalAmount
	}
	for _, k := range s.out[wallet] {
		st.OutTxCount += s.edges[k].TransactionCount
		st.OutTotal += s.edges[k].TotalAmount
		st.FlaggedOut += s.edges[k].FlaggedCount
	}
	return st
}

// Neighbors returns the distinct wallets adjacent in either direction.
// Traversals that only need adjacency use this instead of the edge
// readers to skip copying sample rings.
func (s *Store) Neighbors(wallet string) []string {
	wallet = Normalize(wallet)
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{}, len(s.out[wallet])+len(s.in[wallet]))
	result := make([]string, 0, len(s.out[wallet])+len(s.in[wallet]))
	for _, k := range s.out[wallet] {
		if _, ok := seen[k.target]; !ok {
			seen[k.target] = struct{}{}
			result = append(result, k.target)
		}
	}
	for _, k := range s.in[wallet] {
		if _, ok := seen[k.source]; !ok {
			seen[k.source] = struct{}{}
			result = append(result, k.source)
		}
	}
	return result
}

// Wallets returns every wallet key present in the graph.
func (s *Store) Wallets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(map[string]struct{}, len(s.out)+len(s.in))
	for w := range s.out {
		set[w] = struct{}{}
	}
	for w := range s.in {
		set[w] = struct{}{}
	}
	result := make([]string, 0, len(set))
	for w := range set {
		result = append(result, w)
	}
	return result
}

// EdgeCount returns the number of directed edges.
func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

// WalletCount returns the number of distinct wallets.
func (s *Store) WalletCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.walletCountLocked()
}

func (s *Store) walletCountLocked() int {
	set := make(map[string]struct{}, len(s.out)+len(s.in))
	for w := range s.out {
		set[w] = struct{}{}
	}
	for w := range s.in {
		set[w] = struct{}{}
	}
	return len(set)
}

// Version returns the monotonically increasing graph version. It bumps
// once per accepted event; caches key on it.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func copyEdge(e *models.Edge) models.Edge {
	out := *e
	out.Samples = make([]models.TransferSample, len(e.Samples))
	copy(out.Samples, e.Samples)
	return out
}
