package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/rawblock/fundflow-engine/internal/graph"
	"github.com/rawblock/fundflow-engine/internal/telemetry"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// WalletState tracks where a monitored wallet sits in its check cycle.
type WalletState string

const (
	StateIdle     WalletState = "IDLE"
	StateChecking WalletState = "CHECKING"
	StateAlerted  WalletState = "ALERTED"
)

// WatchedWallet holds monitoring metadata for one wallet.
type WatchedWallet struct {
	Wallet     string           `json:"wallet"`
	Label      string           `json:"label,omitempty"` // Analyst-supplied note
	AddedAt    time.Time        `json:"addedAt"`
	State      WalletState      `json:"state"`
	LastCheck  time.Time        `json:"lastCheck"`
	LastScore  float64          `json:"lastScore"`
	LastLevel  models.RiskLevel `json:"lastLevel,omitempty"`
	AlertCount int              `json:"alertCount"`

	// gen invalidates results from abandoned checks: a stale goroutine
	// finishing after its timeout carries an old generation and its
	// write is discarded.
	gen uint64
}

// WatchSet is the concurrent-safe set of monitored wallets. Add and
// Remove are idempotent and safe while a sweep is in flight.
type WatchSet struct {
	mu      sync.RWMutex
	wallets map[string]*WatchedWallet
}

func NewWatchSet() *WatchSet {
	return &WatchSet{wallets: make(map[string]*WatchedWallet)}
}

// Add registers a wallet for monitoring. Re-adding an existing wallet
// refreshes its label and nothing else.
func (w *WatchSet) Add(wallet, label string) error {
	if err := graph.ValidateWallet(wallet); err != nil {
		return err
	}
	wallet = graph.Normalize(wallet)

	w.mu.Lock()
	defer w.mu.Unlock()
	if entry, ok := w.wallets[wallet]; ok {
		if label != "" {
			entry.Label = label
		}
		return nil
	}
	w.wallets[wallet] = &WatchedWallet{
		Wallet:  wallet,
		Label:   label,
		AddedAt: time.Now().UTC(),
		State:   StateIdle,
	}
	telemetry.WatchlistSize.Set(float64(len(w.wallets)))
	return nil
}

// Remove stops monitoring a wallet. Unknown wallets are a no-op.
func (w *WatchSet) Remove(wallet string) {
	wallet = graph.Normalize(wallet)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.wallets[wallet]; !ok {
		return
	}
	delete(w.wallets, wallet)
	telemetry.WatchlistSize.Set(float64(len(w.wallets)))
}

// Contains reports whether a wallet is monitored.
func (w *WatchSet) Contains(wallet string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.wallets[graph.Normalize(wallet)]
	return ok
}

// Get returns a copy of one wallet's monitoring entry.
func (w *WatchSet) Get(wallet string) (WatchedWallet, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	entry, ok := w.wallets[graph.Normalize(wallet)]
	if !ok {
		return WatchedWallet{}, false
	}
	return *entry, true
}

// List returns all entries ordered by wallet.
func (w *WatchSet) List() []WatchedWallet {
	w.mu.RLock()
	defer w.mu.RUnlock()

	list := make([]WatchedWallet, 0, len(w.wallets))
	for _, entry := range w.wallets {
		list = append(list, *entry)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Wallet < list[j].Wallet })
	return list
}

// Size returns the number of monitored wallets.
func (w *WatchSet) Size() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.wallets)
}

// Wallets returns a sorted snapshot of monitored wallet keys for one
// sweep pass.
func (w *WatchSet) Wallets() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	wallets := make([]string, 0, len(w.wallets))
	for wallet := range w.wallets {
		wallets = append(wallets, wallet)
	}
	sort.Strings(wallets)
	return wallets
}

// beginCheck moves a wallet into CHECKING and hands out the check
// generation. A wallet already mid-check (a straggler from the previous
// tick) is skipped, not double-checked.
func (w *WatchSet) beginCheck(wallet string) (uint64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, ok := w.wallets[wallet]
	if !ok || entry.State == StateChecking {
		return 0, false
	}
	entry.State = StateChecking
	entry.gen++
	return entry.gen, true
}

// finishCheck records a completed check. Results from a superseded
// generation are dropped.
func (w *WatchSet) finishCheck(wallet string, gen uint64, alerted bool, score float64, level models.RiskLevel) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, ok := w.wallets[wallet]
	if !ok || entry.gen != gen || entry.State != StateChecking {
		return
	}
	entry.LastCheck = time.Now().UTC()
	entry.LastScore = score
	entry.LastLevel = level
	if alerted {
		entry.State = StateAlerted
		entry.AlertCount++
	} else {
		entry.State = StateIdle
	}
}

// abandonCheck resets a timed-out check so the next tick retries it.
func (w *WatchSet) abandonCheck(wallet string, gen uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, ok := w.wallets[wallet]
	if !ok || entry.gen != gen || entry.State != StateChecking {
		return false
	}
	entry.State = StateIdle
	return true
}
