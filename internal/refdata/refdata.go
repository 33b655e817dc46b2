// Package refdata supplies the known-wallet reference directory used by
// the source classifier: exchange hot wallets, mixer contracts, mining
// pool payout wallets, deny/allow lists, and known contract addresses.
// The directory is swappable at runtime without code changes.
package refdata

import (
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Entry tags one wallet with its curated classification.
type Entry struct {
	Wallet string            `json:"wallet"`
	Label  string            `json:"label"` // Operator-facing tag, e.g. "Binance 1"
	Type   models.SourceType `json:"type"`
}

// Snapshot is the serialized directory format (version 1).
type Snapshot struct {
	Version   int               `json:"version"`
	Entries   []Entry           `json:"entries"`
	Denylist  map[string]string `json:"denylist"`  // Wallet → reason
	Allowlist map[string]string `json:"allowlist"` // Wallet → reason
	Contracts []string          `json:"contracts"` // Known contract addresses
}

// Directory is the in-memory lookup structure. Reads are lock-cheap;
// Replace swaps the whole content atomically.
type Directory struct {
	mu        sync.RWMutex
	entries   map[string]Entry
	denylist  map[string]string
	allowlist map[string]string
	contracts map[string]bool
}

// NewDirectory returns a directory seeded with the built-in tag set.
// Production deployments replace it via LoadFile or the admin API.
func NewDirectory() *Directory {
	d := &Directory{
		entries:   make(map[string]Entry),
		denylist:  make(map[string]string),
		allowlist: make(map[string]string),
		contracts: make(map[string]bool),
	}
	d.apply(seedSnapshot())
	return d
}

// LoadFile replaces the directory content from a JSON snapshot file.
func (d *Directory) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return err
	}
	d.Replace(snap)
	log.Info().Str("path", path).Int("entries", len(snap.Entries)).Msg("reference directory loaded")
	return nil
}

// Replace atomically swaps in a new snapshot.
func (d *Directory) Replace(snap Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = make(map[string]Entry, len(snap.Entries))
	d.denylist = make(map[string]string, len(snap.Denylist))
	d.allowlist = make(map[string]string, len(snap.Allowlist))
	d.contracts = make(map[string]bool, len(snap.Contracts))
	d.apply(snap)
}

// apply assumes d.mu is held (or the directory is not yet shared).
func (d *Directory) apply(snap Snapshot) {
	for _, e := range snap.Entries {
		e.Wallet = strings.ToLower(e.Wallet)
		d.entries[e.Wallet] = e
	}
	for w, reason := range snap.Denylist {
		d.denylist[strings.ToLower(w)] = reason
	}
	for w, reason := range snap.Allowlist {
		d.allowlist[strings.ToLower(w)] = reason
	}
	for _, w := range snap.Contracts {
		d.contracts[strings.ToLower(w)] = true
	}
}

// Lookup returns the curated entry for a wallet, if any.
func (d *Directory) Lookup(wallet string) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[strings.ToLower(wallet)]
	return e, ok
}

// Denylisted returns the deny reason for a wallet, if present.
func (d *Directory) Denylisted(wallet string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	reason, ok := d.denylist[strings.ToLower(wallet)]
	return reason, ok
}

// Allowlisted returns the allow reason for a wallet, if present.
func (d *Directory) Allowlisted(wallet string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	reason, ok := d.allowlist[strings.ToLower(wallet)]
	return reason, ok
}

// IsContract reports whether the wallet is a known contract address.
// Stands in for on-chain code lookup, which lives outside this engine.
func (d *Directory) IsContract(wallet string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.contracts[strings.ToLower(wallet)]
}

// Size returns the curated entry count (denylist and contracts excluded).
func (d *Directory) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// seedSnapshot is a representative tag set. Production runs against a
// directory of millions of tagged wallets served from the data team's
// pipeline; this seed keeps development and tests meaningful.
func seedSnapshot() Snapshot {
	return Snapshot{
		Version: 1,
		Entries: []Entry{
			{Wallet: "0x3f5ce5fbfe3e9af3971dd833d26ba9b5c936f0be", Label: "Binance 1", Type: models.SourceExchange},
			{Wallet: "0xd551234ae421e3bcba99a0da6d736074f22192ff", Label: "Binance 2", Type: models.SourceExchange},
			{Wallet: "0x564286362092d8e7936f0549571a803b203aaced", Label: "Binance 3", Type: models.SourceExchange},
			{Wallet: "0x71660c4005ba85c37ccec55d0c4493e66fe775d3", Label: "Coinbase 1", Type: models.SourceExchange},
			{Wallet: "0x503828976d22510aad0201ac7ec88293211d23da", Label: "Coinbase 2", Type: models.SourceExchange},
			{Wallet: "0x2910543af39aba0cd09dbb2d50200b3e800a63d2", Label: "Kraken 1", Type: models.SourceExchange},
			{Wallet: "0x0a869d79a7052c7f1b55a8ebabbea3420f0d1e13", Label: "Kraken 2", Type: models.SourceExchange},
			{Wallet: "0x722122df12d4e14e13ac3b6895a86e84145b6967", Label: "Tornado Cash Router", Type: models.SourceMixer},
			{Wallet: "0xd90e2f925da726b50c4ed8d0fb90ad053324f31b", Label: "Tornado Cash Router (legacy)", Type: models.SourceMixer},
			{Wallet: "0x910cbd523d972eb0a6f4cae4618ad62622b39dbf", Label: "Tornado Cash 10 ETH", Type: models.SourceMixer},
			{Wallet: "0xa160cdab225685da1d56aa342ad8841c3b53f291", Label: "Tornado Cash 100 ETH", Type: models.SourceMixer},
			{Wallet: "0xea674fdde714fd979de3edf0f56aa9716b898ec8", Label: "Ethermine", Type: models.SourceMiningPool},
			{Wallet: "0x829bd824b016326a401d083b33d092293333a830", Label: "F2Pool", Type: models.SourceMiningPool},
			{Wallet: "0x5a0b54d5dc17e0aadc383d2db43b0a0d3e029c4c", Label: "Spark Pool", Type: models.SourceMiningPool},
		},
		Denylist: map[string]string{
			"0x722122df12d4e14e13ac3b6895a86e84145b6967": "OFAC sanctioned mixer",
			"0x910cbd523d972eb0a6f4cae4618ad62622b39dbf": "OFAC sanctioned mixer",
			"0xa160cdab225685da1d56aa342ad8841c3b53f291": "OFAC sanctioned mixer",
		},
		Allowlist: map[string]string{
			"0x3f5ce5fbfe3e9af3971dd833d26ba9b5c936f0be": "KYC exchange hot wallet",
			"0x71660c4005ba85c37ccec55d0c4493e66fe775d3": "KYC exchange hot wallet",
		},
		Contracts: []string{
			"0x722122df12d4e14e13ac3b6895a86e84145b6967",
			"0xd90e2f925da726b50c4ed8d0fb90ad053324f31b",
			"0x910cbd523d972eb0a6f4cae4618ad62622b39dbf",
			"0xa160cdab225685da1d56aa342ad8841c3b53f291",
			"0x7a250d5630b4cf539739df2c5dacb4c659f2488d", // Uniswap V2 router
			"0xdac17f958d2ee523a2206206994597c13d831ec7", // USDT
		},
	}
}
