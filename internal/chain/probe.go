// Package chain answers on-chain lookups for the classifier. The only
// question asked today is whether an address carries bytecode.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"

	"github.com/rawblock/fundflow-engine/internal/config"
)

// codeReader is the slice of ethclient the probe needs.
type codeReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Probe checks wallets against a JSON-RPC node. Results are memoized
// for the process lifetime: deployed bytecode is immutable, and an EOA
// that later becomes a contract is picked up on the next restart.
type Probe struct {
	client  codeReader
	closer  func()
	timeout time.Duration

	mu    sync.Mutex
	known map[string]bool
}

// Dial connects to the configured RPC endpoint. The connection is
// verified lazily; ethclient does not touch the network until the
// first call.
func Dial(cfg config.ChainConfig) (*Probe, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", cfg.RPCURL, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	log.Info().Str("endpoint", cfg.RPCURL).Msg("chain probe connected")
	return &Probe{
		client:  client,
		closer:  client.Close,
		timeout: timeout,
	}, nil
}

// Close releases the underlying RPC connection.
func (p *Probe) Close() {
	if p.closer != nil {
		p.closer()
	}
}

// IsContract reports whether the wallet has deployed bytecode at the
// latest block. Lookup failures are treated as non-contract and are
// not memoized, so a flaky node only degrades classification until the
// next call.
func (p *Probe) IsContract(wallet string) bool {
	key := strings.ToLower(strings.TrimSpace(wallet))

	p.mu.Lock()
	if p.known == nil {
		p.known = make(map[string]bool)
	}
	if v, ok := p.known[key]; ok {
		p.mu.Unlock()
		return v
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	code, err := p.client.CodeAt(ctx, common.HexToAddress(key), nil)
	if err != nil {
		log.Warn().Err(err).Str("wallet", key).Msg("bytecode lookup failed, classifying as non-contract")
		return false
	}
	isContract := len(code) > 0

	p.mu.Lock()
	p.known[key] = isContract
	p.mu.Unlock()
	return isContract
}
