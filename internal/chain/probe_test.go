package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type stubReader struct {
	code  map[common.Address][]byte
	err   error
	calls int
}

func (s *stubReader) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.code[account], nil
}

const (
	contractAddr = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	eoaAddr      = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func testProbe(reader *stubReader) *Probe {
	return &Probe{client: reader, timeout: time.Second}
}

func TestIsContract(t *testing.T) {
	reader := &stubReader{code: map[common.Address][]byte{
		common.HexToAddress(contractAddr): {0x60, 0x80},
	}}
	p := testProbe(reader)

	if !p.IsContract(contractAddr) {
		t.Error("address with bytecode reported as non-contract")
	}
	if p.IsContract(eoaAddr) {
		t.Error("address without bytecode reported as contract")
	}
}

func TestIsContract_MemoizesResults(t *testing.T) {
	reader := &stubReader{code: map[common.Address][]byte{
		common.HexToAddress(contractAddr): {0x60, 0x80},
	}}
	p := testProbe(reader)

	for i := 0; i < 3; i++ {
		p.IsContract(contractAddr)
		p.IsContract(eoaAddr)
	}
	if reader.calls != 2 {
		t.Errorf("reader calls = %d, want 2 (one per address)", reader.calls)
	}
}

func TestIsContract_CaseInsensitive(t *testing.T) {
	reader := &stubReader{code: map[common.Address][]byte{
		common.HexToAddress(contractAddr): {0x60},
	}}
	p := testProbe(reader)

	p.IsContract(contractAddr)
	p.IsContract("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	if reader.calls != 1 {
		t.Errorf("reader calls = %d, want 1 (memo key is lowercased)", reader.calls)
	}
}

func TestIsContract_ErrorIsNotMemoized(t *testing.T) {
	reader := &stubReader{
		code: map[common.Address][]byte{common.HexToAddress(contractAddr): {0x60}},
		err:  errors.New("node is down"),
	}
	p := testProbe(reader)

	if p.IsContract(contractAddr) {
		t.Error("failed lookup reported as contract")
	}

	reader.err = nil
	if !p.IsContract(contractAddr) {
		t.Error("recovered lookup still reported as non-contract")
	}
	if reader.calls != 2 {
		t.Errorf("reader calls = %d, want 2 (errors retry)", reader.calls)
	}
}
