package nonce

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"gridtap/pkg/crypto"
	"gridtap/pkg/wallet"
)

var (
	// ErrOrderInFlight means an order construction is already running.
	// The tap is dropped, never queued; queuing would reintroduce the
	// duplicate-nonce race this guard exists to prevent.
	ErrOrderInFlight = errors.New("nonce: an order is already in flight, please wait")

	// ErrNonceFetchFailed wraps any failure to read the authoritative
	// nonce. No signing happens without a fresh read.
	ErrNonceFetchFailed = errors.New("nonce: failed to fetch current nonce")
)

// metaNonces(address) selector, computed once.
var metaNoncesSelector = crypto.Keccak256([]byte("metaNonces(address)"))[:4]

// Sequencer reads the authoritative per-(trader, executor) nonce and
// serializes order construction. The counter is owned by the settlement
// system; the client only ever reads it, immediately before signing,
// never caching across taps.
type Sequencer struct {
	reader   wallet.ChainReader
	executor common.Address
	inFlight atomic.Bool
}

func NewSequencer(reader wallet.ChainReader, executor common.Address) *Sequencer {
	return &Sequencer{reader: reader, executor: executor}
}

// Begin claims the single in-flight slot for one fetch-sign-submit
// critical section. Returns ErrOrderInFlight when another construction
// holds it. Pair with a deferred End.
func (s *Sequencer) Begin() error {
	if !s.inFlight.CompareAndSwap(false, true) {
		return ErrOrderInFlight
	}
	return nil
}

// End releases the in-flight slot. Safe to call unconditionally in a
// defer; guards must be reset on every path.
func (s *Sequencer) End() {
	s.inFlight.Store(false)
}

// InFlight reports whether an order construction currently holds the slot.
func (s *Sequencer) InFlight() bool {
	return s.inFlight.Load()
}

// FetchCurrent reads metaNonces(trader) from the executor contract.
func (s *Sequencer) FetchCurrent(ctx context.Context, trader common.Address) (*big.Int, error) {
	data := make([]byte, 0, 36)
	data = append(data, metaNoncesSelector...)
	data = append(data, crypto.PackUint256(new(big.Int).SetBytes(trader.Bytes()))...)

	out, err := s.reader.Call(ctx, s.executor, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNonceFetchFailed, err)
	}
	if len(out) != 32 {
		return nil, fmt.Errorf("%w: unexpected return length %d", ErrNonceFetchFailed, len(out))
	}
	return new(big.Int).SetBytes(out), nil
}
