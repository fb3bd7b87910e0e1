package nonce

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"gridtap/pkg/crypto"
)

// countingReader plays the role of the chain: every read returns the
// next nonce, like the real counter advancing as orders are accepted.
type countingReader struct {
	next     int64
	lastCall []byte
	fail     bool
}

func (r *countingReader) Call(_ context.Context, _ common.Address, data []byte) ([]byte, error) {
	if r.fail {
		return nil, errors.New("rpc: connection refused")
	}
	r.lastCall = data
	n := r.next
	r.next++
	return crypto.PackUint256(big.NewInt(n)), nil
}

func TestFetchCurrent(t *testing.T) {
	reader := &countingReader{next: 7}
	executor := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	trader := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	seq := NewSequencer(reader, executor)

	n, err := seq.FetchCurrent(context.Background(), trader)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if n.Int64() != 7 {
		t.Errorf("nonce = %d, want 7", n.Int64())
	}

	// Calldata: selector || left-padded trader address.
	if len(reader.lastCall) != 36 {
		t.Fatalf("calldata length = %d, want 36", len(reader.lastCall))
	}
	if !bytes.Equal(reader.lastCall[:4], metaNoncesSelector) {
		t.Errorf("selector mismatch: %x", reader.lastCall[:4])
	}
	if !bytes.Equal(reader.lastCall[16:36], trader.Bytes()) {
		t.Errorf("trader not right-aligned in calldata: %x", reader.lastCall[4:])
	}
}

func TestFetchNeverCached(t *testing.T) {
	reader := &countingReader{next: 0}
	seq := NewSequencer(reader, common.Address{})
	trader := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	// Back-to-back builds always observe strictly increasing nonces.
	var prev int64 = -1
	for i := 0; i < 5; i++ {
		if err := seq.Begin(); err != nil {
			t.Fatalf("begin: %v", err)
		}
		n, err := seq.FetchCurrent(context.Background(), trader)
		seq.End()
		if err != nil {
			t.Fatalf("fetch: %v", err)
		}
		if n.Int64() <= prev {
			t.Errorf("nonce %d not strictly greater than previous %d", n.Int64(), prev)
		}
		prev = n.Int64()
	}
}

func TestFetchFailure(t *testing.T) {
	seq := NewSequencer(&countingReader{fail: true}, common.Address{})

	_, err := seq.FetchCurrent(context.Background(), common.Address{})
	if !errors.Is(err, ErrNonceFetchFailed) {
		t.Errorf("err = %v, want ErrNonceFetchFailed", err)
	}
}

func TestInFlightGuard(t *testing.T) {
	seq := NewSequencer(&countingReader{}, common.Address{})

	if err := seq.Begin(); err != nil {
		t.Fatalf("first begin: %v", err)
	}
	if !seq.InFlight() {
		t.Error("InFlight should report true while held")
	}

	// A tap arriving mid-construction is dropped, not queued.
	if err := seq.Begin(); !errors.Is(err, ErrOrderInFlight) {
		t.Errorf("second begin = %v, want ErrOrderInFlight", err)
	}

	seq.End()
	if seq.InFlight() {
		t.Error("InFlight should report false after End")
	}
	if err := seq.Begin(); err != nil {
		t.Errorf("begin after end: %v", err)
	}
	seq.End()

	// End without a held slot must be harmless (defer path).
	seq.End()
}
