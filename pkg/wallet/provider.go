package wallet

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// The engine never talks to a wallet or a node beyond these two
// capabilities: one signing call and one contract read. Everything else
// (key custody, account selection UI) belongs to the injected provider.

var (
	// ErrWalletNotFound means no signing account is available.
	ErrWalletNotFound = errors.New("wallet: no signing account available")

	// ErrUserRejected means the user declined the wallet prompt.
	ErrUserRejected = errors.New("wallet: user rejected the request")
)

// Signer produces personal_sign (EIP-191) signatures for one account.
// PersonalSign may block on a user prompt; honor the context.
type Signer interface {
	Address() common.Address
	PersonalSign(ctx context.Context, message []byte) ([]byte, error)
}

// ChainReader performs read-only eth_call against chain state.
type ChainReader interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Provider is a full wallet boundary: signing plus chain reads.
type Provider interface {
	Signer
	ChainReader
}
