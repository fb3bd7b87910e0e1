package wallet

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"gridtap/pkg/crypto"
)

// LocalWallet signs with an in-process key, prompt-free. Used for
// headless operation and tests; production traders inject an RPCProvider
// backed by their wallet instead.
type LocalWallet struct {
	signer *crypto.Signer
}

func NewLocalWallet(signer *crypto.Signer) *LocalWallet {
	return &LocalWallet{signer: signer}
}

func (w *LocalWallet) Address() common.Address {
	return w.signer.Address()
}

// PersonalSign applies the EIP-191 prefix and signs, exactly as a wallet
// would for personal_sign.
func (w *LocalWallet) PersonalSign(_ context.Context, message []byte) ([]byte, error) {
	return w.signer.Sign(crypto.PersonalSignHash(message))
}

var _ Signer = (*LocalWallet)(nil)
