package order

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gridtap/pkg/crypto"
	"gridtap/pkg/grid"
	"gridtap/pkg/session"
	"gridtap/pkg/wallet"
)

// Digest builds the canonical order message hash:
// keccak256(abi.encodePacked(trader, symbol, isLong, collateral,
// leverage, nonce, executor)). The executor address is part of the
// message so a signature cannot be replayed against a different
// executor or chain.
func Digest(trader common.Address, symbol string, isLong bool, collateral, leverage, nonce *big.Int, executor common.Address) []byte {
	return crypto.Keccak256(
		crypto.PackAddress(trader),
		[]byte(symbol),
		crypto.PackBool(isLong),
		crypto.PackUint256(collateral),
		crypto.PackUint256(leverage),
		crypto.PackUint256(nonce),
		crypto.PackAddress(executor),
	)
}

// Builder assembles and signs orders. Signing prefers the session key
// (no prompt); any session failure falls back to the primary wallet,
// and the resulting order is marked accordingly.
type Builder struct {
	executor     common.Address
	sessions     *session.Manager
	walletSigner wallet.Signer
	allowSession bool
	log          *zap.SugaredLogger
}

func NewBuilder(executor common.Address, sessions *session.Manager, walletSigner wallet.Signer, allowSession bool, log *zap.SugaredLogger) *Builder {
	return &Builder{
		executor:     executor,
		sessions:     sessions,
		walletSigner: walletSigner,
		allowSession: allowSession,
		log:          log,
	}
}

// Build signs a new order for the given grid target with the supplied
// fresh nonce. entryPrice/entryTime are the trader's reference at tap
// time and feed the payout multiplier. The caller holds the in-flight
// guard and has fetched the nonce immediately beforehand.
func (b *Builder) Build(ctx context.Context, gs *grid.Session, target grid.CellTarget, entryPrice decimal.Decimal, entryTime int64, nonce *big.Int) (*SignedOrder, error) {
	if b.walletSigner == nil {
		return nil, wallet.ErrWalletNotFound
	}
	trader := b.walletSigner.Address()

	collateral := gs.MarginTotal.Shift(6).BigInt()
	digest := Digest(trader, gs.Symbol, target.IsLong, collateral, big.NewInt(gs.Leverage), nonce, b.executor)

	signature, sessionKey, err := b.sign(ctx, digest)
	if err != nil {
		return nil, err
	}

	if entryPrice.IsZero() {
		entryPrice = gs.ReferencePrice
	}
	multiplier := grid.Multiplier(entryPrice, target.TriggerPrice, entryTime, target.StartTime)

	return &SignedOrder{
		ClientID:     uuid.NewString(),
		Trader:       trader.Hex(),
		Symbol:       gs.Symbol,
		IsLong:       target.IsLong,
		Collateral:   gs.MarginTotal.StringFixed(6),
		Leverage:     gs.Leverage,
		Nonce:        nonce.String(),
		TriggerPrice: target.TriggerPrice.StringFixed(8),
		StartTime:    target.StartTime,
		EndTime:      target.EndTime,
		Multiplier:   multiplier.String(),
		Signature:    hexutil.Encode(signature),
		SessionKey:   sessionKey,
	}, nil
}

// Resign produces a fresh signature for an existing order's economic
// fields under a new nonce. The returned signature and session marker
// replace the stale ones; nothing else about the order changes.
func (b *Builder) Resign(ctx context.Context, o *SignedOrder, nonce *big.Int) (sigHex string, sessionKey string, err error) {
	if b.walletSigner == nil {
		return "", "", wallet.ErrWalletNotFound
	}

	collateral, err := parseFixed(o.Collateral, 6)
	if err != nil {
		return "", "", fmt.Errorf("invalid collateral %q: %w", o.Collateral, err)
	}

	trader := common.HexToAddress(o.Trader)
	digest := Digest(trader, o.Symbol, o.IsLong, collateral, big.NewInt(o.Leverage), nonce, b.executor)

	signature, sessionKey, err := b.sign(ctx, digest)
	if err != nil {
		return "", "", err
	}
	return hexutil.Encode(signature), sessionKey, nil
}

// parseFixed converts a fixed-point decimal string to its scaled integer
// form (e.g. "100.50" at 6 places -> 100500000).
func parseFixed(s string, places int32) (*big.Int, error) {
	dec, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return dec.Shift(places).BigInt(), nil
}

// sign tries the session key first, then the primary wallet. The second
// return value is the session key address when it signed, empty when the
// wallet did.
func (b *Builder) sign(ctx context.Context, digest []byte) ([]byte, string, error) {
	if b.allowSession && b.sessions != nil && b.sessions.Valid() {
		sig, signer, err := b.sessions.SignWithSession(digest)
		if err == nil {
			// Use the address the manager reported, not a fresh Key()
			// lookup: the session may be wiped between the two calls.
			return sig, signer.Hex(), nil
		}
		// Session signing failed mid-flight (likely expiry). Fall back
		// to the wallet prompt; the order will not count as
		// session-signed.
		b.log.Warnw("session_signing_failed_falling_back", "err", err)
	}

	sig, err := b.walletSigner.PersonalSign(ctx, digest)
	if err != nil {
		return nil, "", fmt.Errorf("wallet signing: %w", err)
	}
	return sig, "", nil
}
