package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gridtap/pkg/crypto"
	"gridtap/pkg/grid"
	"gridtap/pkg/order"
	"gridtap/pkg/session"
	"gridtap/pkg/util"
	"gridtap/pkg/wallet"
)

// Offline demo: generate a trader key, delegate a session key, sign one
// tap order and verify the signature recovers to the session key.
func main() {
	log := zap.NewNop().Sugar()

	fmt.Println("Generating trader keypair...")
	traderKey, err := crypto.GenerateKey()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	traderWallet := wallet.NewLocalWallet(traderKey)
	fmt.Printf("Trader: %s\n", traderKey.Address().Hex())
	fmt.Printf("Private Key: %s (KEEP SECRET!)\n\n", traderKey.PrivateKeyHex())

	fmt.Println("Authorizing session key (1h)...")
	sessions := session.NewManager(util.RealClock{}, log)
	key, err := sessions.Create(context.Background(), traderWallet, time.Hour)
	if err != nil {
		fmt.Printf("Error authorizing session: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Session Key: %s\n", key.Address.Hex())
	fmt.Printf("Expires At:  %s\n", time.UnixMilli(key.ExpiresAt).Format(time.RFC3339))
	fmt.Printf("Auth Sig:    %s\n\n", hexutil.Encode(key.AuthSignature))

	now := time.Now().Unix()
	gs := &grid.Session{
		Symbol:           "BTC-USD",
		MarginTotal:      decimal.NewFromInt(100),
		Leverage:         10,
		TimeframeSeconds: 60,
		GridSizeX:        1,
		GridSizeYPercent: 50,
		ReferenceTime:    grid.SnapReferenceTime(now, 1, 60),
		ReferencePrice:   decimal.NewFromInt(50000),
	}

	executor := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	builder := order.NewBuilder(executor, sessions, traderWallet, true, log)

	target := gs.CellTarget(2, -2)
	fmt.Printf("Tap cell (2,-2): trigger=%s window=[%d,%d) long=%v\n\n",
		target.TriggerPrice.StringFixed(8), target.StartTime, target.EndTime, target.IsLong)

	signed, err := builder.Build(context.Background(), gs, target, gs.ReferencePrice, now, big.NewInt(1))
	if err != nil {
		fmt.Printf("Error building order: %v\n", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(signed, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Signed Order (JSON):")
	fmt.Println(string(out))
	fmt.Println()

	fmt.Println("Verifying signature...")
	collateral := gs.MarginTotal.Shift(6).BigInt()
	digest := order.Digest(traderKey.Address(), signed.Symbol, signed.IsLong,
		collateral, big.NewInt(signed.Leverage), big.NewInt(1), executor)
	sig, err := hexutil.Decode(signed.Signature)
	if err != nil {
		fmt.Printf("Error decoding signature: %v\n", err)
		os.Exit(1)
	}
	recovered, err := crypto.RecoverAddress(crypto.PersonalSignHash(digest), sig)
	if err != nil {
		fmt.Printf("Error recovering signer: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Recovered signer: %s\n", recovered.Hex())
	if recovered == key.Address {
		fmt.Println("OK: order was signed by the delegated session key")
	} else {
		fmt.Println("MISMATCH: signature did not recover to the session key")
		os.Exit(1)
	}
}
