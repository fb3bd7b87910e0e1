package wallet

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// EIP-1193 error code emitted by wallets when the user dismisses a prompt.
const codeUserRejected = 4001

// RPCProvider speaks to an Ethereum-style JSON-RPC provider
// (personal_sign + eth_call). This is the production wallet boundary.
type RPCProvider struct {
	client  *rpc.Client
	account common.Address
}

// DialRPC connects to url and binds to its first unlocked account.
func DialRPC(ctx context.Context, url string) (*RPCProvider, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial provider: %w", err)
	}

	var accounts []common.Address
	if err := client.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		client.Close()
		return nil, fmt.Errorf("eth_accounts: %w", err)
	}
	if len(accounts) == 0 {
		client.Close()
		return nil, ErrWalletNotFound
	}

	return &RPCProvider{client: client, account: accounts[0]}, nil
}

// NewRPCProvider wraps an existing rpc.Client bound to a fixed account.
func NewRPCProvider(client *rpc.Client, account common.Address) *RPCProvider {
	return &RPCProvider{client: client, account: account}
}

func (p *RPCProvider) Address() common.Address {
	return p.account
}

// PersonalSign requests a personal_sign signature from the wallet.
// Blocks until the user approves or rejects the prompt.
func (p *RPCProvider) PersonalSign(ctx context.Context, message []byte) ([]byte, error) {
	var result hexutil.Bytes
	err := p.client.CallContext(ctx, &result, "personal_sign", hexutil.Encode(message), p.account.Hex())
	if err != nil {
		if rpcErr, ok := err.(rpc.Error); ok && rpcErr.ErrorCode() == codeUserRejected {
			return nil, ErrUserRejected
		}
		return nil, fmt.Errorf("personal_sign: %w", err)
	}
	if len(result) != 65 {
		return nil, fmt.Errorf("personal_sign returned %d bytes, want 65", len(result))
	}
	return result, nil
}

// Call performs eth_call against the latest block.
func (p *RPCProvider) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	args := map[string]interface{}{
		"to":   to.Hex(),
		"data": hexutil.Encode(data),
	}
	var result hexutil.Bytes
	if err := p.client.CallContext(ctx, &result, "eth_call", args, "latest"); err != nil {
		return nil, fmt.Errorf("eth_call: %w", err)
	}
	return result, nil
}

// Close releases the underlying RPC connection.
func (p *RPCProvider) Close() {
	p.client.Close()
}

var _ Provider = (*RPCProvider)(nil)
