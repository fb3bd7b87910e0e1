package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer holds a secp256k1 key pair (Ethereum-compatible).
// Used both for the ephemeral session key and for headless local wallets.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// GenerateKey creates a new random secp256k1 key pair.
func GenerateKey() (*Signer, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return newSigner(privateKey), nil
}

// FromPrivateKeyHex creates a Signer from a hex-encoded private key
// (64 hex chars, no 0x prefix).
func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return newSigner(privateKey), nil
}

func newSigner(privateKey *ecdsa.PrivateKey) *Signer {
	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// Address returns the Ethereum address derived from the public key.
func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKeyHex returns the private key as hex string (no 0x prefix).
// Keep this secret; never log it.
func (s *Signer) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(s.privateKey))
}

// Sign signs a 32-byte hash and returns a 65-byte [R || S || V] signature
// with V normalized to 27/28, matching what wallets produce for
// personal_sign.
func (s *Signer) Sign(hash []byte) ([]byte, error) {
	if s.privateKey == nil {
		return nil, fmt.Errorf("key material has been wiped")
	}
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}

	signature, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	if signature[64] < 27 {
		signature[64] += 27
	}
	return signature, nil
}

// Zero wipes the private key material. The Signer is unusable afterwards.
func (s *Signer) Zero() {
	if s.privateKey != nil {
		s.privateKey.D.SetInt64(0)
		s.privateKey = nil
	}
}

// RecoverAddress recovers the signer's address from a 32-byte hash and a
// 65-byte signature. Accepts V as 0/1 or 27/28.
func RecoverAddress(hash []byte, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	if len(hash) != 32 {
		return common.Address{}, fmt.Errorf("invalid hash length: %d", len(hash))
	}

	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	publicKeyBytes, err := crypto.Ecrecover(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}

	publicKey, err := crypto.UnmarshalPubkey(publicKeyBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to unmarshal public key: %w", err)
	}

	return crypto.PubkeyToAddress(*publicKey), nil
}

// VerifySignature reports whether signature over hash was produced by address.
func VerifySignature(address common.Address, hash []byte, signature []byte) bool {
	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		return false
	}
	return recovered == address
}
