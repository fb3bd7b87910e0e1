package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Helpers for Solidity abi.encodePacked style message construction.
// Strings pack to their raw bytes, addresses to 20 bytes, bools to one
// byte, uint256 to 32 big-endian bytes. No length prefixes, no padding
// between elements; the layout must match the settlement contract's
// verification exactly.

// Keccak256 hashes the concatenation of the given byte slices with
// legacy Keccak-256 (the Ethereum variant, not NIST SHA3).
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// PackUint256 encodes v as a 32-byte big-endian word.
func PackUint256(v *big.Int) []byte {
	var word [32]byte
	v.FillBytes(word[:])
	return word[:]
}

// PackAddress encodes an address as its raw 20 bytes.
func PackAddress(a common.Address) []byte {
	return a.Bytes()
}

// PackBool encodes a bool as a single byte (0x01 / 0x00).
func PackBool(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}

// PersonalSignHash applies the EIP-191 "\x19Ethereum Signed Message:\n"
// prefix and returns the Keccak-256 digest that personal_sign actually
// signs. Every wallet-compatible signature in this engine goes through
// this prefix, including session-key signatures, so the backend verifies
// both paths identically.
func PersonalSignHash(message []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return Keccak256([]byte(prefix), message)
}
