package session

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"gridtap/pkg/crypto"
)

// Delegation proof: the primary wallet signs a packed message binding the
// ephemeral key's address to an absolute deadline. The proof is
// self-contained; the backend can verify delegation without any
// on-chain state.

const (
	authPrefix = "Authorize session key "
	authInfix  = " for GridTap until "
)

// SessionKey is a delegated signing key bound to one trading session.
// Key material lives only in process memory and is wiped on Clear.
type SessionKey struct {
	Address       common.Address // public identifier of the delegated signer
	ExpiresAt     int64          // epoch milliseconds; unusable at/after this instant
	AuthorizedBy  common.Address // primary wallet that approved the delegation
	AuthSignature []byte         // wallet signature over AuthMessageHash
}

// AuthMessageHash builds the delegation authorization digest:
// keccak256(abi.encodePacked(string, address, string, uint256)) over
// "Authorize session key " || addr || " for GridTap until " || expiresAtSeconds.
func AuthMessageHash(sessionAddr common.Address, expiresAtSeconds int64) []byte {
	return crypto.Keccak256(
		[]byte(authPrefix),
		crypto.PackAddress(sessionAddr),
		[]byte(authInfix),
		crypto.PackUint256(big.NewInt(expiresAtSeconds)),
	)
}

// VerifyAuthSignature recovers the wallet that signed the delegation and
// reports whether it matches the expected trader. Recovery is over the
// personal_sign digest of the auth message hash.
func VerifyAuthSignature(key *SessionKey, trader common.Address) bool {
	hash := AuthMessageHash(key.Address, key.ExpiresAt/1000)
	recovered, err := crypto.RecoverAddress(crypto.PersonalSignHash(hash), key.AuthSignature)
	if err != nil {
		return false
	}
	return recovered == trader
}
