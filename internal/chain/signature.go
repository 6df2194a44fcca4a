package chain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Hasher produces the 32-byte hashes used for order, ring and mining
// identities.
type Hasher interface {
	Hash(data ...[]byte) common.Hash
}

// SignatureVerifier checks that sig over hash was produced by signer.
type SignatureVerifier interface {
	Verify(signer common.Address, hash common.Hash, sig []byte) bool
}

// KeccakHasher hashes with Keccak-256, the chain's native digest.
type KeccakHasher struct{}

func (KeccakHasher) Hash(data ...[]byte) common.Hash {
	return crypto.Keccak256Hash(data...)
}

// EcdsaVerifier recovers the secp256k1 signer from a 65-byte [R||S||V]
// signature and compares it to the expected address. V may be 0/1 or the
// legacy 27/28.
type EcdsaVerifier struct{}

func (EcdsaVerifier) Verify(signer common.Address, hash common.Hash, sig []byte) bool {
	if len(sig) != crypto.SignatureLength {
		return false
	}
	s := make([]byte, crypto.SignatureLength)
	copy(s, sig)
	if s[64] >= 27 {
		s[64] -= 27
	}
	pub, err := crypto.SigToPub(hash[:], s)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == signer
}
