// Package identity parses identities, derives deterministic addresses from
// seeds and verifies ed25519 signatures made by identities.
package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// MaxSeedLen is the longest seed component accepted by address derivation.
const MaxSeedLen = 32

// Parse decodes a base58 identity.
func Parse(s string) (solana.PublicKey, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to decode identity: %w", err)
	}
	if len(b) != solana.PublicKeyLength {
		return solana.PublicKey{}, fmt.Errorf("invalid identity size: expected %d, got %d", solana.PublicKeyLength, len(b))
	}
	return solana.PublicKeyFromBytes(b), nil
}

// Seed returns b unchanged when it fits in a seed component, otherwise its
// blake2b-256 digest.
func Seed(b []byte) []byte {
	if len(b) <= MaxSeedLen {
		return b
	}
	sum := blake2b.Sum256(b)
	return sum[:]
}

// DecodeSignature accepts standard, URL-safe and unpadded base64.
func DecodeSignature(s string) (solana.Signature, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		b, err = base64.URLEncoding.DecodeString(s)
		if err != nil {
			b, err = base64.RawStdEncoding.DecodeString(s)
			if err != nil {
				return solana.Signature{}, fmt.Errorf("failed to decode signature: %w", err)
			}
		}
	}
	if len(b) != ed25519.SignatureSize {
		return solana.Signature{}, fmt.Errorf("invalid signature size: expected %d, got %d", ed25519.SignatureSize, len(b))
	}
	var sig solana.Signature
	copy(sig[:], b)
	return sig, nil
}

// VerifySignature reports whether signatureBase64 is signer's signature over message.
func VerifySignature(signer solana.PublicKey, message []byte, signatureBase64 string) (bool, error) {
	sig, err := DecodeSignature(signatureBase64)
	if err != nil {
		return false, err
	}
	return signer.Verify(message, sig), nil
}
