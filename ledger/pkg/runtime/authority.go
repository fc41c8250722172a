package runtime

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/crypto/blake2b"
)

const (
	kindSigner     byte = 1
	kindCapability byte = 2
)

// Authority is a credential presented to the Ledger. It is either the
// verified caller of an invocation or a capability for a program-derived
// address, and can only be issued by a Keyring.
type Authority struct {
	Owner solana.PublicKey
	Bump  uint8
	kind  byte
	proof [blake2b.Size256]byte
}

func (a Authority) IsSigner() bool {
	return a.kind == kindSigner
}

// Keyring issues and checks authorities with a host-held secret.
type Keyring struct {
	secret []byte
}

func NewKeyring(secret []byte) (*Keyring, error) {
	if len(secret) < 16 {
		return nil, errors.New("keyring secret must be at least 16 bytes")
	}
	if len(secret) > blake2b.Size {
		return nil, fmt.Errorf("keyring secret must be at most %d bytes", blake2b.Size)
	}
	return &Keyring{secret: append([]byte(nil), secret...)}, nil
}

func (k *Keyring) signer(owner solana.PublicKey) Authority {
	return k.issue(kindSigner, owner, 0)
}

func (k *Keyring) capability(owner solana.PublicKey, bump uint8) Authority {
	return k.issue(kindCapability, owner, bump)
}

func (k *Keyring) issue(kind byte, owner solana.PublicKey, bump uint8) Authority {
	return Authority{Owner: owner, Bump: bump, kind: kind, proof: k.mac(kind, owner, bump)}
}

func (k *Keyring) mac(kind byte, owner solana.PublicKey, bump uint8) [blake2b.Size256]byte {
	h, err := blake2b.New256(k.secret)
	if err != nil {
		// Key length is checked in NewKeyring.
		panic(err)
	}
	h.Write([]byte{kind})
	h.Write(owner[:])
	h.Write([]byte{bump})
	var out [blake2b.Size256]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Authorizes returns ErrUnauthorized unless a was issued by this keyring for owner.
func (k *Keyring) Authorizes(a Authority, owner solana.PublicKey) error {
	if a.kind != kindSigner && a.kind != kindCapability {
		return ErrUnauthorized
	}
	if !a.Owner.Equals(owner) {
		return ErrUnauthorized
	}
	want := k.mac(a.kind, a.Owner, a.Bump)
	if subtle.ConstantTimeCompare(want[:], a.proof[:]) != 1 {
		return ErrUnauthorized
	}
	return nil
}
