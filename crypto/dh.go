package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// DHPublicKey is an X25519 public component. Every group member publishes
// one as their long-term DH key; the bulk round additionally mints a fresh
// anonymous one per round.
type DHPublicKey [32]byte

// DHPrivateKey is an X25519 private scalar.
type DHPrivateKey [32]byte

// Bytes returns the 32-byte wire encoding.
func (k DHPublicKey) Bytes() []byte {
	out := make([]byte, 32)
	copy(out, k[:])
	return out
}

// DHPublicKeyFromBytes parses a 32-byte X25519 public key.
func DHPublicKeyFromBytes(b []byte) (DHPublicKey, error) {
	var k DHPublicKey
	if len(b) != 32 {
		return k, errors.New("crypto: invalid dh public key length")
	}
	copy(k[:], b)
	return k, nil
}

// GenerateDHKeyPair creates a new X25519 key pair, used both for a member's
// long-term DH component and for the fresh anonymous key minted each round.
func GenerateDHKeyPair() (DHPublicKey, DHPrivateKey, error) {
	var priv DHPrivateKey
	var pub DHPublicKey

	if _, err := rand.Read(priv[:]); err != nil {
		return pub, priv, err
	}
	curve25519.ScalarBaseMult((*[32]byte)(&pub), (*[32]byte)(&priv))
	return pub, priv, nil
}

// DHPublicKeyFromPrivate derives the public half of an existing scalar,
// for loading a persisted DH private key without discarding its public
// component.
func DHPublicKeyFromPrivate(priv DHPrivateKey) DHPublicKey {
	var pub DHPublicKey
	curve25519.ScalarBaseMult((*[32]byte)(&pub), (*[32]byte)(&priv))
	return pub
}

// DeriveSharedSecret performs X25519 agreement and stretches the result
// through HKDF-SHA256, domain-separated by info, into a SharedKey suitable
// for seeding a PRG.
func DeriveSharedSecret(priv DHPrivateKey, pub DHPublicKey, info []byte) (SharedKey, error) {
	var point [32]byte
	curve25519.ScalarMult(&point, (*[32]byte)(&priv), (*[32]byte)(&pub))

	kdf := hkdf.New(sha256.New, point[:], nil, info)
	secret := make([]byte, 32)
	if _, err := kdf.Read(secret); err != nil {
		return nil, err
	}
	return SharedKey(secret), nil
}
