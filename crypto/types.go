package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

// PublicKey is a long-term Ed25519 public key identifying a group member.
type PublicKey []byte

// NewPublicKeyFromBytes copies data into a new PublicKey.
func NewPublicKeyFromBytes(data []byte) PublicKey {
	pk := make([]byte, len(data))
	copy(pk, data)
	return PublicKey(pk)
}

// NewPublicKeyFromString parses a hex-encoded public key.
func NewPublicKeyFromString(s string) (PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return NewPublicKeyFromBytes(raw), nil
}

// Bytes returns the canonical byte encoding of the key.
func (pk PublicKey) Bytes() []byte { return pk }

// Equal reports whether two public keys hold the same bytes.
func (pk PublicKey) Equal(other PublicKey) bool {
	if len(pk) != len(other) {
		return false
	}
	return subtle.ConstantTimeCompare(pk, other) == 1
}

// String returns the hex encoding of the key, for logging and map keys.
func (pk PublicKey) String() string { return hex.EncodeToString(pk) }

// PrivateKey is a long-term Ed25519 private key.
type PrivateKey []byte

// NewPrivateKeyFromBytes copies data into a new PrivateKey.
func NewPrivateKeyFromBytes(data []byte) PrivateKey {
	sk := make([]byte, len(data))
	copy(sk, data)
	return PrivateKey(sk)
}

// Bytes returns the raw key material. Handle with care.
func (sk PrivateKey) Bytes() []byte { return sk }

// PublicKey derives the Ed25519 public key embedded in the private key.
func (sk PrivateKey) PublicKey() (PublicKey, error) {
	if len(sk) != ed25519.PrivateKeySize {
		return nil, errors.New("crypto: invalid private key size")
	}
	return PublicKey(sk[32:]), nil
}

// GenerateKeyPair creates a new Ed25519 signing key pair.
func GenerateKeyPair() (PublicKey, PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return PublicKey(pub), PrivateKey(priv), nil
}

// Signature is an Ed25519 signature over a wire message.
type Signature []byte

// NewSignature copies data into a new Signature.
func NewSignature(data []byte) Signature {
	sig := make([]byte, len(data))
	copy(sig, data)
	return Signature(sig)
}

// Bytes returns the raw signature bytes.
func (s Signature) Bytes() []byte { return s }

// Verify checks the signature against data under publicKey.
func (s Signature) Verify(publicKey PublicKey, data []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), data, s)
}

// String returns the hex encoding of the signature.
func (s Signature) String() string { return hex.EncodeToString(s) }

// Sign signs data with privateKey using Ed25519.
func Sign(privateKey PrivateKey, data []byte) (Signature, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, errors.New("crypto: invalid private key size")
	}
	return Signature(ed25519.Sign(ed25519.PrivateKey(privateKey), data)), nil
}

// SharedKey is a Diffie-Hellman shared secret. It must always be run through
// a KDF before use, never consumed directly.
type SharedKey []byte

// NewSharedKey copies data into a new SharedKey.
func NewSharedKey(data []byte) SharedKey {
	sk := make([]byte, len(data))
	copy(sk, data)
	return SharedKey(sk)
}

// Bytes returns a copy of the shared secret bytes.
func (sk SharedKey) Bytes() []byte {
	out := make([]byte, len(sk))
	copy(out, sk)
	return out
}
