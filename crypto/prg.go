package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// PRG is a pseudorandom byte stream seeded from a shared secret. The bulk
// round uses one PRG per peer per round to derive that peer's xor mask:
// the stream must be identical on both ends whenever they agree on the seed,
// and must never repeat across distinct (seed, round) pairs.
type PRG struct {
	stream cipher.Stream
}

// NewPRG derives an AES-256-CTR keystream from seed. The key and the nonce
// are both pulled from a single HKDF-SHA256 expansion of the seed, so two
// distinct seeds never collide on either half.
func NewPRG(seed SharedKey) (*PRG, error) {
	kdf := hkdf.New(sha256.New, seed.Bytes(), nil, []byte("dcnet-mask-prg-v1"))

	keyAndNonce := make([]byte, 32+aes.BlockSize)
	if _, err := io.ReadFull(kdf, keyAndNonce); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(keyAndNonce[:32])
	if err != nil {
		return nil, err
	}

	return &PRG{stream: cipher.NewCTR(block, keyAndNonce[32:])}, nil
}

// Read fills p with the next len(p) pseudorandom bytes.
func (g *PRG) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	zero := make([]byte, len(p))
	g.stream.XORKeyStream(p, zero)
	return len(p), nil
}

// Mask draws length pseudorandom bytes from the stream, used as a peer's
// xor mask contribution for a slot of the given length.
func (g *PRG) Mask(length int) []byte {
	out := make([]byte, length)
	_, _ = g.Read(out)
	return out
}
