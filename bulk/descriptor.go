package bulk

import (
	"bytes"

	"github.com/nblp/dcnet/crypto"
)

// Descriptor is the per-slot commitment a peer publishes through the
// shuffle: the cleartext's length, the peer's fresh anonymous DH public
// key, one xor-mask hash per group member, and the cleartext's own hash.
type Descriptor struct {
	Length        int32
	AnonDH        crypto.DHPublicKey
	XorHashes     []crypto.Hash
	CleartextHash crypto.Hash
}

// Equal reports whether two descriptors carry identical fields.
func (d Descriptor) Equal(other Descriptor) bool {
	if d.Length != other.Length || d.AnonDH != other.AnonDH || !d.CleartextHash.Equal(other.CleartextHash) {
		return false
	}
	if len(d.XorHashes) != len(other.XorHashes) {
		return false
	}
	for i := range d.XorHashes {
		if !d.XorHashes[i].Equal(other.XorHashes[i]) {
			return false
		}
	}
	return true
}

// EncodeDescriptor serializes d as length:i32 | dh_len:i32 | dh_bytes |
// n_hashes:i32 | (hash_len:i32 | hash_bytes) × n_hashes | ct_hash_len:i32 |
// ct_hash_bytes, per §4.2.
func EncodeDescriptor(d Descriptor) []byte {
	buf := &bytes.Buffer{}
	writeI32(buf, d.Length)

	dh := d.AnonDH.Bytes()
	writeI32(buf, int32(len(dh)))
	buf.Write(dh)

	writeI32(buf, int32(len(d.XorHashes)))
	for _, h := range d.XorHashes {
		hb := h.Bytes()
		writeI32(buf, int32(len(hb)))
		buf.Write(hb)
	}

	ct := d.CleartextHash.Bytes()
	writeI32(buf, int32(len(ct)))
	buf.Write(ct)

	return buf.Bytes()
}

// DecodeDescriptor parses data into a Descriptor. groupSize is the number
// of xor_hashes entries the receiver expects (its own group size); a
// mismatch fails with ErrMalformedDescriptor exactly as §4.2 specifies.
func DecodeDescriptor(data []byte, groupSize int) (Descriptor, error) {
	r := bytes.NewReader(data)
	var d Descriptor

	length, err := readI32(r)
	if err != nil || length < 0 {
		return Descriptor{}, ErrMalformedDescriptor
	}
	d.Length = length

	dhBytes, err := readLenBytes(r)
	if err != nil {
		return Descriptor{}, ErrMalformedDescriptor
	}
	anonDH, err := crypto.DHPublicKeyFromBytes(dhBytes)
	if err != nil {
		return Descriptor{}, ErrMalformedDescriptor
	}
	d.AnonDH = anonDH

	nHashes, err := readI32(r)
	if err != nil || nHashes < 0 || int(nHashes) != groupSize {
		return Descriptor{}, ErrMalformedDescriptor
	}
	d.XorHashes = make([]crypto.Hash, nHashes)
	for i := range d.XorHashes {
		hb, err := readLenBytes(r)
		if err != nil {
			return Descriptor{}, ErrMalformedDescriptor
		}
		h, err := crypto.HashFromBytes(hb)
		if err != nil {
			return Descriptor{}, ErrMalformedDescriptor
		}
		d.XorHashes[i] = h
	}

	ctBytes, err := readLenBytes(r)
	if err != nil {
		return Descriptor{}, ErrMalformedDescriptor
	}
	ct, err := crypto.HashFromBytes(ctBytes)
	if err != nil {
		return Descriptor{}, ErrMalformedDescriptor
	}
	d.CleartextHash = ct

	return d, nil
}
