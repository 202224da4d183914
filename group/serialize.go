package group

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/nblp/dcnet/crypto"
)

// Serialize encodes the group as: policy tag (1 byte), leader id (16
// bytes), size (big-endian i32), then size * (id, length-prefixed key
// bytes, length-prefixed DH bytes). Subgroup state is not serialized: it is
// rederived by New/NewFixedSubgroup on Deserialize.
func (g *Group) Serialize() []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(byte(g.policy))
	buf.Write(g.leader.Bytes())
	writeI32(buf, int32(len(g.roster)))

	for _, m := range g.roster {
		buf.Write(m.ID.Bytes())
		writeBytes(buf, m.Key.Bytes())
		writeBytes(buf, m.DH.Bytes())
	}

	return buf.Bytes()
}

// Deserialize reconstructs a Group from Serialize's wire format. Member
// order is recomputed by New, not trusted from the wire.
func Deserialize(data []byte) (*Group, error) {
	r := bytes.NewReader(data)

	policyByte, err := r.ReadByte()
	if err != nil {
		return nil, ErrMalformedGroup
	}
	policy := SubgroupPolicy(policyByte)

	leaderBytes := make([]byte, IDSize)
	if _, err := io.ReadFull(r, leaderBytes); err != nil {
		return nil, ErrMalformedGroup
	}
	leader, err := IDFromBytes(leaderBytes)
	if err != nil {
		return nil, ErrMalformedGroup
	}

	size, err := readI32(r)
	if err != nil {
		return nil, ErrMalformedGroup
	}
	if size < 0 {
		return nil, ErrMalformedGroup
	}

	roster := make([]Member, 0, size)
	for i := int32(0); i < size; i++ {
		idBytes := make([]byte, IDSize)
		if _, err := io.ReadFull(r, idBytes); err != nil {
			return nil, ErrMalformedGroup
		}
		id, err := IDFromBytes(idBytes)
		if err != nil {
			return nil, ErrMalformedGroup
		}

		keyBytes, err := readBytes(r)
		if err != nil {
			return nil, ErrMalformedGroup
		}

		dhBytes, err := readBytes(r)
		if err != nil {
			return nil, ErrMalformedGroup
		}
		dh, err := crypto.DHPublicKeyFromBytes(dhBytes)
		if err != nil {
			return nil, ErrMalformedGroup
		}

		roster = append(roster, Member{ID: id, Key: crypto.NewPublicKeyFromBytes(keyBytes), DH: dh})
	}

	return New(roster, leader, policy)
}

func writeI32(buf *bytes.Buffer, v int32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	buf.Write(tmp[:])
}

func readI32(r io.Reader) (int32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(tmp[:])), nil
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeI32(buf, int32(len(b)))
	buf.Write(b)
}

func readBytes(r io.Reader) ([]byte, error) {
	n, err := readI32(r)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, ErrMalformedGroup
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
