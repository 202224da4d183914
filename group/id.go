package group

import (
	"bytes"
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"
)

// IDSize is the fixed width of a member identifier on the wire.
const IDSize = 16

// ID is a fixed-width opaque member identifier with a total order and a
// well-known Zero sentinel (used by Group.Leader to mean "no leader").
type ID [IDSize]byte

// ZeroID is the sentinel identifier meaning "absent" / "no leader".
var ZeroID ID

// NewID mints a fresh random identifier. Operators are expected to persist
// the result alongside a member's keys; IDs are never derived from key
// material.
func NewID() ID {
	return ID(uuid.New())
}

// IDFromBytes parses a fixed-width identifier.
func IDFromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != IDSize {
		return id, ErrMalformedID
	}
	copy(id[:], b)
	return id, nil
}

// IDFromHex parses the hex encoding produced by String.
func IDFromHex(s string) (ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, ErrMalformedID
	}
	return IDFromBytes(b)
}

// Bytes returns the wire encoding of the identifier.
func (id ID) Bytes() []byte {
	out := make([]byte, IDSize)
	copy(out, id[:])
	return out
}

// IsZero reports whether id is the Zero sentinel.
func (id ID) IsZero() bool { return id == ZeroID }

// Compare returns -1, 0, or 1 as id is less than, equal to, or greater than
// other, using plain byte-order comparison. This ordering, not creation
// time or any other criterion, is what defines roster slot indices.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

// String returns a hex encoding, for logging.
func (id ID) String() string { return hex.EncodeToString(id[:]) }

// MarshalJSON encodes the id as its hex string, so it reads naturally in
// HTTP wire envelopes and API responses instead of as a raw byte array.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := IDFromHex(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
