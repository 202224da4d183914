package transport

import (
	"bytes"
	"errors"
	"io"

	"github.com/nblp/dcnet/group"
)

// ErrMalformedMessage is returned by every Decode* function when the input
// does not match its expected wire layout.
var ErrMalformedMessage = errors.New("transport: malformed wire message")

// ErrUnknownPeer is returned by Memory.Send when the destination id is not
// part of the hub.
var ErrUnknownPeer = errors.New("transport: unknown peer")

// Wire tags, matching §6's bit-exact layout.
const (
	TagBulkData           uint8 = 0
	TagLoggedBulkData     uint8 = 1
	TagAggregatedBulkData uint8 = 2
)

// BulkData carries one peer's xor message directly to the leader (app
// broadcast mode) or to everyone (broadcast mode).
type BulkData struct {
	RoundID group.ID
	Payload []byte
}

// PeerPayload pairs a sender with the payload they contributed, used inside
// LoggedBulkData.
type PeerPayload struct {
	PeerID  group.ID
	Payload []byte
}

// LoggedBulkData is the leader's full per-peer dump, broadcast so every peer
// can replay and independently locate a hash fault.
type LoggedBulkData struct {
	RoundID group.ID
	Peers   []PeerPayload
}

// AggregatedBulkData is the leader's combined cleartext, broadcast once
// every peer's contribution has been verified.
type AggregatedBulkData struct {
	RoundID group.ID
	Payload []byte
}

func EncodeBulkData(m BulkData) []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(TagBulkData)
	buf.Write(m.RoundID.Bytes())
	writeI32(buf, int32(len(m.Payload)))
	buf.Write(m.Payload)
	return buf.Bytes()
}

func DecodeBulkData(data []byte) (BulkData, error) {
	if len(data) == 0 || data[0] != TagBulkData {
		return BulkData{}, ErrMalformedMessage
	}
	r := bytes.NewReader(data[1:])

	idBytes := make([]byte, group.IDSize)
	if _, err := io.ReadFull(r, idBytes); err != nil {
		return BulkData{}, ErrMalformedMessage
	}
	id, err := group.IDFromBytes(idBytes)
	if err != nil {
		return BulkData{}, ErrMalformedMessage
	}

	payload, err := readLenBytes(r)
	if err != nil {
		return BulkData{}, ErrMalformedMessage
	}

	return BulkData{RoundID: id, Payload: payload}, nil
}

func EncodeLoggedBulkData(m LoggedBulkData) []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(TagLoggedBulkData)
	buf.Write(m.RoundID.Bytes())
	writeI32(buf, int32(len(m.Peers)))
	for _, p := range m.Peers {
		buf.Write(p.PeerID.Bytes())
		writeI32(buf, int32(len(p.Payload)))
		buf.Write(p.Payload)
	}
	return buf.Bytes()
}

func DecodeLoggedBulkData(data []byte) (LoggedBulkData, error) {
	if len(data) == 0 || data[0] != TagLoggedBulkData {
		return LoggedBulkData{}, ErrMalformedMessage
	}
	r := bytes.NewReader(data[1:])

	idBytes := make([]byte, group.IDSize)
	if _, err := io.ReadFull(r, idBytes); err != nil {
		return LoggedBulkData{}, ErrMalformedMessage
	}
	roundID, err := group.IDFromBytes(idBytes)
	if err != nil {
		return LoggedBulkData{}, ErrMalformedMessage
	}

	count, err := readI32(r)
	if err != nil || count < 0 {
		return LoggedBulkData{}, ErrMalformedMessage
	}

	peers := make([]PeerPayload, 0, count)
	for i := int32(0); i < count; i++ {
		peerIDBytes := make([]byte, group.IDSize)
		if _, err := io.ReadFull(r, peerIDBytes); err != nil {
			return LoggedBulkData{}, ErrMalformedMessage
		}
		peerID, err := group.IDFromBytes(peerIDBytes)
		if err != nil {
			return LoggedBulkData{}, ErrMalformedMessage
		}
		payload, err := readLenBytes(r)
		if err != nil {
			return LoggedBulkData{}, ErrMalformedMessage
		}
		peers = append(peers, PeerPayload{PeerID: peerID, Payload: payload})
	}

	return LoggedBulkData{RoundID: roundID, Peers: peers}, nil
}

func EncodeAggregatedBulkData(m AggregatedBulkData) []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(TagAggregatedBulkData)
	buf.Write(m.RoundID.Bytes())
	writeI32(buf, int32(len(m.Payload)))
	buf.Write(m.Payload)
	return buf.Bytes()
}

func DecodeAggregatedBulkData(data []byte) (AggregatedBulkData, error) {
	if len(data) == 0 || data[0] != TagAggregatedBulkData {
		return AggregatedBulkData{}, ErrMalformedMessage
	}
	r := bytes.NewReader(data[1:])

	idBytes := make([]byte, group.IDSize)
	if _, err := io.ReadFull(r, idBytes); err != nil {
		return AggregatedBulkData{}, ErrMalformedMessage
	}
	roundID, err := group.IDFromBytes(idBytes)
	if err != nil {
		return AggregatedBulkData{}, ErrMalformedMessage
	}

	payload, err := readLenBytes(r)
	if err != nil {
		return AggregatedBulkData{}, ErrMalformedMessage
	}

	return AggregatedBulkData{RoundID: roundID, Payload: payload}, nil
}

// DecodeTag peeks at the leading byte of a wire message without consuming
// it, so a dispatcher can pick the right Decode* function.
func DecodeTag(data []byte) (uint8, error) {
	if len(data) == 0 {
		return 0, ErrMalformedMessage
	}
	return data[0], nil
}
