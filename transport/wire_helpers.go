package transport

import (
	"bytes"
	"encoding/binary"
	"io"
)

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

func readLenBytes(r io.Reader) ([]byte, error) {
	n, err := readI32(r)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, ErrMalformedMessage
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
