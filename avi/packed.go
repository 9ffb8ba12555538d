package avi

import (
	"bytes"
	"encoding/binary"
)

// decodePacked reads a fixed-width little-endian struct from buf. It is a
// thin wrapper over encoding/binary's reflection-based decoder, which reads
// field-by-field rather than off the struct's in-memory layout, so Go's own
// alignment/padding rules never leak into the wire format.
func decodePacked(buf []byte, v interface{}) error {
	return binary.Read(bytes.NewReader(buf), binary.LittleEndian, v)
}

// encodePacked is the write-side counterpart of decodePacked.
func encodePacked(v interface{}) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
