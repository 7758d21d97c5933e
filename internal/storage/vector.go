package storage

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/go-crypt/x/blake2b"
)

// TextDigest returns a hex BLAKE2b-256 digest of text. It is stored next to
// an embedding so stale vectors can be detected after the text changes.
func TextDigest(text string) string {
	h, _ := blake2b.New(32, nil)
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
// A nil or empty slice encodes to nil so it is stored as NULL.
func encodeFloat32s(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
