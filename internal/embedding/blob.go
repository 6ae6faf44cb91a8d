package embedding

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeBlob packs a vector as little-endian float32 values.
func EncodeBlob(v Vector) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeBlob unpacks a little-endian float32 blob and checks its dimension.
func DecodeBlob(buf []byte, dim int) (Vector, error) {
	if len(buf) != dim*4 {
		return nil, fmt.Errorf("embedding length mismatch: blob has %d floats, expected %d", len(buf)/4, dim)
	}
	v := make(Vector, dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v, nil
}
