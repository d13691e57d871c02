package embedded

import (
	"encoding/binary"
	"math"
)

// serializeEmbedding converts a float32 slice to little-endian bytes, the
// BLOB layout the vec0 virtual table expects for float[] columns. Adapted
// from the teacher's storage/encoding.go — same format, kept
// package-private since only this backend's writers need it.
func serializeEmbedding(emb []float32) []byte {
	out := make([]byte, len(emb)*4)
	for i, f := range emb {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}
