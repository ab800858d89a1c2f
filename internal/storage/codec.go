package storage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hyperjump/tanya/internal/models"
)

// EncodeEmbedding packs v as little-endian float32 values.
func EncodeEmbedding(v []float32) []byte {
	const size = 4
	out := make([]byte, len(v)*size)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*size:], math.Float32bits(f))
	}
	return out
}

// DecodeEmbedding unpacks a blob written by EncodeEmbedding.
func DecodeEmbedding(b []byte) ([]float32, error) {
	const size = 4
	if len(b)%size != 0 {
		return nil, fmt.Errorf("%w: embedding blob of %d bytes", models.ErrStorageCorruption, len(b))
	}
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size:]))
	}
	return out, nil
}
