package ai

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// FallbackVector derives a deterministic dim-length vector from a content
// hash. Identical text always maps to the identical vector, so retrieval of
// exact-duplicate content keeps working while the remote provider is down.
// The vector is L2-normalized but has no semantic meaning.
func FallbackVector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	var block [8]byte
	i := 0
	for counter := uint64(0); i < dim; counter++ {
		binary.BigEndian.PutUint64(block[:], counter)
		sum := sha256.Sum256(append([]byte(text), block[:]...))
		for off := 0; off+4 <= len(sum) && i < dim; off += 4 {
			u := binary.BigEndian.Uint32(sum[off : off+4])
			// map to [-1, 1]
			vec[i] = float32(u)/float32(math.MaxUint32)*2 - 1
			i++
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
