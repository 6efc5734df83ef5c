package embedding

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"
	"strings"
)

// MockClient produces deterministic pseudo-embeddings from token hashes. The
// same text always maps to the same unit vector, and texts sharing tokens end
// up measurably closer than unrelated ones, which is enough for tests and
// offline development.
type MockClient struct {
	dim int
}

func NewMockClient(dim int) *MockClient {
	return &MockClient{dim: dim}
}

func (c *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float64, c.dim)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		h.Write([]byte(token))
		seed := h.Sum64()
		for i := range vec {
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], seed+uint64(i))
			h2 := fnv.New64a()
			h2.Write(buf[:])
			// Map the hash onto [-1, 1].
			vec[i] += float64(int64(h2.Sum64())) / math.MaxInt64
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, c.dim)
	if norm == 0 {
		// Empty text: fixed basis vector, still unit length.
		out[0] = 1
		return out, nil
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}
