package scoring

import "math"

// Cosine returns the cosine similarity of two vectors, 0 when either is
// empty or mismatched in dimension.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// MeanNormalized returns the unit-length mean of the given vectors. All
// vectors must share a dimension; nil is returned otherwise.
func MeanNormalized(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil
	}

	mean := make([]float64, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil
		}
		for i, x := range v {
			mean[i] += float64(x)
		}
	}

	var norm float64
	for i := range mean {
		mean[i] /= float64(len(vectors))
		norm += mean[i] * mean[i]
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return make([]float32, dim)
	}

	out := make([]float32, dim)
	for i := range mean {
		out[i] = float32(mean[i] / norm)
	}
	return out
}
