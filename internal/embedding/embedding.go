// Package embedding turns text into vectors for similarity search.
package embedding

import (
	"context"
	"math"
)

// Embedder generates an embedding vector for text.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Embed must honor cancellation/deadlines.
// - Determinism: the same model must return vectors of a fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Model identifies the vector space; vectors from different models are not comparable.
	Model() string
}

// CosineSimilarity computes the cosine similarity between two vectors.
// It returns 0 for vectors of different length or zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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

// Float32ToBytes encodes a float32 slice as little-endian bytes.
func Float32ToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		buf[i*4] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	return buf
}

// BytesToFloat32 decodes little-endian bytes into a float32 slice.
func BytesToFloat32(b []byte) []float32 {
	n := len(b) / 4
	v := make([]float32, n)
	for i := range n {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		v[i] = math.Float32frombits(bits)
	}
	return v
}
