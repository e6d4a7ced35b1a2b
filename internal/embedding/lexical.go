package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultLexicalDims is the vector size of the lexical embedder.
const DefaultLexicalDims = 512

// LexicalEmbedder is a local embedder based on feature hashing of word
// unigrams and character trigrams. Paraphrases with shared vocabulary score
// high; it needs no network and is the default when no provider is set.
type LexicalEmbedder struct {
	dims int
}

// NewLexicalEmbedder creates a lexical embedder with dims buckets.
func NewLexicalEmbedder(dims int) *LexicalEmbedder {
	if dims <= 0 {
		dims = DefaultLexicalDims
	}
	return &LexicalEmbedder{dims: dims}
}

// Model identifies the lexical vector space.
func (e *LexicalEmbedder) Model() string {
	return "lexical"
}

// Embed hashes text into an L2-normalised vector.
func (e *LexicalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, e.dims)
	words := tokenize(text)
	for _, w := range words {
		e.add(vec, "w:"+w, 1.0)
		padded := "^" + w + "$"
		for i := 0; i+3 <= len(padded); i++ {
			e.add(vec, "t:"+padded[i:i+3], 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

func (e *LexicalEmbedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum32()
	idx := int(sum % uint32(e.dims))
	// The high bit picks the sign to spread collisions.
	if sum&0x80000000 != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '&'
	})
}
