package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

const defaultHashingDimension = 256

// HashingProvider is a deterministic, dependency-free embedder based on
// word feature hashing. Vectors are unit-normalized so cosine similarity
// behaves sensibly. It exists for development and tests; similar texts get
// similar vectors, nothing more is promised.
type HashingProvider struct {
	dimension int
}

// NewHashingProvider creates a hashing embedder of the given dimension.
func NewHashingProvider(dimension int) *HashingProvider {
	if dimension <= 0 {
		dimension = defaultHashingDimension
	}
	return &HashingProvider{dimension: dimension}
}

// Embed maps each text onto a normalized term-frequency vector.
func (p *HashingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = p.vector(text)
	}
	return out, nil
}

// Dimension returns the embedding vector dimension.
func (p *HashingProvider) Dimension() int {
	return p.dimension
}

func (p *HashingProvider) vector(text string) []float32 {
	vec := make([]float32, p.dimension)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[h.Sum32()%uint32(p.dimension)]++
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
	return vec
}
