// Package embedding provides the Embedder capability used by the storage
// engine for semantic search. The reference realization is a local Ollama
// server; a null realization covers OMNI_CORTEX_EMBED=off.
package embedding

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"omnicortex/internal/config"
)

// =============================================================================
// EMBEDDER CAPABILITY
// =============================================================================

// Embedder derives fixed-dimension vectors for indexable text.
type Embedder interface {
	// Dimension returns the vector length this embedder produces.
	Dimension() int

	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// IsAvailable reports whether the embedder can currently serve requests.
	// Writes with an unavailable embedder store no vector; semantic reads
	// degrade to keyword search.
	IsAvailable() bool

	// Name identifies the realization for logs and stats.
	Name() string
}

// FromConfig builds the embedder selected by configuration.
func FromConfig(cfg config.EmbeddingConfig) Embedder {
	if cfg.Mode == "off" {
		return Null{Dim: cfg.Dimension}
	}
	return NewOllama(cfg.Endpoint, cfg.Model, cfg.Dimension)
}

// =============================================================================
// VECTOR CODEC
// =============================================================================

// EncodeVector serializes a vector as little-endian float32 bytes, the layout
// the catalog stores and sqlite-vec consumes.
func EncodeVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// DecodeVector deserializes little-endian float32 bytes.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// =============================================================================
// VECTOR MATH
// =============================================================================

// Normalize scales a vector to unit L2 norm in place and returns it.
// Zero vectors are returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value between -1 and 1, where 1 means identical.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, aMag, bMag float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		aMag += float64(a[i]) * float64(a[i])
		bMag += float64(b[i]) * float64(b[i])
	}
	if aMag == 0 || bMag == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag)), nil
}
