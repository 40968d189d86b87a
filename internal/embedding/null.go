package embedding

import "context"

// Null is the embedder used when OMNI_CORTEX_EMBED=off. It never produces
// vectors; writes store the no-vector sentinel and semantic reads degrade
// to keyword search.
type Null struct {
	// Dim preserves the catalog's declared dimension so reopening an
	// existing catalog with embedding disabled does not trip the
	// dimension check.
	Dim int
}

// Dimension returns the declared dimension.
func (n Null) Dimension() int {
	if n.Dim <= 0 {
		return 384
	}
	return n.Dim
}

// Embed is never called when IsAvailable is false; it returns empty vectors
// for safety.
func (n Null) Embed(_ context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}

// IsAvailable always reports false.
func (n Null) IsAvailable() bool { return false }

// Name identifies the null engine.
func (n Null) Name() string { return "off" }
