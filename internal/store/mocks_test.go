package store

import (
	"context"
	"hash/fnv"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"omnicortex/internal/broadcast"
	"omnicortex/internal/catalog"
	"omnicortex/internal/clock"
)

const testDim = 8

// fakeEmbedder is deterministic: canned vectors win, otherwise tokens hash
// into buckets. Tests flip available to exercise the no-vector path.
type fakeEmbedder struct {
	vectors   map[string][]float32
	available bool
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: make(map[string][]float32), available: true}
}

func (f *fakeEmbedder) Dimension() int    { return testDim }
func (f *fakeEmbedder) IsAvailable() bool { return f.available }
func (f *fakeEmbedder) Name() string      { return "fake" }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := f.vectors[text]; ok {
			out[i] = v
			continue
		}
		out[i] = hashVector(text)
	}
	return out, nil
}

func hashVector(text string) []float32 {
	v := make([]float32, testDim)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		v[h.Sum32()%testDim]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range v {
			v[i] /= n
		}
	}
	return v
}

func tokenize(text string) []string {
	var toks []string
	var cur []rune
	for _, r := range text {
		if r == ' ' || r == '\t' || r == '\n' {
			if len(cur) > 0 {
				toks = append(toks, string(cur))
				cur = nil
			}
			continue
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		toks = append(toks, string(cur))
	}
	return toks
}

// testEnv bundles a store over an in-memory catalog with controllable time.
type testEnv struct {
	store    *Store
	clock    *clock.Fake
	embedder *fakeEmbedder
	bus      *broadcast.Broadcaster
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cat, err := catalog.Open(":memory:", testDim, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	clk := clock.NewFake(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
	emb := newFakeEmbedder()
	bus := broadcast.New(16, nil)
	t.Cleanup(bus.Close)

	return &testEnv{
		store:    New(cat, emb, clk, bus, "/test/project", nil),
		clock:    clk,
		embedder: emb,
		bus:      bus,
	}
}

func intPtr(v int) *int { return &v }
