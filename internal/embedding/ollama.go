package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// =============================================================================
// OLLAMA EMBEDDING ENGINE
// =============================================================================

// Ollama generates embeddings using a local Ollama server.
// The default model, all-minilm, produces 384-dimensional sentence vectors.
type Ollama struct {
	endpoint string
	model    string
	dim      int
	client   *http.Client
}

// NewOllama creates an Ollama-backed embedder.
func NewOllama(endpoint, model string, dim int) *Ollama {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "all-minilm"
	}
	if dim <= 0 {
		dim = 384
	}
	return &Ollama{
		endpoint: endpoint,
		model:    model,
		dim:      dim,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Dimension returns the configured vector length.
func (e *Ollama) Dimension() int { return e.dim }

// Name returns the engine name.
func (e *Ollama) Name() string { return fmt.Sprintf("ollama:%s", e.model) }

// IsAvailable probes the server root. Writes fall back to the no-vector path
// when the server is down.
func (e *Ollama) IsAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Embed generates embeddings for the given texts. Ollama has no batch API,
// so texts are embedded sequentially.
func (e *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.embedOne(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		if len(vec) != e.dim {
			return nil, fmt.Errorf("model returned %d dimensions, expected %d", len(vec), e.dim)
		}
		out[i] = Normalize(vec)
	}
	return out, nil
}

func (e *Ollama) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Embedding, nil
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}
