// Package mapper implements the three-pass proposal/topic grouping
// pipeline: URL/slug matching, content embedding, and pgvector cosine
// similarity matching, with groups persisted so a proposal and the forum
// topic discussing it stay bundled across runs.
package mapper

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pgvector/pgvector-go"

	"governanceagg/store"
)

// EmbeddingDimension is the vector width every embedding column is declared
// with (store.Embedding.Vector).
const EmbeddingDimension = store.EmbeddingDimension

// Embedder turns free text into a fixed-width embedding vector. The HTTP
// implementation below is the production path; tests supply a fake.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelVersion() string
}

// HTTPEmbedder calls an external embedding service over HTTP, POSTing the
// text and expecting a JSON {"vector": [...]} response.
type HTTPEmbedder struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

// NewHTTPEmbedder builds an HTTPEmbedder with a bounded-timeout client.
func NewHTTPEmbedder(baseURL, model string) *HTTPEmbedder {
	return &HTTPEmbedder{
		BaseURL: baseURL,
		Model:   model,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// ModelVersion identifies the embedding model this embedder calls, stamped
// onto every Embedding row so a model upgrade can be detected and
// re-embedded selectively.
func (e *HTTPEmbedder) ModelVersion() string {
	return e.Model
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Vector []float32 `json:"vector"`
}

// Embed posts text to the embedding service and returns its vector.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("mapper: marshal embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mapper: build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mapper: embed request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mapper: embed service returned status %d", resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("mapper: decode embed response: %w", err)
	}
	if len(out.Vector) != EmbeddingDimension {
		return nil, fmt.Errorf("mapper: embed service returned %d dims, want %d", len(out.Vector), EmbeddingDimension)
	}
	return out.Vector, nil
}

// contentHash returns a stable hex-encoded SHA-256 digest of text, used to
// skip re-embedding content that has not changed since the last pass.
func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func toVector(values []float32) pgvector.Vector {
	return pgvector.NewVector(values)
}
