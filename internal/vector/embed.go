package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
)

const (
	embedMaxAttempts = 3
	embedRetryDelay  = 500 * time.Millisecond
)

// Embedder turns text into vectors via a local Ollama instance.
//
// Requests are serialized: Ollama's llama runner aborts when it receives
// concurrent embedding requests, so one in flight at a time is the safe mode.
type Embedder struct {
	baseURL string
	model   string
	client  *http.Client

	mu sync.Mutex
}

// NewEmbedder creates an embedder against the given Ollama base URL.
func NewEmbedder(baseURL, model string, timeout time.Duration) *Embedder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Embedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

// Model returns the embedding model name.
func (e *Embedder) Model() string { return e.model }

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns the embedding vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	body, err := json.Marshal(embedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < embedMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * embedRetryDelay):
			}
		}

		vec, err := e.embedOnce(ctx, body)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		slog.Debug("embedding attempt failed", "attempt", attempt+1, "model", e.model, "error", err)
	}
	return nil, fmt.Errorf("embed with %s: %w", e.model, lastErr)
}

func (e *Embedder) embedOnce(ctx context.Context, body []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama embeddings returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding")
	}
	return out.Embedding, nil
}

// Func adapts the embedder to chromem's embedding callback.
func (e *Embedder) Func() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return e.Embed(ctx, text)
	}
}
