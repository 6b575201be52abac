package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dotcommander/codexmem/internal/app"
)

// OllamaProvider runs sessions against a local Ollama instance over its
// plain HTTP API. The whole history is resent on every call; Ollama's chat
// endpoint is stateless.
type OllamaProvider struct {
	baseURL     string
	model       string
	contextSize int
	temperature float64
	timeout     time.Duration
	options     map[string]any
	client      *http.Client
}

// NewOllamaProvider builds the local provider from resolved config. The
// ollamaOptions setting must be a plain JSON object; anything else is
// rejected here rather than silently ignored.
func NewOllamaProvider(cfg app.Config) (*OllamaProvider, error) {
	if raw := app.ResolveSetting(app.KeyOllamaOptions, ""); strings.TrimSpace(raw) != "" {
		var probe map[string]any
		if err := json.Unmarshal([]byte(raw), &probe); err != nil {
			return nil, fmt.Errorf("ollamaOptions must be a JSON object: %w", err)
		}
	}

	timeout := cfg.OllamaTimeout
	if timeout <= 0 {
		timeout = time.Duration(app.DefaultOllamaTimeoutMs) * time.Millisecond
	}
	return &OllamaProvider{
		baseURL:     strings.TrimRight(cfg.OllamaBaseURL, "/"),
		model:       cfg.OllamaModel,
		contextSize: cfg.OllamaContextSize,
		temperature: cfg.OllamaTemperature,
		timeout:     timeout,
		options:     cfg.OllamaOptions,
		// Per-request deadlines come from the context so a slow model does
		// not leak into the next call.
		client: &http.Client{},
	}, nil
}

// Name implements Provider.
func (p *OllamaProvider) Name() string { return app.ProviderOllama }

// StartSession implements Provider.
func (p *OllamaProvider) StartSession(ctx context.Context, s *Session) error {
	return s.Run(ctx, p.Name(), p.chat)
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int64         `json:"prompt_eval_count"`
	EvalCount       int64         `json:"eval_count"`
	Error           string        `json:"error"`
}

func (p *OllamaProvider) chat(ctx context.Context, history []Turn) (string, Usage, error) {
	reqBody := ollamaChatRequest{
		Model:    p.model,
		Messages: make([]ollamaMessage, 0, len(history)),
		Stream:   false,
		Options:  p.requestOptions(),
	}
	for _, t := range history {
		reqBody.Messages = append(reqBody.Messages, ollamaMessage{Role: string(t.Role), Content: t.Text})
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", Usage{}, fmt.Errorf("marshal chat request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", Usage{}, Transient(p.Name(), 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("ollama chat returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		return "", Usage{}, &ProviderError{Provider: p.Name(), Status: resp.StatusCode, Err: err,
			Class: classifyStatus(resp.StatusCode)}
	}

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", Usage{}, Transient(p.Name(), 0, fmt.Errorf("decode chat response: %w", err))
	}
	if out.Error != "" {
		return "", Usage{}, Permanent(p.Name(), 0, fmt.Errorf("ollama: %s", out.Error))
	}

	return out.Message.Content, Usage{InputTokens: out.PromptEvalCount, OutputTokens: out.EvalCount}, nil
}

// requestOptions merges the configured options map over the tuning defaults.
func (p *OllamaProvider) requestOptions() map[string]any {
	opts := map[string]any{
		"num_ctx":     p.contextSize,
		"temperature": p.temperature,
	}
	for k, v := range p.options {
		opts[k] = v
	}
	return opts
}
