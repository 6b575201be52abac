package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dotcommander/codexmem/internal/app"
)

const maxResponseTokens = 4096

// AnthropicProvider runs sessions against the hosted Messages API.
type AnthropicProvider struct {
	client        anthropic.Client
	model         string
	fallbackModel string
	limiter       *RateLimiter
}

// NewAnthropicProvider builds the hosted provider from resolved config.
func NewAnthropicProvider(cfg app.Config) *AnthropicProvider {
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{
		client:        anthropic.NewClient(opts...),
		model:         cfg.Model,
		fallbackModel: cfg.FallbackModel,
		limiter:       NewRateLimiter(cfg.ModelRpmLimits),
	}
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return app.ProviderSDK }

// StartSession implements Provider.
func (p *AnthropicProvider) StartSession(ctx context.Context, s *Session) error {
	model := p.model
	return s.Run(ctx, p.Name(), func(ctx context.Context, history []Turn) (string, Usage, error) {
		reply, usage, err := p.send(ctx, model, history)
		if err != nil && isModelNotFound(err) && p.fallbackModel != "" && model != p.fallbackModel {
			slog.Warn("model not found, switching to fallback model",
				"model", model, "fallback", p.fallbackModel)
			model = p.fallbackModel
			reply, usage, err = p.send(ctx, model, history)
		}
		return reply, usage, err
	})
}

func (p *AnthropicProvider) send(ctx context.Context, model string, history []Turn) (string, Usage, error) {
	if err := p.limiter.Wait(ctx, model); err != nil {
		return "", Usage{}, err
	}

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxResponseTokens,
		Messages:  toMessageParams(history),
	})
	if err != nil {
		return "", Usage{}, classifyAnthropicError(err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	return b.String(), Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}, nil
}

func toMessageParams(history []Turn) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, t := range history {
		block := anthropic.NewTextBlock(t.Text)
		if t.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

func classifyAnthropicError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		pe := &ProviderError{Provider: app.ProviderSDK, Status: apierr.StatusCode, Err: err,
			Class: classifyStatus(apierr.StatusCode)}
		return pe
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// No HTTP status means the request never completed: network trouble.
	return Transient(app.ProviderSDK, 0, err)
}

func isModelNotFound(err error) bool {
	var apierr *anthropic.Error
	if !errors.As(err, &apierr) {
		return false
	}
	return apierr.StatusCode == 404 && strings.Contains(strings.ToLower(err.Error()), "model")
}
