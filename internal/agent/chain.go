package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/dotcommander/codexmem/internal/app"
)

// Provider drives distillation for one session. Implementations own the
// transport; the Session owns the conversation and the queue.
type Provider interface {
	Name() string
	StartSession(ctx context.Context, s *Session) error
}

// Chain is a primary provider with at most one fallback. On a
// fallback-eligible failure the same Session object moves to the fallback:
// same history, same replay backlog, nothing reprocessed twice.
type Chain struct {
	Primary  Provider
	Fallback Provider
}

// NewChain builds the provider chain from resolved config.
func NewChain(cfg app.Config) (*Chain, error) {
	primary, err := buildProvider(cfg.Provider, cfg)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", cfg.Provider, err)
	}

	chain := &Chain{Primary: primary}
	if name := fallbackName(cfg, primary.Name()); name != "" {
		fb, err := buildProvider(name, cfg)
		if err != nil {
			slog.Warn("fallback provider unavailable", "provider", name, "error", err)
		} else {
			chain.Fallback = fb
		}
	}
	return chain, nil
}

// fallbackName resolves the fallback policy to a provider name, or "" for
// none. Auto prefers the codex CLI when its binary is on PATH.
func fallbackName(cfg app.Config, primary string) string {
	switch cfg.FallbackPolicy {
	case app.FallbackOff:
		return ""
	case app.ProviderCodex, app.ProviderSDK:
		if cfg.FallbackPolicy == primary {
			return ""
		}
		return cfg.FallbackPolicy
	default: // auto
		if primary != app.ProviderCodex && codexOnPath(cfg) {
			return app.ProviderCodex
		}
		if primary != app.ProviderSDK {
			return app.ProviderSDK
		}
		return ""
	}
}

func codexOnPath(cfg app.Config) bool {
	binary := cfg.CodexBinary
	if binary == "" {
		binary = app.DefaultCodexBinary
	}
	_, err := exec.LookPath(binary)
	return err == nil
}

func buildProvider(name string, cfg app.Config) (Provider, error) {
	switch name {
	case app.ProviderSDK:
		return NewAnthropicProvider(cfg), nil
	case app.ProviderCodex:
		return NewCodexProvider(cfg)
	case app.ProviderOllama:
		return NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown provider %q (valid: %v)", name, app.ValidProviders())
	}
}

// Run processes the session, migrating to the fallback once if the primary
// fails in a recoverable way.
func (c *Chain) Run(ctx context.Context, s *Session) error {
	err := c.Primary.StartSession(ctx, s)
	if err == nil || c.Fallback == nil || !FallbackEligible(err) {
		return err
	}

	slog.Warn("handing session to fallback provider",
		"session", s.rec.ContentSessionID,
		"from", c.Primary.Name(),
		"to", c.Fallback.Name(),
		"error", err)
	return c.Fallback.StartSession(ctx, s)
}
