package app

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// Provider names accepted by the provider and fallbackPolicy settings.
const (
	ProviderSDK    = "sdk"
	ProviderCodex  = "codex"
	ProviderOllama = "ollama"

	FallbackAuto = "auto"
	FallbackOff  = "off"
)

// Defaults for every resolvable setting. Exported so validators and the
// settings endpoint can report them.
const (
	DefaultProvider       = ProviderSDK
	DefaultModel          = "claude-3-5-haiku-latest"
	DefaultCodexBinary    = "codex"
	DefaultOllamaBaseURL  = "http://localhost:11434"
	DefaultOllamaModel    = "llama3.2"
	DefaultEmbeddingModel = "nomic-embed-text"
	DefaultWorkerHost     = "127.0.0.1"
	DefaultWorkerPort     = 37777
	DefaultMode           = "code"
	DefaultFallbackPolicy = FallbackAuto

	DefaultOllamaContextSize = 8192
	DefaultOllamaTimeoutMs   = 120000

	DefaultMaxPendingPerSession = 3
	DefaultMaxConcurrentAgents  = 3

	DefaultContextObservationCount = 10
)

// Config is the fully resolved runtime configuration. Load it once at
// process start; individual handlers re-resolve keys that may change at
// runtime through the settings endpoint.
type Config struct {
	Provider             string
	Model                string
	FallbackModel        string
	APIKey               string
	BaseURL              string
	CodexBinary          string
	CodexReasoningEffort string
	CodexUseOss          bool

	OllamaBaseURL     string
	OllamaModel       string
	OllamaContextSize int
	OllamaTemperature float64
	OllamaTimeout     time.Duration
	OllamaOptions     map[string]any

	EmbeddingModel string
	VectorEnabled  bool

	WorkerHost string
	WorkerPort int

	Mode           string
	FallbackPolicy string

	MaxPendingPerSession int
	MaxConcurrentAgents  int
	ModelRpmLimits       map[string]int

	ContextObservationCount   int
	ContextIncludeSummary     bool
	ContextIncludeLastMessage bool
	ContextObservationTypes   []string
	ContextConcepts           []string

	LogLevel slog.Level
}

// LoadConfig resolves every setting through the canonical-env > legacy-env >
// file > default chain.
func LoadConfig() Config {
	cfg := Config{
		Provider:             strings.ToLower(ResolveSetting(KeyProvider, DefaultProvider)),
		Model:                ResolveSetting(KeyModel, DefaultModel),
		FallbackModel:        ResolveSetting(KeyFallbackModel, ""),
		APIKey:               resolveAPIKey(),
		BaseURL:              ResolveSetting(KeyBaseURL, ""),
		CodexBinary:          ResolveSetting(KeyCodexBinary, DefaultCodexBinary),
		CodexReasoningEffort: ResolveSetting(KeyCodexReasoningEffort, ""),
		CodexUseOss:          ResolveBool(KeyCodexUseOss, false),

		OllamaBaseURL:     ResolveSetting(KeyOllamaBaseURL, DefaultOllamaBaseURL),
		OllamaModel:       ResolveSetting(KeyOllamaModel, DefaultOllamaModel),
		OllamaContextSize: ResolveInt(KeyOllamaContextSize, DefaultOllamaContextSize),
		OllamaTemperature: ResolveFloat(KeyOllamaTemperature, 0.2),
		OllamaTimeout:     time.Duration(ResolveInt(KeyOllamaTimeoutMs, DefaultOllamaTimeoutMs)) * time.Millisecond,
		OllamaOptions:     ResolveJSONMap(KeyOllamaOptions),

		EmbeddingModel: ResolveSetting(KeyEmbeddingModel, DefaultEmbeddingModel),
		VectorEnabled:  ResolveBool(KeyVectorEnabled, true),

		WorkerHost: ResolveSetting(KeyWorkerHost, DefaultWorkerHost),
		WorkerPort: ResolveInt(KeyWorkerPort, DefaultWorkerPort),

		Mode:           ResolveSetting(KeyMode, DefaultMode),
		FallbackPolicy: strings.ToLower(ResolveSetting(KeyFallbackPolicy, DefaultFallbackPolicy)),

		MaxPendingPerSession: ResolveInt(KeyMaxPendingPerSession, DefaultMaxPendingPerSession),
		MaxConcurrentAgents:  ResolveInt(KeyMaxConcurrentAgents, DefaultMaxConcurrentAgents),
		ModelRpmLimits:       resolveRpmLimits(),

		ContextObservationCount:   ResolveInt(KeyContextObsCount, DefaultContextObservationCount),
		ContextIncludeSummary:     ResolveBool(KeyContextIncludeSum, true),
		ContextIncludeLastMessage: ResolveBool(KeyContextIncludeLast, true),
		ContextObservationTypes:   ResolveStringList(KeyContextObsTypes),
		ContextConcepts:           ResolveStringList(KeyContextConcepts),

		LogLevel: parseLogLevel(ResolveSetting(KeyLogLevel, "info")),
	}

	if cfg.MaxPendingPerSession <= 0 {
		cfg.MaxPendingPerSession = DefaultMaxPendingPerSession
	}
	if cfg.MaxConcurrentAgents <= 0 {
		cfg.MaxConcurrentAgents = DefaultMaxConcurrentAgents
	}
	return cfg
}

// resolveAPIKey honors the plain ANTHROPIC_API_KEY as a last resort so an
// already configured shell works without codexmem-specific settings.
func resolveAPIKey() string {
	if key := ResolveSetting(KeyAPIKey, ""); key != "" {
		return key
	}
	return os.Getenv("ANTHROPIC_API_KEY")
}

func resolveRpmLimits() map[string]int {
	raw := ResolveJSONMap(KeyModelRpmLimits)
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]int, len(raw))
	for model, v := range raw {
		if f, ok := v.(float64); ok && f > 0 {
			out[model] = int(f)
		}
	}
	return out
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidProviders lists the accepted provider setting values.
func ValidProviders() []string {
	return []string{ProviderSDK, ProviderCodex, ProviderOllama}
}

// ValidFallbackPolicies lists the accepted fallbackPolicy setting values.
// "codex" and "sdk" force a specific fallback provider.
func ValidFallbackPolicies() []string {
	return []string{FallbackAuto, FallbackOff, ProviderCodex, ProviderSDK}
}
