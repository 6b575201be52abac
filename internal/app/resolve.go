package app

import (
	"encoding/json"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

// Settings keys. File keys are camelCase; the matching env vars are the
// SCREAMING_SNAKE form under the CODEXMEM_ (canonical) and CODEX_MEM_
// (legacy) prefixes, e.g. ollamaBaseUrl -> CODEXMEM_OLLAMA_BASE_URL.
const (
	KeyProvider             = "provider"
	KeyModel                = "model"
	KeyFallbackModel        = "fallbackModel"
	KeyAPIKey               = "apiKey"
	KeyBaseURL              = "baseUrl"
	KeyCodexBinary          = "codexBinary"
	KeyCodexReasoningEffort = "codexReasoningEffort"
	KeyCodexUseOss          = "codexUseOss"
	KeyOllamaBaseURL        = "ollamaBaseUrl"
	KeyOllamaModel          = "ollamaModel"
	KeyOllamaContextSize    = "ollamaContextSize"
	KeyOllamaTemperature    = "ollamaTemperature"
	KeyOllamaTimeoutMs      = "ollamaTimeoutMs"
	KeyOllamaOptions        = "ollamaOptions"
	KeyEmbeddingModel       = "embeddingModel"
	KeyVectorEnabled        = "vectorEnabled"
	KeyWorkerHost           = "workerHost"
	KeyWorkerPort           = "workerPort"
	KeyMode                 = "mode"
	KeyFallbackPolicy       = "fallbackPolicy"
	KeyMaxPendingPerSession = "maxPendingPerSession"
	KeyMaxConcurrentAgents  = "maxConcurrentAgents"
	KeyModelRpmLimits       = "modelRpmLimits"
	KeyContextObsCount      = "contextObservationCount"
	KeyContextIncludeSum    = "contextIncludeSummary"
	KeyContextIncludeLast   = "contextIncludeLastMessage"
	KeyContextObsTypes      = "contextObservationTypes"
	KeyContextConcepts      = "contextConcepts"
	KeyLogLevel             = "logLevel"
)

const (
	envPrefix       = "CODEXMEM_"
	legacyEnvPrefix = "CODEX_MEM_"
)

// deprecationWarned tracks one-shot warnings per deprecated name per process.
//
//nolint:gochecknoglobals // once-per-key warning state is intentional
var deprecationWarned sync.Map

func warnDeprecatedOnce(deprecated, canonical string) {
	if _, seen := deprecationWarned.LoadOrStore(deprecated, struct{}{}); !seen {
		slog.Warn("deprecated name in use, please switch to the canonical form",
			"deprecated", deprecated, "canonical", canonical)
	}
}

// EnvKeyFor converts a settings key to its canonical env var name.
func EnvKeyFor(key string) string {
	return envPrefix + snakeUpper(key)
}

func legacyEnvKeyFor(key string) string {
	return legacyEnvPrefix + snakeUpper(key)
}

func snakeUpper(key string) string {
	var b strings.Builder
	for i, r := range key {
		if unicode.IsUpper(r) && i > 0 {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// ResolveSetting returns the effective value for a key.
// Order: canonical env var, legacy env var, settings file, default.
// A canonical env var always wins even when the legacy one is also set; a
// legacy hit logs a one-shot deprecation warning.
func ResolveSetting(key, def string) string {
	if v := os.Getenv(EnvKeyFor(key)); v != "" {
		return v
	}
	if v := os.Getenv(legacyEnvKeyFor(key)); v != "" {
		warnDeprecatedOnce(legacyEnvKeyFor(key), EnvKeyFor(key))
		return v
	}
	settings, err := LoadSettings()
	if err == nil {
		if v, ok := settings[key]; ok && v != "" {
			return v
		}
	}
	return def
}

// ResolveInt resolves a numeric setting, falling back to def on absence or a
// malformed value.
func ResolveInt(key string, def int) int {
	raw := ResolveSetting(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		slog.Warn("ignoring malformed numeric setting", "key", key, "value", raw)
		return def
	}
	return v
}

// ResolveFloat resolves a float setting with the same fallback rules.
func ResolveFloat(key string, def float64) float64 {
	raw := ResolveSetting(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		slog.Warn("ignoring malformed numeric setting", "key", key, "value", raw)
		return def
	}
	return v
}

// ResolveBool resolves a boolean setting. Accepts strconv.ParseBool forms.
func ResolveBool(key string, def bool) bool {
	raw := ResolveSetting(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		slog.Warn("ignoring malformed boolean setting", "key", key, "value", raw)
		return def
	}
	return v
}

// ResolveJSONMap resolves a setting holding a JSON object. Returns nil when
// unset or malformed.
func ResolveJSONMap(key string) map[string]any {
	raw := ResolveSetting(key, "")
	if raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		slog.Warn("ignoring malformed JSON setting", "key", key, "value", raw)
		return nil
	}
	return out
}

// ResolveStringList resolves a comma-separated list setting.
func ResolveStringList(key string) []string {
	raw := ResolveSetting(key, "")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
