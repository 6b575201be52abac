package app

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dotcommander/codexmem/internal/models"
)

// knownSettingKeys is the full settings surface. PUT /settings rejects keys
// outside this set so typos fail loudly instead of resolving to defaults
// forever.
//
//nolint:gochecknoglobals // static registry
var knownSettingKeys = map[string]bool{
	KeyProvider: true, KeyModel: true, KeyFallbackModel: true,
	KeyAPIKey: true, KeyBaseURL: true,
	KeyCodexBinary: true, KeyCodexReasoningEffort: true, KeyCodexUseOss: true,
	KeyOllamaBaseURL: true, KeyOllamaModel: true, KeyOllamaContextSize: true,
	KeyOllamaTemperature: true, KeyOllamaTimeoutMs: true, KeyOllamaOptions: true,
	KeyEmbeddingModel: true, KeyVectorEnabled: true,
	KeyWorkerHost: true, KeyWorkerPort: true,
	KeyMode: true, KeyFallbackPolicy: true,
	KeyMaxPendingPerSession: true, KeyMaxConcurrentAgents: true,
	KeyModelRpmLimits: true,
	KeyContextObsCount: true, KeyContextIncludeSum: true, KeyContextIncludeLast: true,
	KeyContextObsTypes: true, KeyContextConcepts: true,
	KeyLogLevel: true,
}

// KnownSettingKey reports whether key is part of the settings surface.
func KnownSettingKey(key string) bool { return knownSettingKeys[key] }

var validReasoningEfforts = map[string]bool{
	"minimal": true, "low": true, "medium": true, "high": true,
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// ValidateSetting checks one key/value pair before it is saved. An empty
// value is always valid: it deletes the key, reverting to the default.
func ValidateSetting(key, value string) error {
	if !KnownSettingKey(key) {
		return fmt.Errorf("unknown setting %q", key)
	}
	if value == "" {
		return nil
	}

	switch key {
	case KeyProvider:
		if !contains(ValidProviders(), value) {
			return fmt.Errorf("provider must be one of %v", ValidProviders())
		}
	case KeyFallbackPolicy:
		if !contains(ValidFallbackPolicies(), value) {
			return fmt.Errorf("fallbackPolicy must be one of %v", ValidFallbackPolicies())
		}
	case KeyCodexReasoningEffort:
		if !validReasoningEfforts[strings.ToLower(value)] {
			return fmt.Errorf("codexReasoningEffort must be minimal, low, medium, or high")
		}
	case KeyLogLevel:
		if !validLogLevels[strings.ToLower(value)] {
			return fmt.Errorf("logLevel must be debug, info, warn, or error")
		}
	case KeyWorkerPort:
		return intInRange(key, value, 1, 65535)
	case KeyMaxPendingPerSession:
		return intInRange(key, value, 1, 100)
	case KeyMaxConcurrentAgents:
		return intInRange(key, value, 1, 32)
	case KeyContextObsCount:
		return intInRange(key, value, 0, 200)
	case KeyOllamaContextSize:
		return intInRange(key, value, 256, 1<<20)
	case KeyOllamaTimeoutMs:
		return intInRange(key, value, 1000, 3600_000)
	case KeyOllamaTemperature:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f < 0 || f > 2 {
			return fmt.Errorf("ollamaTemperature must be a number between 0 and 2")
		}
	case KeyVectorEnabled, KeyCodexUseOss, KeyContextIncludeSum, KeyContextIncludeLast:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("%s must be true or false", key)
		}
	case KeyOllamaOptions, KeyModelRpmLimits:
		var obj map[string]any
		if err := json.Unmarshal([]byte(value), &obj); err != nil {
			return fmt.Errorf("%s must be a JSON object", key)
		}
	case KeyContextObsTypes:
		for _, t := range strings.Split(value, ",") {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if !models.ObservationType(t).Valid() {
				return fmt.Errorf("unknown observation type %q (valid: %v)", t, models.AllObservationTypes())
			}
		}
	}
	return nil
}

func intInRange(key, value string, min, max int) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%s must be an integer", key)
	}
	if n < min || n > max {
		return fmt.Errorf("%s must be between %d and %d", key, min, max)
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
