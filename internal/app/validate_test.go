package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateSettingAcceptsGoodValues(t *testing.T) {
	cases := map[string]string{
		KeyProvider:             "ollama",
		KeyFallbackPolicy:       "auto",
		KeyCodexReasoningEffort: "medium",
		KeyLogLevel:             "debug",
		KeyWorkerPort:           "37777",
		KeyMaxPendingPerSession: "10",
		KeyMaxConcurrentAgents:  "3",
		KeyContextObsCount:      "0",
		KeyOllamaContextSize:    "8192",
		KeyOllamaTimeoutMs:      "120000",
		KeyOllamaTemperature:    "0.7",
		KeyVectorEnabled:        "true",
		KeyOllamaOptions:        `{"num_ctx": 8192}`,
		KeyContextObsTypes:      "bugfix,decision",
		KeyModel:                "anything-goes",
	}
	for key, value := range cases {
		require.NoError(t, ValidateSetting(key, value), "key %q value %q", key, value)
	}
}

func TestValidateSettingEmptyValueAlwaysValid(t *testing.T) {
	// An empty value deletes the key, so even enum keys accept it.
	require.NoError(t, ValidateSetting(KeyProvider, ""))
	require.NoError(t, ValidateSetting(KeyWorkerPort, ""))
}

func TestValidateSettingRejectsBadValues(t *testing.T) {
	cases := []struct {
		key   string
		value string
	}{
		{"modle", "typo-key"},
		{KeyProvider, "banana"},
		{KeyFallbackPolicy, "sometimes"},
		{KeyCodexReasoningEffort, "extreme"},
		{KeyLogLevel, "verbose"},
		{KeyWorkerPort, "0"},
		{KeyWorkerPort, "99999999"},
		{KeyWorkerPort, "not-a-port"},
		{KeyMaxPendingPerSession, "101"},
		{KeyMaxConcurrentAgents, "0"},
		{KeyContextObsCount, "201"},
		{KeyOllamaContextSize, "128"},
		{KeyOllamaTimeoutMs, "50"},
		{KeyOllamaTemperature, "2.5"},
		{KeyOllamaTemperature, "-1"},
		{KeyVectorEnabled, "maybe"},
		{KeyOllamaOptions, "not-an-object"},
		{KeyOllamaOptions, "[1,2,3]"},
		{KeyContextObsTypes, "bugfix,imaginary"},
	}
	for _, tc := range cases {
		require.Error(t, ValidateSetting(tc.key, tc.value), "key %q value %q", tc.key, tc.value)
	}
}

func TestKnownSettingKeyCoversAllConstants(t *testing.T) {
	for _, key := range []string{
		KeyProvider, KeyModel, KeyFallbackModel, KeyAPIKey, KeyBaseURL,
		KeyCodexBinary, KeyCodexReasoningEffort, KeyCodexUseOss,
		KeyOllamaBaseURL, KeyOllamaModel, KeyOllamaContextSize,
		KeyOllamaTemperature, KeyOllamaTimeoutMs, KeyOllamaOptions,
		KeyEmbeddingModel, KeyVectorEnabled, KeyWorkerHost, KeyWorkerPort,
		KeyMode, KeyFallbackPolicy, KeyMaxPendingPerSession,
		KeyMaxConcurrentAgents, KeyModelRpmLimits, KeyContextObsCount,
		KeyContextIncludeSum, KeyContextIncludeLast, KeyContextObsTypes,
		KeyContextConcepts, KeyLogLevel,
	} {
		require.True(t, KnownSettingKey(key), "key %q", key)
	}
	require.False(t, KnownSettingKey("notASetting"))
}
