package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvKeyFor(t *testing.T) {
	cases := map[string]string{
		"provider":             "CODEXMEM_PROVIDER",
		"ollamaBaseUrl":        "CODEXMEM_OLLAMA_BASE_URL",
		"maxPendingPerSession": "CODEXMEM_MAX_PENDING_PER_SESSION",
		"logLevel":             "CODEXMEM_LOG_LEVEL",
	}
	for key, want := range cases {
		require.Equal(t, want, EnvKeyFor(key))
	}
}

func TestResolveSettingPrecedence(t *testing.T) {
	useTempDataDir(t)
	_, err := SaveSettings(map[string]string{KeyModel: "from-file"})
	require.NoError(t, err)

	t.Run("default when nothing set", func(t *testing.T) {
		require.Equal(t, "fallback", ResolveSetting(KeyOllamaModel, "fallback"))
	})

	t.Run("file beats default", func(t *testing.T) {
		require.Equal(t, "from-file", ResolveSetting(KeyModel, "fallback"))
	})

	t.Run("legacy env beats file", func(t *testing.T) {
		t.Setenv("CODEX_MEM_MODEL", "from-legacy-env")
		require.Equal(t, "from-legacy-env", ResolveSetting(KeyModel, "fallback"))
	})

	t.Run("canonical env beats everything", func(t *testing.T) {
		t.Setenv("CODEX_MEM_MODEL", "from-legacy-env")
		t.Setenv("CODEXMEM_MODEL", "from-env")
		require.Equal(t, "from-env", ResolveSetting(KeyModel, "fallback"))
	})
}

func TestResolveSettingLegacyEnvWarnsOnce(t *testing.T) {
	useTempDataDir(t)

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	t.Setenv("CODEX_MEM_CODEX_BINARY", "/usr/local/bin/codex")
	require.Equal(t, "/usr/local/bin/codex", ResolveSetting(KeyCodexBinary, ""))
	require.Equal(t, "/usr/local/bin/codex", ResolveSetting(KeyCodexBinary, ""))

	require.Equal(t, 1, strings.Count(buf.String(), "deprecated=CODEX_MEM_CODEX_BINARY"))
}

func TestResolveTypedSettings(t *testing.T) {
	useTempDataDir(t)
	_, err := SaveSettings(map[string]string{
		KeyWorkerPort:        "38888",
		KeyOllamaTemperature: "0.4",
		KeyVectorEnabled:     "true",
		KeyOllamaOptions:     `{"num_ctx": 8192}`,
		KeyContextObsTypes:   "bugfix, decision, ",
	})
	require.NoError(t, err)

	require.Equal(t, 38888, ResolveInt(KeyWorkerPort, 37777))
	require.InDelta(t, 0.4, ResolveFloat(KeyOllamaTemperature, 0.7), 1e-9)
	require.True(t, ResolveBool(KeyVectorEnabled, false))
	require.Equal(t, map[string]any{"num_ctx": float64(8192)}, ResolveJSONMap(KeyOllamaOptions))
	require.Equal(t, []string{"bugfix", "decision"}, ResolveStringList(KeyContextObsTypes))
}

func TestResolveTypedSettingsFallBackOnMalformedValues(t *testing.T) {
	useTempDataDir(t)

	t.Setenv("CODEXMEM_WORKER_PORT", "not-a-number")
	require.Equal(t, 37777, ResolveInt(KeyWorkerPort, 37777))

	t.Setenv("CODEXMEM_VECTOR_ENABLED", "maybe")
	require.False(t, ResolveBool(KeyVectorEnabled, false))

	t.Setenv("CODEXMEM_OLLAMA_TEMPERATURE", "warm")
	require.InDelta(t, 0.7, ResolveFloat(KeyOllamaTemperature, 0.7), 1e-9)

	t.Setenv("CODEXMEM_OLLAMA_OPTIONS", "[1,2,3]")
	require.Nil(t, ResolveJSONMap(KeyOllamaOptions))
}
