package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// useTempDataDir points the data directory at a fresh temp dir and resets
// the settings cache around the test.
func useTempDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CODEXMEM_DATA_DIR", dir)
	InvalidateSettings()
	t.Cleanup(InvalidateSettings)
	return dir
}

func writeSettingsFile(t *testing.T, dir, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, settingsFileName), []byte(contents), 0o600))
	InvalidateSettings()
}

func TestSaveAndLoadSettingsRoundTrip(t *testing.T) {
	useTempDataDir(t)

	saved, err := SaveSettings(map[string]string{
		KeyProvider:    "ollama",
		KeyOllamaModel: "qwen2.5:7b",
	})
	require.NoError(t, err)
	require.Equal(t, "ollama", saved[KeyProvider])

	InvalidateSettings()
	loaded, err := LoadSettings()
	require.NoError(t, err)
	require.Equal(t, "ollama", loaded[KeyProvider])
	require.Equal(t, "qwen2.5:7b", loaded[KeyOllamaModel])
}

func TestSaveSettingsEmptyValueDeletesKey(t *testing.T) {
	useTempDataDir(t)

	_, err := SaveSettings(map[string]string{KeyModel: "claude-sonnet-4-5"})
	require.NoError(t, err)

	saved, err := SaveSettings(map[string]string{KeyModel: ""})
	require.NoError(t, err)
	_, ok := saved[KeyModel]
	require.False(t, ok)

	InvalidateSettings()
	loaded, err := LoadSettings()
	require.NoError(t, err)
	_, ok = loaded[KeyModel]
	require.False(t, ok)
}

func TestSaveSettingsLeavesNoTempFile(t *testing.T) {
	dir := useTempDataDir(t)

	_, err := SaveSettings(map[string]string{KeyWorkerHost: "127.0.0.1"})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), ".tmp")
	}
}

func TestLoadSettingsMissingFileIsEmpty(t *testing.T) {
	useTempDataDir(t)

	s, err := LoadSettings()
	require.NoError(t, err)
	require.Empty(t, s)
}

func TestLoadSettingsRejectsCorruptFile(t *testing.T) {
	dir := useTempDataDir(t)
	writeSettingsFile(t, dir, "{not json")

	_, err := LoadSettings()
	require.Error(t, err)
}

func TestLoadSettingsFlattensLegacySchema(t *testing.T) {
	dir := useTempDataDir(t)
	writeSettingsFile(t, dir, `{
		"model": "top-level",
		"ollama": {
			"ollamaModel": "llama3.2",
			"model": "nested-duplicate"
		},
		"ollamaOptions": {"num_ctx": 8192},
		"workerPort": 37777,
		"vectorEnabled": true
	}`)

	s, err := LoadSettings()
	require.NoError(t, err)

	// Nested sections flatten, but never shadow a top-level key.
	require.Equal(t, "top-level", s[KeyModel])
	require.Equal(t, "llama3.2", s[KeyOllamaModel])

	// Object-valued keys stay raw JSON instead of being flattened away.
	require.JSONEq(t, `{"num_ctx": 8192}`, s[KeyOllamaOptions])

	// Numbers and booleans stringify.
	require.Equal(t, "37777", s[KeyWorkerPort])
	require.Equal(t, "true", s[KeyVectorEnabled])
}

func TestLoadSettingsCachesUntilInvalidated(t *testing.T) {
	dir := useTempDataDir(t)
	writeSettingsFile(t, dir, `{"model": "first"}`)

	s, err := LoadSettings()
	require.NoError(t, err)
	require.Equal(t, "first", s[KeyModel])

	// A direct file change is invisible until the cache is dropped.
	require.NoError(t, os.WriteFile(filepath.Join(dir, settingsFileName), []byte(`{"model": "second"}`), 0o600))
	s, err = LoadSettings()
	require.NoError(t, err)
	require.Equal(t, "first", s[KeyModel])

	InvalidateSettings()
	s, err = LoadSettings()
	require.NoError(t, err)
	require.Equal(t, "second", s[KeyModel])
}
