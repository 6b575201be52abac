package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearDataDirSources blanks every data-dir source so each subtest controls
// exactly one of them.
func clearDataDirSources(t *testing.T) {
	t.Helper()
	SetDataDirOverride("")
	t.Cleanup(func() { SetDataDirOverride("") })
	t.Setenv("CODEXMEM_DATA_DIR", "")
	t.Setenv("CODEX_MEM_DATA_DIR", "")
}

func TestDataDir_Precedence(t *testing.T) {
	clearDataDirSources(t)

	t.Run("flag override wins over env", func(t *testing.T) {
		t.Setenv("CODEXMEM_DATA_DIR", "/tmp/env-dir")
		SetDataDirOverride("/tmp/flag-dir")
		defer SetDataDirOverride("")

		dir, err := DataDir()
		require.NoError(t, err)
		assert.Equal(t, "/tmp/flag-dir", dir)
	})

	t.Run("canonical env wins over legacy env", func(t *testing.T) {
		t.Setenv("CODEXMEM_DATA_DIR", "/tmp/canonical-dir")
		t.Setenv("CODEX_MEM_DATA_DIR", "/tmp/legacy-dir")

		dir, err := DataDir()
		require.NoError(t, err)
		assert.Equal(t, "/tmp/canonical-dir", dir)
	})

	t.Run("legacy env accepted alone", func(t *testing.T) {
		t.Setenv("CODEX_MEM_DATA_DIR", "/tmp/legacy-dir")

		dir, err := DataDir()
		require.NoError(t, err)
		assert.Equal(t, "/tmp/legacy-dir", dir)
	})
}

func TestDataDir_HomeFallback(t *testing.T) {
	clearDataDirSources(t)
	home := t.TempDir()
	t.Setenv("HOME", home)

	// Nothing on disk yet: the canonical location is the answer.
	dir, err := DataDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".codexmem"), dir)

	// Only the legacy directory exists: keep using it until migration runs.
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".codex-mem"), 0o755))
	dir, err = DataDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".codex-mem"), dir)

	// Once the canonical directory appears it wins.
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".codexmem"), 0o755))
	dir, err = DataDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".codexmem"), dir)
}

func TestDBPath_LegacyFileAcceptedOnRead(t *testing.T) {
	dir := useTempDataDir(t)

	// Fresh install: canonical name even though no file exists yet.
	path, err := DBPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "codexmem.db"), path)

	// Only a legacy file: read it in place.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "codex-mem.db"), []byte("x"), 0o644))
	path, err = DBPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "codex-mem.db"), path)

	// Canonical file appears (post-migration): prefer it.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "codexmem.db"), []byte("x"), 0o644))
	path, err = DBPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "codexmem.db"), path)
}

func TestEnsureDataDir_CreatesTree(t *testing.T) {
	dir := useTempDataDir(t)

	got, err := EnsureDataDir()
	require.NoError(t, err)
	assert.Equal(t, dir, got)
	for _, sub := range []string{"logs", "vectors", "modes"} {
		assert.DirExists(t, filepath.Join(dir, sub))
	}
}

func TestLogFilePath_DatedName(t *testing.T) {
	dir := useTempDataDir(t)

	day := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	path, err := LogFilePath(day)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "logs", "codexmem-2026-02-03.log"), path)
}