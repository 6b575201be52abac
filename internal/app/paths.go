package app

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Canonical and legacy on-disk names. The legacy spellings predate the
// product rename and are accepted on read so existing installs keep working.
const (
	dataDirName       = ".codexmem"
	legacyDataDirName = ".codex-mem"

	dbFileName       = "codexmem.db"
	legacyDBFileName = "codex-mem.db"

	settingsFileName   = "settings.json"
	checkpointFileName = "codex-history-ingest-state.json"
	pidFileName        = "worker.pid"
	logsDirName        = "logs"
	vectorsDirName     = "vectors"
	modesDirName       = "modes"
)

// dataDirOverrideMu and dataDirOverride implement a mutex-protected
// process-wide override for CLI --data-dir.
//
//nolint:gochecknoglobals // RWMutex override is intentional process-wide state
var (
	dataDirOverrideMu sync.RWMutex
	dataDirOverride   string
)

// SetDataDirOverride sets a process-wide data directory override.
// Intended for CLI flag support (e.g. --data-dir).
func SetDataDirOverride(dir string) {
	dataDirOverrideMu.Lock()
	dataDirOverride = dir
	dataDirOverrideMu.Unlock()
	InvalidateSettings()
}

func getDataDirOverride() string {
	dataDirOverrideMu.RLock()
	v := dataDirOverride
	dataDirOverrideMu.RUnlock()
	return v
}

// DataDir resolves the data directory.
// Order of precedence:
// 1) CLI override (e.g. --data-dir)
// 2) Environment: CODEXMEM_DATA_DIR, then legacy CODEX_MEM_DATA_DIR
// 3) Default: ~/.codexmem; if absent and the legacy ~/.codex-mem exists,
//    the legacy directory is used until the one-shot migration runs.
// The data directory cannot come from settings.json because that file lives
// inside it.
func DataDir() (string, error) {
	if override := getDataDirOverride(); override != "" {
		return override, nil
	}

	if dir := os.Getenv("CODEXMEM_DATA_DIR"); dir != "" {
		return dir, nil
	}
	if dir := os.Getenv("CODEX_MEM_DATA_DIR"); dir != "" {
		warnDeprecatedOnce("CODEX_MEM_DATA_DIR", "CODEXMEM_DATA_DIR")
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine home directory: %w", err)
	}
	canonical := filepath.Join(home, dataDirName)
	if _, err := os.Stat(canonical); err == nil {
		return canonical, nil
	}
	legacy := filepath.Join(home, legacyDataDirName)
	if _, err := os.Stat(legacy); err == nil {
		warnDeprecatedOnce(legacyDataDirName, dataDirName)
		return legacy, nil
	}
	return canonical, nil
}

// EnsureDataDir creates the data directory tree and returns its path.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	for _, sub := range []string{"", logsDirName, vectorsDirName, modesDirName} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return "", fmt.Errorf("create data directory: %w", err)
		}
	}
	return dir, nil
}

// DBPath resolves the database file inside the data directory. The canonical
// name is preferred; a legacy-named file is accepted on read when the
// canonical one does not exist yet.
func DBPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	canonical := filepath.Join(dir, dbFileName)
	if _, err := os.Stat(canonical); err == nil {
		return canonical, nil
	}
	legacy := filepath.Join(dir, legacyDBFileName)
	if _, err := os.Stat(legacy); err == nil {
		warnDeprecatedOnce(legacyDBFileName, dbFileName)
		return legacy, nil
	}
	return canonical, nil
}

// SettingsPath returns the settings.json path inside the data directory.
func SettingsPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, settingsFileName), nil
}

// CheckpointPath returns the ingestion checkpoint file path.
func CheckpointPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, checkpointFileName), nil
}

// PIDPath returns the worker singleton lock file path.
func PIDPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, pidFileName), nil
}

// LogsDir returns the log directory path.
func LogsDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, logsDirName), nil
}

// LogFilePath returns the dated log file for the given day.
func LogFilePath(now time.Time) (string, error) {
	dir, err := LogsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("codexmem-%s.log", now.Format("2006-01-02"))), nil
}

// VectorsDir returns the chromem persistence directory.
func VectorsDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, vectorsDirName), nil
}

// ModesDir returns the directory for user-provided mode bundles.
func ModesDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, modesDirName), nil
}
