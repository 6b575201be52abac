package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Settings is the flat key-value content of settings.json. All values are
// strings; numeric and boolean settings are parsed by their resolvers.
type Settings map[string]string

// objectValuedKeys hold raw JSON objects as their value and are exempt from
// legacy-schema flattening.
var objectValuedKeys = map[string]bool{
	"ollamaOptions":  true,
	"modelRpmLimits": true,
}

// settingsMu guards the read-through cache. Writes (SaveSettings) and
// external file changes (fsnotify watcher) invalidate it.
//
//nolint:gochecknoglobals // read-through cache is intentional process-wide state
var (
	settingsMu     sync.RWMutex
	cachedSettings Settings
	settingsLoaded bool
)

// LoadSettings returns the current settings, reading settings.json at most
// once until invalidated. A missing file is an empty settings map, not an
// error.
func LoadSettings() (Settings, error) {
	settingsMu.RLock()
	if settingsLoaded {
		s := cachedSettings
		settingsMu.RUnlock()
		return s, nil
	}
	settingsMu.RUnlock()

	settingsMu.Lock()
	defer settingsMu.Unlock()
	if settingsLoaded {
		return cachedSettings, nil
	}

	path, err := SettingsPath()
	if err != nil {
		return nil, err
	}
	s, err := loadSettingsFile(path)
	if err != nil {
		return nil, err
	}
	cachedSettings = s
	settingsLoaded = true
	return s, nil
}

// InvalidateSettings drops the cache so the next LoadSettings re-reads disk.
func InvalidateSettings() {
	settingsMu.Lock()
	cachedSettings = nil
	settingsLoaded = false
	settingsMu.Unlock()
}

// SaveSettings merges patch into the on-disk settings and refreshes the
// cache. Empty-string values delete their key. The write is atomic
// (temp file + rename) so a concurrent reader never sees a torn file.
func SaveSettings(patch map[string]string) (Settings, error) {
	settingsMu.Lock()
	defer settingsMu.Unlock()

	path, err := SettingsPath()
	if err != nil {
		return nil, err
	}
	current, err := loadSettingsFile(path)
	if err != nil {
		return nil, err
	}

	for k, v := range patch {
		if v == "" {
			delete(current, k)
			continue
		}
		current[k] = v
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create settings directory: %w", err)
	}
	data, err := marshalSettings(current)
	if err != nil {
		return nil, err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return nil, fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("replace settings: %w", err)
	}

	cachedSettings = current
	settingsLoaded = true
	return current, nil
}

// loadSettingsFile reads and flattens one settings file. The legacy schema
// nested keys under sections; any non-object-valued map is flattened so old
// files keep working (top-level keys win over nested duplicates).
func loadSettingsFile(path string) (Settings, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path derived from trusted data dir
	if errors.Is(err, os.ErrNotExist) {
		return Settings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}

	out := Settings{}
	flattenInto(out, raw, false)
	return out, nil
}

// flattenInto stringifies raw into out. nested=true marks values lifted out
// of a legacy section, which must not shadow top-level keys.
func flattenInto(out Settings, raw map[string]any, nested bool) {
	for key, value := range raw {
		if m, ok := value.(map[string]any); ok && !objectValuedKeys[key] {
			flattenInto(out, m, true)
			continue
		}
		if nested {
			if _, exists := out[key]; exists {
				continue
			}
		}
		out[key] = stringifyValue(value)
	}
}

func stringifyValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// marshalSettings renders settings indented; encoding/json sorts map keys,
// which keeps diffs of the file readable.
func marshalSettings(s Settings) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}
	return append(data, '\n'), nil
}
