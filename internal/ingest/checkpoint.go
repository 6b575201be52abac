package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State tracks how far ingestion has progressed per transcript file. The
// single-file fields mirror the most recently advanced entry; very old
// installs wrote only those, and the loader folds them into the map.
type State struct {
	FileCheckpoints map[string]int `json:"fileCheckpoints"`

	HistoryPath             string `json:"historyPath,omitempty"`
	LastProcessedLineNumber int    `json:"lastProcessedLineNumber,omitempty"`
	UpdatedAt               string `json:"updatedAt,omitempty"`
}

// LoadState reads the checkpoint file. A missing file yields empty state.
func LoadState(path string) (*State, error) {
	st := &State{FileCheckpoints: map[string]int{}}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint state: %w", err)
	}
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, fmt.Errorf("parse checkpoint state %s: %w", path, err)
	}
	if st.FileCheckpoints == nil {
		st.FileCheckpoints = map[string]int{}
	}

	// Legacy single-file state folds into the map, never overriding a
	// checkpoint the map already carries.
	if st.HistoryPath != "" {
		if _, ok := st.FileCheckpoints[st.HistoryPath]; !ok {
			st.FileCheckpoints[st.HistoryPath] = st.LastProcessedLineNumber
		}
	}
	return st, nil
}

// Checkpoint returns the last processed line number for a file, 0 if none.
func (s *State) Checkpoint(path string) int {
	return s.FileCheckpoints[path]
}

// Advance records line as processed for path and refreshes the legacy
// mirror. Regressions are ignored so a partial re-run cannot move a
// checkpoint backwards.
func (s *State) Advance(path string, line int) {
	if line <= s.FileCheckpoints[path] {
		return
	}
	s.FileCheckpoints[path] = line
	s.HistoryPath = path
	s.LastProcessedLineNumber = line
}

// SaveState writes the state atomically next to its final location.
func SaveState(path string, st *State) error {
	st.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".ingest-state-*")
	if err != nil {
		return fmt.Errorf("write checkpoint state: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint state: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace checkpoint state: %w", err)
	}
	return nil
}
