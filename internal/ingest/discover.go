package ingest

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Discovery summarises a scan of the codex sessions tree.
type Discovery struct {
	Projects         []string `json:"projects"`
	ScannedFiles     int      `json:"scannedFiles"`
	ScannedAtEpochMs int64    `json:"scannedAtEpochMs"`
}

// DefaultSessionsRoot is where the codex CLI writes per-session rollout
// transcripts (~/.codex/sessions/YYYY/MM/DD/rollout-*.jsonl).
func DefaultSessionsRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".codex", "sessions")
}

// DefaultHistoryPath is the codex CLI's legacy flat history file.
func DefaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".codex", "history.jsonl")
}

// DiscoverProjects scans every transcript under root and returns the sorted
// set of project names (working-directory basenames) that have at least one
// user message. The viewer diffs this against ingested projects to show
// history that never reached the store.
func DiscoverProjects(root string) (*Discovery, error) {
	disc := &Discovery{
		Projects:         []string{},
		ScannedAtEpochMs: time.Now().UnixMilli(),
	}
	if root == "" {
		return disc, nil
	}

	seen := make(map[string]bool)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}
		disc.ScannedFiles++

		contents, err := os.ReadFile(path)
		if err != nil {
			// Unreadable files should not abort the whole scan.
			return nil
		}
		for _, r := range ParseTranscript(path, contents).Records {
			if r.Kind == RecordUser && r.Cwd != "" {
				seen[filepath.Base(r.Cwd)] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for name := range seen {
		disc.Projects = append(disc.Projects, name)
	}
	sort.Strings(disc.Projects)
	return disc, nil
}
