package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dotcommander/codexmem/internal/models"
)

// historyToolName labels replayed transcript records so distilled
// observations can be told apart from live hook traffic.
const historyToolName = "CodexHistoryEntry"

// Options configures one ingestion run.
type Options struct {
	Paths         []string // transcript files; empty means the codex defaults
	Workspace     string   // project root for records without a cwd
	SinceTs       int64    // epoch ms; older records are skipped
	Limit         int      // global record cap across all files, 0 = unlimited
	IncludeSystem bool
	SkipSummaries bool
	StatePath     string // checkpoint file location
}

// Report totals one run for the CLI to print.
type Report struct {
	Files        int
	Records      int
	Sessions     int
	Summaries    int
	Malformed    int
	SkippedFiles int
}

// Engine replays transcripts against a running worker.
type Engine struct {
	client *Client
	opts   Options
}

func NewEngine(client *Client, opts Options) *Engine {
	return &Engine{client: client, opts: opts}
}

// Wire shapes for the worker's session endpoints.
type initRequest struct {
	ContentSessionID string `json:"contentSessionId"`
	Project          string `json:"project"`
	Prompt           string `json:"prompt"`
	Platform         string `json:"platform"`
}

type initResponse struct {
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason"`
}

type obsRequest struct {
	ContentSessionID string          `json:"contentSessionId"`
	ToolName         string          `json:"tool_name"`
	ToolInput        json.RawMessage `json:"tool_input"`
	ToolResponse     json.RawMessage `json:"tool_response"`
	Cwd              string          `json:"cwd"`
	TimestampEpoch   int64           `json:"timestamp_epoch"`
}

type sumRequest struct {
	ContentSessionID     string `json:"contentSessionId"`
	LastAssistantMessage string `json:"last_assistant_message"`
}

// Run processes every source file in mtime order, posting records the
// checkpoints have not seen. The first hard failure stops the run with
// checkpoints already persisted through the last successful record, so a
// re-run resumes without re-posting.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	report := &Report{}
	if e.opts.StatePath == "" {
		return report, fmt.Errorf("ingest: checkpoint path not configured")
	}

	files, err := e.sources()
	if err != nil {
		return report, err
	}
	if len(files) == 0 {
		slog.Info("ingest: no transcript files found")
		return report, nil
	}

	state, err := LoadState(e.opts.StatePath)
	if err != nil {
		return report, err
	}

	remaining := e.opts.Limit
	initedSessions := make(map[string]bool)
	skippedSessions := make(map[string]bool)

	for _, path := range files {
		if e.opts.Limit > 0 && remaining <= 0 {
			break
		}

		contents, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("ingest: unreadable transcript skipped", "path", path, "error", err)
			report.SkippedFiles++
			continue
		}

		t := ParseTranscript(path, contents)
		report.Malformed += t.Malformed

		selected := SelectRecords(t.Records, SelectOptions{
			SinceTs:       e.opts.SinceTs,
			AfterLine:     state.Checkpoint(path),
			Limit:         remaining,
			IncludeSystem: e.opts.IncludeSystem,
		})
		if len(selected) == 0 {
			continue
		}
		report.Files++

		if err := e.processFile(ctx, path, selected, state, initedSessions, skippedSessions, report); err != nil {
			if saveErr := SaveState(e.opts.StatePath, state); saveErr != nil {
				slog.Error("ingest: checkpoint save failed after error", "error", saveErr)
			}
			return report, fmt.Errorf("ingest %s: %w", path, err)
		}
		if err := SaveState(e.opts.StatePath, state); err != nil {
			return report, err
		}
		if e.opts.Limit > 0 {
			remaining -= len(selected)
		}
	}

	slog.Info("ingest run complete",
		"files", report.Files, "records", report.Records,
		"sessions", report.Sessions, "summaries", report.Summaries,
		"malformed", report.Malformed)
	return report, nil
}

// processFile posts one file's selected records in line order: lazy init on
// a session's first record, one observation per record, then one summarize
// per session unless disabled. Sessions the worker declines (wholly private
// prompts) are skipped for the rest of the run but still advance the
// checkpoint.
func (e *Engine) processFile(ctx context.Context, path string, selected []Record, state *State, inited, skipped map[string]bool, report *Report) error {
	firstUserText := make(map[string]string)
	for _, r := range selected {
		if r.Kind == RecordUser {
			if _, ok := firstUserText[r.SessionID]; !ok {
				firstUserText[r.SessionID] = r.Text
			}
		}
	}

	var sessionOrder []string
	bySession := make(map[string][]Record)

	for _, r := range selected {
		csid := "codex-" + r.SessionID

		if !inited[csid] && !skipped[csid] {
			var resp initResponse
			err := e.client.PostJSON(ctx, "/sessions/init", initRequest{
				ContentSessionID: csid,
				Project:          e.projectName(r),
				Prompt:           firstUserText[r.SessionID],
				Platform:         string(models.PlatformTranscript),
			}, &resp)
			if err != nil {
				return fmt.Errorf("init session %s: %w", csid, err)
			}
			if resp.Skipped {
				slog.Info("ingest: session declined by worker", "session", csid, "reason", resp.Reason)
				skipped[csid] = true
			} else {
				inited[csid] = true
				report.Sessions++
			}
		}
		if skipped[csid] {
			state.Advance(path, r.LineNumber)
			continue
		}

		toolInput, _ := json.Marshal(map[string]any{"path": path, "line": r.LineNumber})
		toolResponse, _ := json.Marshal(map[string]string{"text": r.Text})
		err := e.client.PostJSON(ctx, "/sessions/observations", obsRequest{
			ContentSessionID: csid,
			ToolName:         historyToolName,
			ToolInput:        toolInput,
			ToolResponse:     toolResponse,
			Cwd:              r.Cwd,
			TimestampEpoch:   r.Timestamp,
		}, nil)
		if err != nil {
			return fmt.Errorf("post record line %d: %w", r.LineNumber, err)
		}

		state.Advance(path, r.LineNumber)
		report.Records++
		if _, ok := bySession[csid]; !ok {
			sessionOrder = append(sessionOrder, csid)
		}
		bySession[csid] = append(bySession[csid], r)
	}

	if e.opts.SkipSummaries {
		return nil
	}
	for _, csid := range sessionOrder {
		err := e.client.PostJSON(ctx, "/sessions/summarize", sumRequest{
			ContentSessionID:     csid,
			LastAssistantMessage: LastAssistantAnswer(bySession[csid]),
		}, nil)
		if err != nil {
			return fmt.Errorf("summarize session %s: %w", csid, err)
		}
		report.Summaries++
	}
	return nil
}

// projectName resolves the project for a record: its recorded working
// directory, then the --workspace fallback, then a stable placeholder.
func (e *Engine) projectName(r Record) string {
	ws := r.Cwd
	if ws == "" {
		ws = e.opts.Workspace
	}
	if ws == "" {
		return "unknown"
	}
	return filepath.Base(ws)
}

// sources resolves the transcript files for this run: explicit paths when
// given, otherwise the codex history file plus every session rollout.
// Results come back in mtime-ascending order.
func (e *Engine) sources() ([]string, error) {
	paths := e.opts.Paths
	if len(paths) == 0 {
		if p := DefaultHistoryPath(); p != "" {
			if _, err := os.Stat(p); err == nil {
				paths = append(paths, p)
			}
		}
		root := DefaultSessionsRoot()
		if root != "" {
			_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if !d.IsDir() && strings.HasSuffix(d.Name(), ".jsonl") {
					paths = append(paths, path)
				}
				return nil
			})
		}
	}

	type sourceFile struct {
		path  string
		mtime int64
	}
	files := make([]sourceFile, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			if len(e.opts.Paths) > 0 {
				return nil, fmt.Errorf("transcript %s: %w", p, err)
			}
			continue
		}
		files = append(files, sourceFile{path: p, mtime: info.ModTime().UnixNano()})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].mtime != files[j].mtime {
			return files[i].mtime < files[j].mtime
		}
		return files[i].path < files[j].path
	})

	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}
