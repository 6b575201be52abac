// Package ingest replays codex CLI transcripts into the worker. It parses
// the two on-disk JSONL formats (the legacy flat history file and the
// per-session rollout files), selects records past the stored checkpoints,
// and posts them through the worker's HTTP surface.
package ingest

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// RecordKind tells user turns apart from assistant output.
type RecordKind string

const (
	RecordUser      RecordKind = "user"
	RecordAssistant RecordKind = "assistant"
)

// PhaseFinalAnswer marks a response_item that carries the assistant's final
// answer rather than running commentary.
const PhaseFinalAnswer = "final_answer"

// Record is one ingestible transcript entry, normalised across formats.
type Record struct {
	Kind       RecordKind
	SessionID  string
	Cwd        string
	Text       string
	Phase      string // response_item phase; empty for event_msg and legacy records
	Timestamp  int64  // epoch milliseconds
	LineNumber int    // 1-based line in the source file
}

// Transcript is the parse result for one file. Records keep line order;
// Malformed counts lines that were not valid JSON objects.
type Transcript struct {
	Path      string
	Records   []Record
	Malformed int
	Lines     int
}

// transcriptLine is the decoded envelope for one JSONL line. The legacy flat
// format and the structured rollout format share it; which fields are set
// tells them apart.
type transcriptLine struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`

	// legacy flat history.jsonl fields
	SessionID string  `json:"session_id"`
	Ts        float64 `json:"ts"`
	Text      string  `json:"text"`
}

type sessionMetaPayload struct {
	ID  string `json:"id"`
	Cwd string `json:"cwd"`
}

type eventMsgPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type responseItemPayload struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Phase   string `json:"phase"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// ParseTranscript decodes one transcript file's contents. Malformed lines
// are counted and skipped; well-formed lines of uninteresting types (token
// counts, tool events) are silently ignored. session_meta lines set the
// session id and working directory for every following record in the file.
func ParseTranscript(path string, contents []byte) *Transcript {
	t := &Transcript{Path: path}

	var sessionID, cwd string
	for i, raw := range strings.Split(string(contents), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		t.Lines++

		var env transcriptLine
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			t.Malformed++
			continue
		}

		switch env.Type {
		case "session_meta":
			var meta sessionMetaPayload
			if err := json.Unmarshal(env.Payload, &meta); err != nil {
				t.Malformed++
				continue
			}
			if meta.ID != "" {
				sessionID = meta.ID
			}
			if meta.Cwd != "" {
				cwd = meta.Cwd
			}

		case "event_msg":
			var msg eventMsgPayload
			if err := json.Unmarshal(env.Payload, &msg); err != nil {
				t.Malformed++
				continue
			}
			kind := RecordKind("")
			switch msg.Type {
			case "user_message":
				kind = RecordUser
			case "agent_message":
				kind = RecordAssistant
			default:
				continue
			}
			t.Records = append(t.Records, Record{
				Kind:       kind,
				SessionID:  sessionID,
				Cwd:        cwd,
				Text:       msg.Message,
				Timestamp:  parseRFC3339Millis(env.Timestamp),
				LineNumber: i + 1,
			})

		case "response_item":
			var item responseItemPayload
			if err := json.Unmarshal(env.Payload, &item); err != nil {
				t.Malformed++
				continue
			}
			if item.Type != "message" || item.Role != "assistant" {
				continue
			}
			var parts []string
			for _, c := range item.Content {
				if c.Text != "" {
					parts = append(parts, c.Text)
				}
			}
			if len(parts) == 0 {
				continue
			}
			t.Records = append(t.Records, Record{
				Kind:       RecordAssistant,
				SessionID:  sessionID,
				Cwd:        cwd,
				Text:       strings.Join(parts, "\n"),
				Phase:      item.Phase,
				Timestamp:  parseRFC3339Millis(env.Timestamp),
				LineNumber: i + 1,
			})

		case "":
			// Legacy flat record: {session_id, ts, text}.
			if env.SessionID == "" || env.Text == "" {
				t.Malformed++
				continue
			}
			t.Records = append(t.Records, Record{
				Kind:       RecordUser,
				SessionID:  env.SessionID,
				Text:       env.Text,
				Timestamp:  normalizeEpochMillis(env.Ts),
				LineNumber: i + 1,
			})

		default:
			// Known envelope, irrelevant type.
		}
	}
	return t
}

// SelectOptions filters a parsed transcript down to the records worth
// posting. AfterLine is the per-file checkpoint; only strictly greater line
// numbers pass. Limit of 0 means unlimited.
type SelectOptions struct {
	SinceTs       int64
	AfterLine     int
	Limit         int
	IncludeSystem bool
}

// SelectRecords applies the ingestion filters in checkpoint, time, system,
// order, limit sequence. The result is deterministic for a given input, and
// a smaller Limit yields a prefix of a larger one.
func SelectRecords(records []Record, opts SelectOptions) []Record {
	selected := make([]Record, 0, len(records))
	for _, r := range records {
		if r.LineNumber <= opts.AfterLine {
			continue
		}
		if opts.SinceTs > 0 && r.Timestamp < opts.SinceTs {
			continue
		}
		if strings.TrimSpace(r.Text) == "" {
			continue
		}
		if !opts.IncludeSystem && isSystemText(r.Text) {
			continue
		}
		selected = append(selected, r)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].LineNumber < selected[j].LineNumber
	})
	if opts.Limit > 0 && len(selected) > opts.Limit {
		selected = selected[:opts.Limit]
	}
	return selected
}

// LastAssistantAnswer picks the text for a session's summarize request:
// the latest final-answer response_item wins, then the latest assistant
// commentary, then the latest user text.
func LastAssistantAnswer(records []Record) string {
	var finalAnswer, commentary, user string
	for _, r := range records {
		switch {
		case r.Kind == RecordAssistant && r.Phase == PhaseFinalAnswer:
			finalAnswer = r.Text
		case r.Kind == RecordAssistant:
			commentary = r.Text
		case r.Kind == RecordUser:
			user = r.Text
		}
	}
	if finalAnswer != "" {
		return finalAnswer
	}
	if commentary != "" {
		return commentary
	}
	return user
}

// isSystemText recognises CLI status noise that should not become memory:
// warning glyphs, experimental-feature banners, and MCP timeout chatter.
func isSystemText(text string) bool {
	t := strings.TrimSpace(text)
	if strings.HasPrefix(t, "⚠") || strings.HasPrefix(t, "[experimental]") {
		return true
	}
	lower := strings.ToLower(t)
	return strings.Contains(lower, "mcp client") && strings.Contains(lower, "timed out")
}

func parseRFC3339Millis(raw string) int64 {
	if raw == "" {
		return 0
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return 0
	}
	return ts.UnixMilli()
}

// normalizeEpochMillis maps the legacy history file's seconds-resolution ts
// onto milliseconds. Values already in milliseconds pass through.
func normalizeEpochMillis(ts float64) int64 {
	if ts <= 0 {
		return 0
	}
	if ts < 1e12 {
		return int64(ts * 1000)
	}
	return int64(ts)
}
