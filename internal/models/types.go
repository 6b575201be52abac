package models

import (
	"encoding/json"
	"strings"
)

// ID Strategy:
// - Sessions, prompts, observations, summaries, and pending messages use int64
//   auto-increment IDs (append-mostly tables, monotonic ordering matters for
//   queue claims and timeline windows).
// - content_session_id and memory_session_id are opaque strings owned by the
//   upstream tool and the LLM conversation respectively; they are never minted
//   from row IDs.

// Platform identifies which upstream surface produced a session.
type Platform string

// Platform constants.
const (
	PlatformHostedAgent Platform = "hosted-agent"
	PlatformTranscript  Platform = "transcript"
	PlatformCursor      Platform = "cursor"
	PlatformClaudeCode  Platform = "claude-code"
)

// Valid reports whether p is a recognised platform tag.
func (p Platform) Valid() bool {
	switch p {
	case PlatformHostedAgent, PlatformTranscript, PlatformCursor, PlatformClaudeCode:
		return true
	}
	return false
}

// MessageType is the kind of a queued pending message.
type MessageType string

// Message type constants. Summarize outranks observation: a pending summary
// closes out a turn and must be produced before any newer tool observations.
const (
	MessageTypeSummarize   MessageType = "summarize"
	MessageTypeObservation MessageType = "observation"
)

// Priority returns the claim priority for the message type (lower claims first).
func (m MessageType) Priority() int {
	if m == MessageTypeSummarize {
		return 0
	}
	return 1
}

// Valid reports whether m is a recognised message type.
func (m MessageType) Valid() bool {
	return m == MessageTypeSummarize || m == MessageTypeObservation
}

// ObservationType classifies what an observation records.
type ObservationType string

// Observation type constants.
const (
	ObservationDiscovery ObservationType = "discovery"
	ObservationBugfix    ObservationType = "bugfix"
	ObservationFeature   ObservationType = "feature"
	ObservationRefactor  ObservationType = "refactor"
	ObservationDecision  ObservationType = "decision"
	ObservationChange    ObservationType = "change"
)

// AllObservationTypes lists every recognised observation type.
func AllObservationTypes() []ObservationType {
	return []ObservationType{
		ObservationDiscovery, ObservationBugfix, ObservationFeature,
		ObservationRefactor, ObservationDecision, ObservationChange,
	}
}

// Valid reports whether t is a recognised observation type.
func (t ObservationType) Valid() bool {
	switch t {
	case ObservationDiscovery, ObservationBugfix, ObservationFeature,
		ObservationRefactor, ObservationDecision, ObservationChange:
		return true
	}
	return false
}

// Session is one coherent interaction with an upstream coding agent.
type Session struct {
	ID               int64    `json:"id"`
	ContentSessionID string   `json:"content_session_id"`
	MemorySessionID  string   `json:"memory_session_id,omitempty"`
	Project          string   `json:"project"`
	Platform         Platform `json:"platform"`
	InitialPrompt    string   `json:"initial_prompt,omitempty"`
	CreatedAtEpoch   int64    `json:"created_at_epoch"`
	UpdatedAtEpoch   int64    `json:"updated_at_epoch"`
}

// UserPrompt is one user prompt within a session, numbered monotonically.
type UserPrompt struct {
	ID               int64  `json:"id"`
	ContentSessionID string `json:"content_session_id"`
	PromptNumber     int    `json:"prompt_number"`
	PromptText       string `json:"prompt_text"`
	CreatedAtEpoch   int64  `json:"created_at_epoch"`
}

// PendingMessage is queued work for a session's agent. Rows are claim-and-delete:
// a claim removes the row in the same statement, there is no in-progress state.
type PendingMessage struct {
	ID               int64           `json:"id"`
	SessionDBID      int64           `json:"session_db_id"`
	ContentSessionID string          `json:"content_session_id"`
	MessageType      MessageType     `json:"message_type"`
	Priority         int             `json:"priority"`
	Payload          json.RawMessage `json:"payload"`
	CreatedAtEpoch   int64           `json:"created_at_epoch"`
}

// DecodePayload unmarshals the message payload into dst, which should be an
// *ObservationPayload or *SummarizePayload matching the message type.
func (m *PendingMessage) DecodePayload(dst any) error {
	return json.Unmarshal(m.Payload, dst)
}

// ObservationPayload is the payload of an observation pending message.
type ObservationPayload struct {
	ToolName     string          `json:"tool_name"`
	ToolInput    json.RawMessage `json:"tool_input,omitempty"`
	ToolResponse json.RawMessage `json:"tool_response,omitempty"`
	Cwd          string          `json:"cwd,omitempty"`
	PromptNumber int             `json:"prompt_number,omitempty"`
	// TimestampEpoch carries the original event time so derived records keep
	// transcript chronology even when processing lags.
	TimestampEpoch int64 `json:"timestamp_epoch,omitempty"`
	SourcePath     string `json:"source_path,omitempty"`
	SourceLine     int    `json:"source_line,omitempty"`
}

// SummarizePayload is the payload of a summarize pending message.
type SummarizePayload struct {
	LastAssistantMessage string `json:"last_assistant_message"`
}

// Observation is a structured record distilled from a single tool-use event.
type Observation struct {
	ID              int64           `json:"id"`
	SessionDBID     int64           `json:"session_db_id"`
	MemorySessionID string          `json:"memory_session_id,omitempty"`
	Project         string          `json:"project"`
	Type            ObservationType `json:"type"`
	Title           string          `json:"title"`
	Subtitle        string          `json:"subtitle,omitempty"`
	Narrative       string          `json:"narrative,omitempty"`
	Facts           []string        `json:"facts,omitempty"`
	Concepts        []string        `json:"concepts,omitempty"`
	FilesRead       []string        `json:"files_read,omitempty"`
	FilesModified   []string        `json:"files_modified,omitempty"`
	PromptNumber    int             `json:"prompt_number,omitempty"`
	TokensUsed      int64           `json:"tokens_used,omitempty"`
	Cwd             string          `json:"cwd,omitempty"`
	CreatedAtEpoch  int64           `json:"created_at_epoch"`
}

// Summary is the per-session end-of-turn record. One row per session,
// replaced on each summarize (the row id stays stable across replacements).
type Summary struct {
	ID              int64  `json:"id"`
	SessionDBID     int64  `json:"session_db_id"`
	MemorySessionID string `json:"memory_session_id,omitempty"`
	Project         string `json:"project"`
	Request         string `json:"request,omitempty"`
	Investigated    string `json:"investigated,omitempty"`
	Learned         string `json:"learned,omitempty"`
	Completed       string `json:"completed,omitempty"`
	NextSteps       string `json:"next_steps,omitempty"`
	Notes           string `json:"notes,omitempty"`
	// LastAssistantMessage is the closing assistant reply captured at
	// summarize time, kept for context injection into later sessions.
	LastAssistantMessage string `json:"last_assistant_message,omitempty"`
	TokensUsed           int64  `json:"tokens_used,omitempty"`
	CreatedAtEpoch       int64  `json:"created_at_epoch"`
}

// ParsedObservation is an observation as extracted from an LLM response,
// before persistence assigns IDs and timestamps.
type ParsedObservation struct {
	Type          ObservationType `json:"type"`
	Title         string          `json:"title"`
	Subtitle      string          `json:"subtitle,omitempty"`
	Narrative     string          `json:"narrative,omitempty"`
	Facts         []string        `json:"facts,omitempty"`
	Concepts      []string        `json:"concepts,omitempty"`
	FilesRead     []string        `json:"files_read,omitempty"`
	FilesModified []string        `json:"files_modified,omitempty"`
	PromptNumber  int             `json:"prompt_number,omitempty"`
	TokensUsed    int64           `json:"tokens_used,omitempty"`
	Cwd           string          `json:"cwd,omitempty"`
}

// IsEmpty reports whether the block carried nothing usable.
func (p ParsedObservation) IsEmpty() bool {
	return strings.TrimSpace(p.Title) == "" &&
		strings.TrimSpace(p.Narrative) == "" &&
		strings.TrimSpace(p.Subtitle) == ""
}

// ParsedSummary is a summary as extracted from an LLM response.
type ParsedSummary struct {
	Request      string `json:"request,omitempty"`
	Investigated string `json:"investigated,omitempty"`
	Learned      string `json:"learned,omitempty"`
	Completed    string `json:"completed,omitempty"`
	NextSteps    string `json:"next_steps,omitempty"`
	Notes        string `json:"notes,omitempty"`
	// LastAssistantMessage rides along from the summarize payload; it is
	// stored, not model-generated.
	LastAssistantMessage string `json:"last_assistant_message,omitempty"`
	TokensUsed           int64  `json:"tokens_used,omitempty"`
}

// VectorKind names a vector collection.
type VectorKind string

// Vector collection kinds.
const (
	VectorKindObservation VectorKind = "observation"
	VectorKindSummary     VectorKind = "summary"
	VectorKindPrompt      VectorKind = "prompt"
)
