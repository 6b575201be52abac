package models

// SSE event types broadcast by the worker. The viewer and the host tool's
// status line both key off these strings; renaming one is a wire change.
const (
	EventNewPrompt         = "new_prompt"
	EventSessionStarted    = "session_started"
	EventObservationQueued = "observation_queued"
	EventSummarizeQueued   = "summarize_queued"
	EventSessionCompleted  = "session_completed"
	EventProcessingStatus  = "processing_status"
)

// BroadcastEvent is one SSE payload. Type is always set; the remaining fields
// are event-specific and omitted when empty.
type BroadcastEvent struct {
	Type             string `json:"type"`
	ContentSessionID string `json:"content_session_id,omitempty"`
	Project          string `json:"project,omitempty"`
	PromptNumber     int    `json:"prompt_number,omitempty"`
	QueueDepth       int    `json:"queue_depth,omitempty"`

	// processing_status fields.
	OldestPendingAgeMs int64    `json:"oldestPendingAgeMs,omitempty"`
	ActiveProviders    []string `json:"activeProviders,omitempty"`
	ActiveSessions     int      `json:"activeSessions,omitempty"`
	TotalPending       int      `json:"totalPending,omitempty"`
}
