package store

import (
	"errors"
	"strconv"

	"github.com/dotcommander/codexmem/internal/models"
)

// RecoverableError is an alias for models.RecoverableError, retained so store
// callers can type-assert without importing models.
type RecoverableError = models.RecoverableError

// ErrQueueFull is the sentinel behind QueueFullError; errors.Is-compatible.
var ErrQueueFull = errors.New("pending queue is full for session")

// ErrNotFound is returned when a record lookup matches nothing.
var ErrNotFound = errors.New("record not found")

// ErrMemorySessionAssigned is returned when a second assignment is attempted
// for a session's memory_session_id. The id is write-once.
var ErrMemorySessionAssigned = errors.New("memory session id already assigned")

// QueueFullError reports an over-cap enqueue. The caller sees the rejection;
// nothing is dropped silently.
type QueueFullError struct {
	SessionDBID int64
	Cap         int
	Pending     int
}

func (e *QueueFullError) Error() string     { return "pending queue is full for session" }
func (e *QueueFullError) ErrorCode() string { return "QUEUE_FULL" }
func (e *QueueFullError) Context() map[string]string {
	return map[string]string{
		"session_db_id": strconv.FormatInt(e.SessionDBID, 10),
		"cap":           strconv.Itoa(e.Cap),
		"pending":       strconv.Itoa(e.Pending),
	}
}
func (e *QueueFullError) SuggestedAction() string {
	return "wait for the session's agent to drain its queue, then retry"
}
func (e *QueueFullError) Is(target error) bool { return target == ErrQueueFull }

// SessionNotFoundError reports a lookup for an unknown session.
type SessionNotFoundError struct {
	ContentSessionID string
}

func (e *SessionNotFoundError) Error() string     { return "session not found" }
func (e *SessionNotFoundError) ErrorCode() string { return "SESSION_NOT_FOUND" }
func (e *SessionNotFoundError) Context() map[string]string {
	return map[string]string{"content_session_id": e.ContentSessionID}
}
func (e *SessionNotFoundError) SuggestedAction() string {
	return "initialise the session first via POST /sessions/init"
}
func (e *SessionNotFoundError) Is(target error) bool { return target == ErrNotFound }
