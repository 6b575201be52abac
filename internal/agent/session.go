package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/dotcommander/codexmem/internal/models"
	"github.com/dotcommander/codexmem/internal/store"
	"github.com/dotcommander/codexmem/internal/vector"
)

// Role labels a conversation turn.
type Role string

// Conversation roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the session's conversation history.
type Turn struct {
	Role Role
	Text string
}

// Usage is the token accounting for one provider call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Total returns combined input and output tokens.
func (u Usage) Total() int64 { return u.InputTokens + u.OutputTokens }

// ChatFunc sends the full history to a provider and returns the assistant
// reply. Providers adapt their transport behind this signature.
type ChatFunc func(ctx context.Context, history []Turn) (string, Usage, error)

// Session drives distillation for one stored session: it claims pending
// messages, turns them into prompts, and persists what the provider returns.
// The conversation history lives here, not in the provider, so a fallback
// provider continues the same conversation instead of starting over.
type Session struct {
	db        *sql.DB
	rec       *models.Session
	mode      *Mode
	vectors   *vector.Writer
	broadcast func(models.BroadcastEvent)

	history []Turn
	// replay holds claimed-but-unstored messages. A claim deletes the row,
	// so this slice is the only remaining copy until the store commits.
	replay      []*models.PendingMessage
	oldestEpoch int64
	processed   int
}

// NewSession wraps a stored session row for processing. broadcast and
// vectors may be nil.
func NewSession(db *sql.DB, rec *models.Session, mode *Mode, vectors *vector.Writer, broadcast func(models.BroadcastEvent)) *Session {
	return &Session{db: db, rec: rec, mode: mode, vectors: vectors, broadcast: broadcast}
}

// Record returns the underlying session row.
func (s *Session) Record() *models.Session { return s.rec }

// Processed returns how many messages this session has stored so far.
func (s *Session) Processed() int { return s.processed }

// EnsureMemorySessionID mints and persists the memory session id if absent.
// The column is write-once; losing the race to another writer is fine, the
// winner's id is reloaded.
func (s *Session) EnsureMemorySessionID() error {
	if s.rec.MemorySessionID != "" {
		return nil
	}
	id := uuid.NewString()
	err := store.AssignMemorySessionID(s.db, s.rec.ID, id)
	if errors.Is(err, store.ErrMemorySessionAssigned) {
		fresh, ferr := store.GetSessionByDBID(s.db, s.rec.ID)
		if ferr != nil {
			return ferr
		}
		s.rec = fresh
		return nil
	}
	if err != nil {
		return err
	}
	s.rec.MemorySessionID = id
	return nil
}

// Run drains the session's pending queue through chat until a claim comes
// back empty. On provider failure the current message stays at the head of
// the replay backlog and the error is returned, so a fallback provider can
// pick up exactly where this one stopped.
func (s *Session) Run(ctx context.Context, provider string, chat ChatFunc) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := s.nextMessage()
		if err != nil {
			return fmt.Errorf("claim pending message: %w", err)
		}
		if msg == nil {
			return nil
		}
		if err := s.processMessage(ctx, provider, chat, msg); err != nil {
			return err
		}
	}
}

func (s *Session) nextMessage() (*models.PendingMessage, error) {
	if len(s.replay) > 0 {
		return s.replay[0], nil
	}
	msg, err := store.ClaimPendingMessage(s.db, s.rec.ID)
	if err != nil || msg == nil {
		return msg, err
	}
	s.replay = append(s.replay, msg)
	if s.oldestEpoch == 0 || msg.CreatedAtEpoch < s.oldestEpoch {
		s.oldestEpoch = msg.CreatedAtEpoch
	}
	return msg, nil
}

func (s *Session) dropHead() {
	if len(s.replay) > 0 {
		s.replay = s.replay[1:]
	}
}

func (s *Session) processMessage(ctx context.Context, provider string, chat ChatFunc, msg *models.PendingMessage) error {
	prompt, payload, err := s.promptFor(msg)
	if err != nil {
		slog.Warn("dropping undecodable pending message",
			"message_id", msg.ID, "session", s.rec.ContentSessionID, "error", err)
		s.dropHead()
		return nil
	}

	firstTurn := len(s.history) == 0
	if firstTurn {
		prompt = InitPrompt(s.mode, s.rec) + "\n\n" + prompt
	}

	s.history = append(s.history, Turn{Role: RoleUser, Text: prompt})
	reply, usage, err := chat(ctx, s.history)
	if err != nil {
		// Pop the unanswered turn; the fallback will re-send it.
		s.history = s.history[:len(s.history)-1]
		return err
	}
	if strings.TrimSpace(reply) == "" && firstTurn {
		s.history = s.history[:len(s.history)-1]
		return EmptyResponse(provider)
	}
	s.history = append(s.history, Turn{Role: RoleAssistant, Text: reply})

	observations, summary := s.distill(msg, payload, reply, usage)

	result, err := store.StoreObservations(s.db, s.rec.ID, s.rec.MemorySessionID, s.rec.Project,
		observations, summary, s.oldestEpoch)
	if err != nil {
		slog.Error("dropping claimed message after store failure",
			"message_id", msg.ID, "session", s.rec.ContentSessionID, "error", err)
		s.dropHead()
		s.oldestEpoch = 0
		return fmt.Errorf("store distilled records: %w", err)
	}

	s.dropHead()
	s.oldestEpoch = 0
	s.processed++
	s.syncVectors(result, observations, summary)

	if msg.MessageType == models.MessageTypeSummarize {
		s.emit(models.BroadcastEvent{
			Type:             models.EventSessionCompleted,
			ContentSessionID: s.rec.ContentSessionID,
			Project:          s.rec.Project,
		})
	}

	slog.Debug("pending message processed",
		"session", s.rec.ContentSessionID,
		"type", msg.MessageType,
		"observations", len(observations),
		"summary", summary != nil,
		"tokens", usage.Total())
	return nil
}

// distill converts a parsed reply into records to persist. Observation turns
// that parse empty keep the raw payload as a synthetic record; summarize
// turns without a summary block synthesize one from the response text.
func (s *Session) distill(msg *models.PendingMessage, payload *models.ObservationPayload, reply string, usage Usage) ([]models.ParsedObservation, *models.ParsedSummary) {
	parsed := ParseResponse(reply)
	observations := parsed.Observations
	summary := parsed.Summary

	switch msg.MessageType {
	case models.MessageTypeObservation:
		if len(observations) == 0 {
			observations = []models.ParsedObservation{SyntheticObservation(*payload)}
		}
		for i := range observations {
			if observations[i].PromptNumber == 0 {
				observations[i].PromptNumber = payload.PromptNumber
			}
			if observations[i].Cwd == "" {
				observations[i].Cwd = payload.Cwd
			}
		}
	case models.MessageTypeSummarize:
		if summary == nil {
			summary = FallbackSummary(s.rec.InitialPrompt, reply)
		}
		var sp models.SummarizePayload
		if err := msg.DecodePayload(&sp); err == nil {
			summary.LastAssistantMessage = sp.LastAssistantMessage
		}
	}

	total := usage.Total()
	for i := range observations {
		observations[i].TokensUsed = total
	}
	if summary != nil {
		summary.TokensUsed = total
	}
	return observations, summary
}

func (s *Session) promptFor(msg *models.PendingMessage) (string, *models.ObservationPayload, error) {
	switch msg.MessageType {
	case models.MessageTypeSummarize:
		var p models.SummarizePayload
		if err := msg.DecodePayload(&p); err != nil {
			return "", nil, err
		}
		return SummarizePrompt(p), nil, nil
	default:
		var p models.ObservationPayload
		if err := msg.DecodePayload(&p); err != nil {
			return "", nil, err
		}
		return ObservationPrompt(p), &p, nil
	}
}

func (s *Session) syncVectors(result *store.StoreResult, observations []models.ParsedObservation, summary *models.ParsedSummary) {
	if s.vectors == nil {
		return
	}
	for i, obs := range observations {
		if i >= len(result.ObservationIDs) {
			break
		}
		s.vectors.ObservationStored(models.Observation{
			ID:             result.ObservationIDs[i],
			SessionDBID:    s.rec.ID,
			Project:        s.rec.Project,
			Type:           obs.Type,
			Title:          obs.Title,
			Subtitle:       obs.Subtitle,
			Narrative:      obs.Narrative,
			Facts:          obs.Facts,
			CreatedAtEpoch: result.CreatedAtEpoch,
		})
	}
	if summary != nil && result.SummaryID > 0 {
		s.vectors.SummaryStored(models.Summary{
			ID:             result.SummaryID,
			SessionDBID:    s.rec.ID,
			Project:        s.rec.Project,
			Request:        summary.Request,
			Investigated:   summary.Investigated,
			Learned:        summary.Learned,
			Completed:      summary.Completed,
			NextSteps:      summary.NextSteps,
			Notes:          summary.Notes,
			CreatedAtEpoch: result.CreatedAtEpoch,
		})
	}
}

func (s *Session) emit(ev models.BroadcastEvent) {
	if s.broadcast != nil {
		s.broadcast(ev)
	}
}
