package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/codexmem/internal/models"
	"github.com/dotcommander/codexmem/internal/store"
)

func newSessionFixture(t *testing.T) (*sql.DB, *models.Session) {
	t.Helper()
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sess, created, err := store.CreateOrGetSession(db, "codex-sess-1", "widget-factory", "add retry logic to the uploader", models.PlatformHostedAgent)
	require.NoError(t, err)
	require.True(t, created)
	return db, sess
}

func enqueueObservation(t *testing.T, db *sql.DB, sess *models.Session, toolName string, promptNumber int) *models.PendingMessage {
	t.Helper()
	msg, err := store.EnqueuePendingMessage(db, sess.ID, sess.ContentSessionID, models.MessageTypeObservation, models.ObservationPayload{
		ToolName:     toolName,
		ToolInput:    json.RawMessage(`{"file_path":"uploader.go"}`),
		ToolResponse: json.RawMessage(`{"ok":true}`),
		Cwd:          "/home/dev/widget-factory",
		PromptNumber: promptNumber,
	}, 0)
	require.NoError(t, err)
	return msg
}

const observationReply = `<observation>
  <type>bugfix</type>
  <title>Uploader retried on permanent errors</title>
  <narrative>The retry loop treated 4xx responses as transient and hammered the endpoint.</narrative>
  <facts>
    <fact>4xx responses are now terminal</fact>
  </facts>
  <concepts>
    <concept>error-handling</concept>
  </concepts>
  <files_modified>
    <file>uploader.go</file>
  </files_modified>
</observation>`

func staticChat(reply string) ChatFunc {
	return func(ctx context.Context, history []Turn) (string, Usage, error) {
		return reply, Usage{InputTokens: 70, OutputTokens: 30}, nil
	}
}

func TestSessionRunStoresObservation(t *testing.T) {
	db, rec := newSessionFixture(t)
	msg := enqueueObservation(t, db, rec, "Edit", 2)

	s := NewSession(db, rec, FallbackMode(), nil, nil)
	require.NoError(t, s.EnsureMemorySessionID())
	require.NoError(t, s.Run(context.Background(), "test", staticChat(observationReply)))
	assert.Equal(t, 1, s.Processed())

	pending, err := store.CountPendingMessages(db, rec.ID)
	require.NoError(t, err)
	assert.Zero(t, pending)

	rows, _, err := store.GetObservationsPage(db, store.Filter{}, "", 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	obs := rows[0]
	assert.Equal(t, models.ObservationBugfix, obs.Type)
	assert.Equal(t, "Uploader retried on permanent errors", obs.Title)
	assert.Equal(t, 2, obs.PromptNumber)
	assert.Equal(t, "/home/dev/widget-factory", obs.Cwd)
	assert.EqualValues(t, 100, obs.TokensUsed)
	// Backlog processing keeps the original event time, not the store time.
	assert.Equal(t, msg.CreatedAtEpoch, obs.CreatedAtEpoch)
}

func TestSessionRunMergesInitPromptIntoFirstTurn(t *testing.T) {
	db, rec := newSessionFixture(t)
	enqueueObservation(t, db, rec, "Read", 1)
	enqueueObservation(t, db, rec, "Bash", 1)

	var calls [][]Turn
	chat := func(ctx context.Context, history []Turn) (string, Usage, error) {
		calls = append(calls, append([]Turn(nil), history...))
		return observationReply, Usage{}, nil
	}

	s := NewSession(db, rec, FallbackMode(), nil, nil)
	require.NoError(t, s.EnsureMemorySessionID())
	require.NoError(t, s.Run(context.Background(), "test", chat))
	require.Len(t, calls, 2)

	first := calls[0]
	require.Len(t, first, 1)
	assert.Equal(t, RoleUser, first[0].Role)
	assert.Contains(t, first[0].Text, "You are the memory agent for coding session codex-sess-1")
	assert.Contains(t, first[0].Text, "add retry logic to the uploader")
	assert.Contains(t, first[0].Text, "Tool: Read")

	second := calls[1]
	require.Len(t, second, 3)
	assert.Equal(t, RoleAssistant, second[1].Role)
	assert.Contains(t, second[2].Text, "Tool: Bash")
	assert.NotContains(t, second[2].Text, "You are the memory agent")
}

func TestSessionRunReplaysFailedMessageToFallback(t *testing.T) {
	db, rec := newSessionFixture(t)
	msg := enqueueObservation(t, db, rec, "Edit", 1)

	s := NewSession(db, rec, FallbackMode(), nil, nil)
	require.NoError(t, s.EnsureMemorySessionID())

	boom := errors.New("connection refused")
	err := s.Run(context.Background(), "primary", func(ctx context.Context, history []Turn) (string, Usage, error) {
		return "", Usage{}, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, s.Processed())

	// The claim deleted the row; the session holds the only copy.
	pending, err := store.CountPendingMessages(db, rec.ID)
	require.NoError(t, err)
	assert.Zero(t, pending)

	var replayed []Turn
	require.NoError(t, s.Run(context.Background(), "fallback", func(ctx context.Context, history []Turn) (string, Usage, error) {
		replayed = append([]Turn(nil), history...)
		return observationReply, Usage{}, nil
	}))
	assert.Equal(t, 1, s.Processed())

	// The unanswered turn was popped on failure and re-sent verbatim.
	require.Len(t, replayed, 1)
	assert.Contains(t, replayed[0].Text, "Tool: Edit")

	rows, _, err := store.GetObservationsPage(db, store.Filter{}, "", 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, msg.CreatedAtEpoch, rows[0].CreatedAtEpoch)
}

func TestSessionRunSynthesizesSummaryFromProse(t *testing.T) {
	db, rec := newSessionFixture(t)
	_, err := store.EnqueuePendingMessage(db, rec.ID, rec.ContentSessionID, models.MessageTypeSummarize, models.SummarizePayload{
		LastAssistantMessage: "Retries are now capped at three attempts.",
	}, 0)
	require.NoError(t, err)

	var events []models.BroadcastEvent
	s := NewSession(db, rec, FallbackMode(), nil, func(ev models.BroadcastEvent) {
		events = append(events, ev)
	})
	require.NoError(t, s.EnsureMemorySessionID())

	prose := "The session fixed the uploader retry loop and added tests."
	require.NoError(t, s.Run(context.Background(), "test", staticChat(prose)))

	sum, err := store.GetSummaryBySession(db, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "add retry logic to the uploader", sum.Request)
	assert.Contains(t, sum.Notes, "fixed the uploader retry loop")
	assert.Equal(t, "Retries are now capped at three attempts.", sum.LastAssistantMessage)

	require.Len(t, events, 1)
	assert.Equal(t, models.EventSessionCompleted, events[0].Type)
	assert.Equal(t, "codex-sess-1", events[0].ContentSessionID)
}

func TestSessionRunKeepsRawEventWhenReplyHasNoBlocks(t *testing.T) {
	db, rec := newSessionFixture(t)
	enqueueObservation(t, db, rec, "Grep", 3)

	s := NewSession(db, rec, FallbackMode(), nil, nil)
	require.NoError(t, s.EnsureMemorySessionID())
	require.NoError(t, s.Run(context.Background(), "test", staticChat(observationReply+"\n\nDone.")))

	// Second event: the model decides nothing is worth keeping.
	enqueueObservation(t, db, rec, "WebFetch", 4)
	require.NoError(t, s.Run(context.Background(), "test", staticChat("Nothing durable here.")))

	rows, _, err := store.GetObservationsPage(db, store.Filter{}, "", 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	var synthetic *models.Observation
	for i := range rows {
		if rows[i].Title == "WebFetch" {
			synthetic = &rows[i]
		}
	}
	require.NotNil(t, synthetic, "raw tool event should be kept as a synthetic record")
	assert.Equal(t, models.ObservationDiscovery, synthetic.Type)
	assert.Equal(t, 4, synthetic.PromptNumber)
	assert.Contains(t, synthetic.Narrative, "WebFetch")
}

func TestSessionRunEmptyFirstReplyIsRecoverable(t *testing.T) {
	db, rec := newSessionFixture(t)
	enqueueObservation(t, db, rec, "Edit", 1)

	s := NewSession(db, rec, FallbackMode(), nil, nil)
	require.NoError(t, s.EnsureMemorySessionID())

	err := s.Run(context.Background(), "codex", staticChat("   \n"))
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ClassEmpty, perr.Class)
	assert.Equal(t, "codex", perr.Provider)
	assert.True(t, FallbackEligible(err))

	// The message survives for the fallback provider.
	require.NoError(t, s.Run(context.Background(), "fallback", staticChat(observationReply)))
	assert.Equal(t, 1, s.Processed())
}

func TestSessionRunDropsUndecodablePayload(t *testing.T) {
	db, rec := newSessionFixture(t)
	_, err := store.EnqueuePendingMessage(db, rec.ID, rec.ContentSessionID, models.MessageTypeObservation, []string{"not", "a", "payload"}, 0)
	require.NoError(t, err)

	s := NewSession(db, rec, FallbackMode(), nil, nil)
	require.NoError(t, s.EnsureMemorySessionID())

	calls := 0
	require.NoError(t, s.Run(context.Background(), "test", func(ctx context.Context, history []Turn) (string, Usage, error) {
		calls++
		return observationReply, Usage{}, nil
	}))
	assert.Zero(t, calls, "undecodable payload should be dropped before reaching the provider")
	assert.Zero(t, s.Processed())
}

func TestEnsureMemorySessionID(t *testing.T) {
	db, rec := newSessionFixture(t)

	s := NewSession(db, rec, FallbackMode(), nil, nil)
	require.NoError(t, s.EnsureMemorySessionID())
	minted := s.Record().MemorySessionID
	require.NotEmpty(t, minted)

	// Idempotent on the same session.
	require.NoError(t, s.EnsureMemorySessionID())
	assert.Equal(t, minted, s.Record().MemorySessionID)

	// A stale copy that loses the write-once race adopts the winner's id.
	stale := *rec
	stale.MemorySessionID = ""
	s2 := NewSession(db, &stale, FallbackMode(), nil, nil)
	require.NoError(t, s2.EnsureMemorySessionID())
	assert.Equal(t, minted, s2.Record().MemorySessionID)
}

func TestSessionRunSummarizeBeforeObservations(t *testing.T) {
	db, rec := newSessionFixture(t)
	enqueueObservation(t, db, rec, "Edit", 1)
	_, err := store.EnqueuePendingMessage(db, rec.ID, rec.ContentSessionID, models.MessageTypeSummarize, models.SummarizePayload{}, 0)
	require.NoError(t, err)

	var order []string
	s := NewSession(db, rec, FallbackMode(), nil, nil)
	require.NoError(t, s.EnsureMemorySessionID())
	require.NoError(t, s.Run(context.Background(), "test", func(ctx context.Context, history []Turn) (string, Usage, error) {
		last := history[len(history)-1].Text
		if strings.Contains(last, "Tool: Edit") {
			order = append(order, "observation")
			return observationReply, Usage{}, nil
		}
		order = append(order, "summarize")
		return "Session wrapped up.", Usage{}, nil
	}))

	// Queue priority puts the summarize request ahead of buffered tool events.
	assert.Equal(t, []string{"summarize", "observation"}, order)
}
