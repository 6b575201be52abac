package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/codexmem/internal/models"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestSession(t *testing.T, db *sql.DB, contentSessionID string) *models.Session {
	t.Helper()
	sess, _, err := CreateOrGetSession(db, contentSessionID, "testproj", "initial prompt", models.PlatformHostedAgent)
	require.NoError(t, err)
	return sess
}

func enqueueObservation(t *testing.T, db *sql.DB, sess *models.Session, tool string, cap int) *models.PendingMessage {
	t.Helper()
	msg, err := EnqueuePendingMessage(db, sess.ID, sess.ContentSessionID, models.MessageTypeObservation,
		models.ObservationPayload{ToolName: tool}, cap)
	require.NoError(t, err)
	return msg
}

func TestClaimPendingMessage_PriorityOrdering(t *testing.T) {
	db := newTestDB(t)
	sess := newTestSession(t, db, "sess-priority")

	// Interleave: two observations enqueued before and between summaries.
	obs1 := enqueueObservation(t, db, sess, "Read", 10)
	sum1, err := EnqueuePendingMessage(db, sess.ID, sess.ContentSessionID, models.MessageTypeSummarize,
		models.SummarizePayload{LastAssistantMessage: "first"}, 10)
	require.NoError(t, err)
	obs2 := enqueueObservation(t, db, sess, "Edit", 10)
	sum2, err := EnqueuePendingMessage(db, sess.ID, sess.ContentSessionID, models.MessageTypeSummarize,
		models.SummarizePayload{LastAssistantMessage: "second"}, 10)
	require.NoError(t, err)

	// Both summaries drain first, by id; then observations, by id.
	wantOrder := []int64{sum1.ID, sum2.ID, obs1.ID, obs2.ID}
	for i, wantID := range wantOrder {
		claimed, err := ClaimPendingMessage(db, sess.ID)
		require.NoError(t, err)
		require.NotNil(t, claimed, "claim %d returned empty queue", i)
		assert.Equal(t, wantID, claimed.ID, "claim %d", i)
	}

	// Queue is drained.
	claimed, err := ClaimPendingMessage(db, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestClaimPendingMessage_DeletesOnClaim(t *testing.T) {
	db := newTestDB(t)
	sess := newTestSession(t, db, "sess-delete")

	enqueueObservation(t, db, sess, "Bash", 10)

	claimed, err := ClaimPendingMessage(db, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// No in-progress state: the row is gone the moment it is claimed.
	count, err := CountPendingMessages(db, sess.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestClaimPendingMessage_ScopedToSession(t *testing.T) {
	db := newTestDB(t)
	a := newTestSession(t, db, "sess-a")
	b := newTestSession(t, db, "sess-b")

	msgA := enqueueObservation(t, db, a, "Read", 10)
	enqueueObservation(t, db, b, "Edit", 10)

	claimed, err := ClaimPendingMessage(db, a.ID)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, msgA.ID, claimed.ID)

	// Session B's queue is untouched.
	count, err := CountPendingMessages(db, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEnqueuePendingMessage_CapRejected(t *testing.T) {
	db := newTestDB(t)
	sess := newTestSession(t, db, "sess-cap")

	for i := 0; i < DefaultQueueCap; i++ {
		enqueueObservation(t, db, sess, "Read", DefaultQueueCap)
	}

	_, err := EnqueuePendingMessage(db, sess.ID, sess.ContentSessionID, models.MessageTypeObservation,
		models.ObservationPayload{ToolName: "Read"}, DefaultQueueCap)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueFull)

	var qf *QueueFullError
	require.True(t, errors.As(err, &qf))
	assert.Equal(t, sess.ID, qf.SessionDBID)
	assert.Equal(t, DefaultQueueCap, qf.Pending)

	// The rejected message was not silently inserted.
	count, err := CountPendingMessages(db, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, DefaultQueueCap, count)
}

func TestEnqueuePendingMessage_InvalidType(t *testing.T) {
	db := newTestDB(t)
	sess := newTestSession(t, db, "sess-badtype")

	_, err := EnqueuePendingMessage(db, sess.ID, sess.ContentSessionID, models.MessageType("bogus"), nil, 10)
	require.Error(t, err)
}

func TestEnqueuePendingMessage_PayloadRoundTrip(t *testing.T) {
	db := newTestDB(t)
	sess := newTestSession(t, db, "sess-payload")

	payload := models.ObservationPayload{
		ToolName:       "Edit",
		ToolInput:      json.RawMessage(`{"file":"main.go"}`),
		ToolResponse:   json.RawMessage(`"ok"`),
		Cwd:            "/tmp/project",
		PromptNumber:   3,
		TimestampEpoch: 1700000000000,
	}
	_, err := EnqueuePendingMessage(db, sess.ID, sess.ContentSessionID, models.MessageTypeObservation, payload, 10)
	require.NoError(t, err)

	claimed, err := ClaimPendingMessage(db, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	var got models.ObservationPayload
	require.NoError(t, claimed.DecodePayload(&got))
	assert.Equal(t, payload, got)
}

func TestOldestPendingAgeMs(t *testing.T) {
	db := newTestDB(t)
	sess := newTestSession(t, db, "sess-age")

	_, ok, err := OldestPendingAgeMs(db, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "empty queue should report no age")

	msg := enqueueObservation(t, db, sess, "Read", 10)

	age, ok, err := OldestPendingAgeMs(db, time.Now().Add(2*time.Second))
	require.NoError(t, err)
	require.True(t, ok)
	assert.GreaterOrEqual(t, age, int64(2000))

	// Clock skew never yields a negative age.
	age, ok, err = OldestPendingAgeMs(db, time.UnixMilli(msg.CreatedAtEpoch).Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, age)
}

func TestSessionsWithPending_FIFOByEarliestMessage(t *testing.T) {
	db := newTestDB(t)
	a := newTestSession(t, db, "sess-fifo-a")
	b := newTestSession(t, db, "sess-fifo-b")
	c := newTestSession(t, db, "sess-fifo-c")

	// b enqueues first, then a, then b again, then c.
	enqueueObservation(t, db, b, "Read", 10)
	enqueueObservation(t, db, a, "Read", 10)
	enqueueObservation(t, db, b, "Edit", 10)
	enqueueObservation(t, db, c, "Read", 10)

	ids, err := SessionsWithPending(db)
	require.NoError(t, err)
	require.Equal(t, []int64{b.ID, a.ID, c.ID}, ids)
}

func TestPurgeSessionQueue(t *testing.T) {
	db := newTestDB(t)
	sess := newTestSession(t, db, "sess-purge")
	other := newTestSession(t, db, "sess-purge-other")

	enqueueObservation(t, db, sess, "Read", 10)
	enqueueObservation(t, db, sess, "Edit", 10)
	enqueueObservation(t, db, other, "Read", 10)

	n, err := PurgeSessionQueue(db, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	count, err := CountPendingMessages(db, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPendingMessagesSnapshot_ClaimOrder(t *testing.T) {
	db := newTestDB(t)
	sess := newTestSession(t, db, "sess-snapshot")

	obs := enqueueObservation(t, db, sess, "Read", 10)
	sum, err := EnqueuePendingMessage(db, sess.ID, sess.ContentSessionID, models.MessageTypeSummarize,
		models.SummarizePayload{LastAssistantMessage: "done"}, 10)
	require.NoError(t, err)

	snapshot, err := PendingMessagesSnapshot(db)
	require.NoError(t, err)
	require.Len(t, snapshot, 2)
	assert.Equal(t, sum.ID, snapshot[0].ID, "summarize sorts first despite later enqueue")
	assert.Equal(t, obs.ID, snapshot[1].ID)
}
