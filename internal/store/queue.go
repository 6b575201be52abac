package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dotcommander/codexmem/internal/models"
)

// DefaultQueueCap bounds in-flight messages per session. Over-cap enqueues
// are rejected so a stalled agent cannot grow the backlog without the caller
// noticing.
const DefaultQueueCap = 3

// EnqueuePendingMessage appends one message to a session's queue. The
// per-session cap is checked and the insert performed inside one
// transaction; over-cap attempts return a QueueFullError.
func EnqueuePendingMessage(db *sql.DB, sessionDBID int64, contentSessionID string, msgType models.MessageType, payload any, cap int) (*models.PendingMessage, error) {
	if sessionDBID == 0 {
		return nil, fmt.Errorf("session db id is required")
	}
	if !msgType.Valid() {
		return nil, fmt.Errorf("invalid message type %q", msgType)
	}
	if cap <= 0 {
		cap = DefaultQueueCap
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal queue payload: %w", err)
	}

	msg := &models.PendingMessage{
		SessionDBID:      sessionDBID,
		ContentSessionID: contentSessionID,
		MessageType:      msgType,
		Priority:         msgType.Priority(),
		Payload:          raw,
		CreatedAtEpoch:   time.Now().UnixMilli(),
	}

	err = Transact(db, func(tx *sql.Tx) error {
		var pending int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM pending_messages WHERE session_db_id = ?`, sessionDBID).Scan(&pending); err != nil {
			return fmt.Errorf("count pending: %w", err)
		}
		if pending >= cap {
			return &QueueFullError{SessionDBID: sessionDBID, Cap: cap, Pending: pending}
		}

		res, err := tx.Exec(`
			INSERT INTO pending_messages (session_db_id, content_session_id, message_type, priority, payload, created_at_epoch)
			VALUES (?, ?, ?, ?, ?, ?)
		`, msg.SessionDBID, msg.ContentSessionID, string(msg.MessageType), msg.Priority, string(msg.Payload), msg.CreatedAtEpoch)
		if err != nil {
			return fmt.Errorf("insert pending message: %w", err)
		}
		msg.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("pending message insert id: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ClaimPendingMessage atomically removes and returns the next message for a
// session. Order is priority ascending (summarize before observation), then
// id ascending. There is no in-progress state: a crash after claim loses the
// message but never leaves it half-claimed. Returns nil when the queue is
// empty.
func ClaimPendingMessage(db *sql.DB, sessionDBID int64) (*models.PendingMessage, error) {
	var msg models.PendingMessage
	var payload string

	err := RetryWithBackoff(func() error {
		row := db.QueryRow(`
			DELETE FROM pending_messages
			WHERE id = (
				SELECT id FROM pending_messages
				WHERE session_db_id = ?
				ORDER BY priority ASC, id ASC
				LIMIT 1
			)
			RETURNING id, session_db_id, content_session_id, message_type, priority, payload, created_at_epoch
		`, sessionDBID)
		return row.Scan(&msg.ID, &msg.SessionDBID, &msg.ContentSessionID, &msg.MessageType, &msg.Priority, &payload, &msg.CreatedAtEpoch)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim pending message: %w", err)
	}
	msg.Payload = json.RawMessage(payload)
	return &msg, nil
}

// CountPendingMessages returns the queue depth for one session, or across
// all sessions when sessionDBID is zero.
func CountPendingMessages(db *sql.DB, sessionDBID int64) (int, error) {
	var (
		count int
		err   error
	)
	if sessionDBID == 0 {
		err = db.QueryRow(`SELECT COUNT(*) FROM pending_messages`).Scan(&count)
	} else {
		err = db.QueryRow(`SELECT COUNT(*) FROM pending_messages WHERE session_db_id = ?`, sessionDBID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("count pending messages: %w", err)
	}
	return count, nil
}

// OldestPendingAgeMs reports how long the oldest queued message has been
// waiting, across all sessions. Returns (0, false) when the queue is empty.
func OldestPendingAgeMs(db *sql.DB, now time.Time) (int64, bool, error) {
	var oldest sql.NullInt64
	err := db.QueryRow(`SELECT MIN(created_at_epoch) FROM pending_messages`).Scan(&oldest)
	if err != nil {
		return 0, false, fmt.Errorf("oldest pending age: %w", err)
	}
	if !oldest.Valid {
		return 0, false, nil
	}
	age := now.UnixMilli() - oldest.Int64
	if age < 0 {
		age = 0
	}
	return age, true, nil
}

// SessionsWithPending returns session ids that currently have queued work,
// ordered by each session's earliest message id so waiting sessions start
// FIFO.
func SessionsWithPending(db *sql.DB) ([]int64, error) {
	rows, err := db.Query(`
		SELECT session_db_id FROM pending_messages
		GROUP BY session_db_id
		ORDER BY MIN(id) ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("sessions with pending: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PendingMessagesSnapshot lists every queued message for diagnostics, claim
// order first.
func PendingMessagesSnapshot(db *sql.DB) ([]models.PendingMessage, error) {
	rows, err := db.Query(`
		SELECT id, session_db_id, content_session_id, message_type, priority, payload, created_at_epoch
		FROM pending_messages
		ORDER BY session_db_id ASC, priority ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("pending snapshot: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.PendingMessage
	for rows.Next() {
		var msg models.PendingMessage
		var payload string
		if err := rows.Scan(&msg.ID, &msg.SessionDBID, &msg.ContentSessionID, &msg.MessageType, &msg.Priority, &payload, &msg.CreatedAtEpoch); err != nil {
			return nil, err
		}
		msg.Payload = json.RawMessage(payload)
		out = append(out, msg)
	}
	return out, rows.Err()
}

// PurgeSessionQueue drops all queued messages for a session. Used when a
// session is deleted or its task aborted permanently.
func PurgeSessionQueue(db *sql.DB, sessionDBID int64) (int64, error) {
	res, err := db.Exec(`DELETE FROM pending_messages WHERE session_db_id = ?`, sessionDBID)
	if err != nil {
		return 0, fmt.Errorf("purge session queue: %w", err)
	}
	return res.RowsAffected()
}
