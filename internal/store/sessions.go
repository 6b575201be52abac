package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dotcommander/codexmem/internal/models"
)

// CreateOrGetSession returns the session row for contentSessionID, creating it
// if absent. Idempotent: a second call with the same id returns the existing
// row untouched (project and initial prompt are set once, on creation).
func CreateOrGetSession(db *sql.DB, contentSessionID, project, initialPrompt string, platform models.Platform) (*models.Session, bool, error) {
	if contentSessionID == "" {
		return nil, false, fmt.Errorf("content session ID is required")
	}
	if project == "" {
		project = "unknown"
	}
	if !platform.Valid() {
		platform = models.PlatformHostedAgent
	}

	var session *models.Session
	var created bool
	err := Transact(db, func(tx *sql.Tx) error {
		existing, err := getSessionByContentID(tx, contentSessionID)
		if err == nil {
			session = existing
			created = false
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		now := time.Now().UnixMilli()
		res, err := tx.Exec(`
			INSERT INTO sessions (content_session_id, project, platform, initial_prompt, created_at_epoch, updated_at_epoch)
			VALUES (?, ?, ?, ?, ?, ?)
		`, contentSessionID, project, string(platform), initialPrompt, now, now)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("session insert id: %w", err)
		}
		session = &models.Session{
			ID:               id,
			ContentSessionID: contentSessionID,
			Project:          project,
			Platform:         platform,
			InitialPrompt:    initialPrompt,
			CreatedAtEpoch:   now,
			UpdatedAtEpoch:   now,
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return session, created, nil
}

// GetSessionByContentID loads a session by its upstream identifier.
func GetSessionByContentID(db *sql.DB, contentSessionID string) (*models.Session, error) {
	var session *models.Session
	err := RetryWithBackoff(func() error {
		s, err := getSessionByContentID(db, contentSessionID)
		if err != nil {
			return err
		}
		session = s
		return nil
	})
	return session, err
}

// GetSessionByDBID loads a session by row id.
func GetSessionByDBID(db *sql.DB, sessionDBID int64) (*models.Session, error) {
	row := db.QueryRow(sessionSelect+` WHERE id = ?`, sessionDBID)
	return scanSessionRow(row)
}

// AssignMemorySessionID records the LLM conversation id for a session.
// Write-once: assigning over an existing different id returns
// ErrMemorySessionAssigned; re-assigning the same id is a no-op.
func AssignMemorySessionID(db *sql.DB, sessionDBID int64, memorySessionID string) error {
	if memorySessionID == "" {
		return fmt.Errorf("memory session ID is required")
	}
	return Transact(db, func(tx *sql.Tx) error {
		var current sql.NullString
		err := tx.QueryRow(`SELECT memory_session_id FROM sessions WHERE id = ?`, sessionDBID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load memory session id: %w", err)
		}
		if current.Valid && current.String != "" {
			if current.String == memorySessionID {
				return nil
			}
			return ErrMemorySessionAssigned
		}
		_, err = tx.Exec(`
			UPDATE sessions SET memory_session_id = ?, updated_at_epoch = ? WHERE id = ?
		`, memorySessionID, time.Now().UnixMilli(), sessionDBID)
		if err != nil {
			return fmt.Errorf("assign memory session id: %w", err)
		}
		return nil
	})
}

// ListProjects returns the distinct project names with at least one session,
// most recently updated first.
func ListProjects(db *sql.DB) ([]string, error) {
	return queryStringColumn(db, `
		SELECT project FROM sessions
		GROUP BY project
		ORDER BY MAX(updated_at_epoch) DESC
	`)
}

// ProjectCounts reports per-project record counts for the projects endpoint.
type ProjectCounts struct {
	Project      string `json:"project"`
	Sessions     int    `json:"sessions"`
	Observations int    `json:"observations"`
	Summaries    int    `json:"summaries"`
}

// ListProjectCounts returns per-project counts, most recently active first.
func ListProjectCounts(db *sql.DB) ([]ProjectCounts, error) {
	rows, err := db.Query(`
		SELECT s.project,
		       COUNT(DISTINCT s.id),
		       (SELECT COUNT(*) FROM observations o WHERE o.project = s.project),
		       (SELECT COUNT(*) FROM summaries m WHERE m.project = s.project)
		FROM sessions s
		GROUP BY s.project
		ORDER BY MAX(s.updated_at_epoch) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list project counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ProjectCounts
	for rows.Next() {
		var pc ProjectCounts
		if err := rows.Scan(&pc.Project, &pc.Sessions, &pc.Observations, &pc.Summaries); err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

const sessionSelect = `
	SELECT id, content_session_id, memory_session_id, project, platform, initial_prompt, created_at_epoch, updated_at_epoch
	FROM sessions`

func getSessionByContentID(q Querier, contentSessionID string) (*models.Session, error) {
	row := q.QueryRow(sessionSelect+` WHERE content_session_id = ?`, contentSessionID)
	return scanSessionRow(row)
}

func scanSessionRow(row *sql.Row) (*models.Session, error) {
	var s models.Session
	var memoryID, initialPrompt sql.NullString
	err := row.Scan(&s.ID, &s.ContentSessionID, &memoryID, &s.Project, &s.Platform, &initialPrompt, &s.CreatedAtEpoch, &s.UpdatedAtEpoch)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	s.MemorySessionID = memoryID.String
	s.InitialPrompt = initialPrompt.String
	return &s, nil
}
