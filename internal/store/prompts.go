package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dotcommander/codexmem/internal/models"
)

// AppendUserPrompt records the next prompt for a session and returns its
// number. Numbers are monotonic per session starting at 1; the unique index
// on (content_session_id, prompt_number) makes concurrent appends safe.
func AppendUserPrompt(db *sql.DB, contentSessionID, promptText string) (int, error) {
	if contentSessionID == "" {
		return 0, fmt.Errorf("content session ID is required")
	}

	var promptNumber int
	err := Transact(db, func(tx *sql.Tx) error {
		var next sql.NullInt64
		err := tx.QueryRow(`
			SELECT MAX(prompt_number) FROM user_prompts WHERE content_session_id = ?
		`, contentSessionID).Scan(&next)
		if err != nil {
			return fmt.Errorf("next prompt number: %w", err)
		}
		promptNumber = int(next.Int64) + 1

		_, err = tx.Exec(`
			INSERT INTO user_prompts (content_session_id, prompt_number, prompt_text, created_at_epoch)
			VALUES (?, ?, ?, ?)
		`, contentSessionID, promptNumber, promptText, time.Now().UnixMilli())
		if err != nil {
			return fmt.Errorf("insert user prompt: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return promptNumber, nil
}

// LatestPromptNumber returns the highest prompt number for a session, 0 if none.
func LatestPromptNumber(db *sql.DB, contentSessionID string) (int, error) {
	var n sql.NullInt64
	err := db.QueryRow(`
		SELECT MAX(prompt_number) FROM user_prompts WHERE content_session_id = ?
	`, contentSessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("latest prompt number: %w", err)
	}
	return int(n.Int64), nil
}

// GetPromptsPage returns prompts filtered and paged, newest first, plus a
// hasMore flag.
func GetPromptsPage(db *sql.DB, filter Filter, offset, limit int) ([]models.UserPrompt, bool, error) {
	limit = clampLimit(limit)
	where, args := filter.promptWhere()
	query := `
		SELECT p.id, p.content_session_id, p.prompt_number, p.prompt_text, p.created_at_epoch
		FROM user_prompts p` + where + `
		ORDER BY p.created_at_epoch DESC, p.id DESC
		LIMIT ? OFFSET ?`
	args = append(args, limit+1, offset)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("query prompts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.UserPrompt
	for rows.Next() {
		var p models.UserPrompt
		if err := rows.Scan(&p.ID, &p.ContentSessionID, &p.PromptNumber, &p.PromptText, &p.CreatedAtEpoch); err != nil {
			return nil, false, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return trimPage(out, limit)
}

// GetPromptByID loads one prompt row.
func GetPromptByID(db *sql.DB, id int64) (*models.UserPrompt, error) {
	var p models.UserPrompt
	err := db.QueryRow(`
		SELECT id, content_session_id, prompt_number, prompt_text, created_at_epoch
		FROM user_prompts WHERE id = ?
	`, id).Scan(&p.ID, &p.ContentSessionID, &p.PromptNumber, &p.PromptText, &p.CreatedAtEpoch)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get prompt: %w", err)
	}
	return &p, nil
}

// trimPage cuts the probe row used for hasMore detection.
func trimPage[T any](rows []T, limit int) ([]T, bool, error) {
	if len(rows) > limit {
		return rows[:limit], true, nil
	}
	return rows, false, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 200 {
		return 200
	}
	return limit
}
