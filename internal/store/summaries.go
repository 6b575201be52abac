package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/dotcommander/codexmem/internal/models"
)

const summarySelect = `
	SELECT m.id, m.session_db_id, m.memory_session_id, m.project, m.request, m.investigated, m.learned,
	       m.completed, m.next_steps, m.notes, m.last_assistant_message, m.tokens_used, m.created_at_epoch
	FROM summaries m`

// GetSummaryBySession returns the summary for a session, or ErrNotFound when
// the session has not been summarized yet.
func GetSummaryBySession(db *sql.DB, sessionDBID int64) (*models.Summary, error) {
	row := db.QueryRow(summarySelect+` WHERE m.session_db_id = ?`, sessionDBID)
	s, err := scanSummary(row)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSummariesPage returns summaries filtered and paged, newest first, plus a
// hasMore flag.
func GetSummariesPage(db *sql.DB, filter Filter, offset, limit int) ([]models.Summary, bool, error) {
	limit = clampLimit(limit)
	where, args := filter.summaryWhere()

	query := summarySelect + where + " ORDER BY m.created_at_epoch DESC, m.id DESC LIMIT ? OFFSET ?"
	args = append(args, limit+1, offset)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("query summaries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.Summary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, false, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return trimPage(out, limit)
}

func scanSummary(row rowScanner) (models.Summary, error) {
	var s models.Summary
	var memoryID sql.NullString
	err := row.Scan(&s.ID, &s.SessionDBID, &memoryID, &s.Project, &s.Request, &s.Investigated, &s.Learned,
		&s.Completed, &s.NextSteps, &s.Notes, &s.LastAssistantMessage, &s.TokensUsed, &s.CreatedAtEpoch)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Summary{}, ErrNotFound
		}
		return models.Summary{}, fmt.Errorf("scan summary: %w", err)
	}
	s.MemorySessionID = memoryID.String
	return s, nil
}
