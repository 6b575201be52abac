package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/dotcommander/codexmem/internal/models"
)

// buildMatchQuery turns free-form user input into a safe FTS5 MATCH
// expression. Every whitespace-separated term is double-quoted so operators
// and punctuation in the input cannot change the query shape; multiple terms
// AND together, which is the FTS5 default.
func buildMatchQuery(input string) string {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " ")
}

// matchWhere combines the FTS MATCH condition with a Filter's WHERE fragment.
func matchWhere(ftsTable, where string) string {
	cond := ftsTable + " MATCH ?"
	if clause := strings.TrimPrefix(where, " WHERE "); clause != "" {
		cond += " AND " + clause
	}
	return " WHERE " + cond
}

// SearchObservations runs a full-text query over observation text fields,
// best match first, and returns a page plus a hasMore flag.
func SearchObservations(db *sql.DB, query string, filter Filter, offset, limit int) ([]models.Observation, bool, error) {
	match := buildMatchQuery(query)
	if match == "" {
		return nil, false, nil
	}
	limit = clampLimit(limit)
	where, args := filter.obsWhere()

	sqlQuery := `
		SELECT o.id, o.session_db_id, o.memory_session_id, o.project, o.type, o.title, o.subtitle, o.narrative,
		       o.facts, o.concepts, o.files_read, o.files_modified, o.prompt_number, o.tokens_used, o.cwd, o.created_at_epoch
		FROM observations_fts f
		JOIN observations o ON o.id = f.rowid` +
		matchWhere("observations_fts", where) + `
		ORDER BY bm25(observations_fts) ASC
		LIMIT ? OFFSET ?`

	allArgs := append([]any{match}, args...)
	allArgs = append(allArgs, limit+1, offset)

	rows, err := db.Query(sqlQuery, allArgs...)
	if err != nil {
		return nil, false, fmt.Errorf("search observations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, false, err
		}
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return trimPage(out, limit)
}

// SearchSummaries runs a full-text query over summary fields, best match
// first.
func SearchSummaries(db *sql.DB, query string, filter Filter, offset, limit int) ([]models.Summary, bool, error) {
	match := buildMatchQuery(query)
	if match == "" {
		return nil, false, nil
	}
	limit = clampLimit(limit)
	where, args := filter.summaryWhere()

	sqlQuery := `
		SELECT m.id, m.session_db_id, m.memory_session_id, m.project, m.request, m.investigated, m.learned,
		       m.completed, m.next_steps, m.notes, m.last_assistant_message, m.tokens_used, m.created_at_epoch
		FROM summaries_fts f
		JOIN summaries m ON m.id = f.rowid` +
		matchWhere("summaries_fts", where) + `
		ORDER BY bm25(summaries_fts) ASC
		LIMIT ? OFFSET ?`

	allArgs := append([]any{match}, args...)
	allArgs = append(allArgs, limit+1, offset)

	rows, err := db.Query(sqlQuery, allArgs...)
	if err != nil {
		return nil, false, fmt.Errorf("search summaries: %w", err)
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

// SearchUserPrompts runs a full-text query over raw prompt text, best match
// first. This is the relational fallback when vector search is unavailable.
func SearchUserPrompts(db *sql.DB, query string, filter Filter, offset, limit int) ([]models.UserPrompt, bool, error) {
	match := buildMatchQuery(query)
	if match == "" {
		return nil, false, nil
	}
	limit = clampLimit(limit)
	where, args := filter.promptWhere()

	sqlQuery := `
		SELECT p.id, p.content_session_id, p.prompt_number, p.prompt_text, p.created_at_epoch
		FROM user_prompts_fts f
		JOIN user_prompts p ON p.id = f.rowid` +
		matchWhere("user_prompts_fts", where) + `
		ORDER BY bm25(user_prompts_fts) ASC
		LIMIT ? OFFSET ?`

	allArgs := append([]any{match}, args...)
	allArgs = append(allArgs, limit+1, offset)

	rows, err := db.Query(sqlQuery, allArgs...)
	if err != nil {
		return nil, false, fmt.Errorf("search user prompts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.UserPrompt
	for rows.Next() {
		var p models.UserPrompt
		if err := rows.Scan(&p.ID, &p.ContentSessionID, &p.PromptNumber, &p.PromptText, &p.CreatedAtEpoch); err != nil {
			return nil, false, fmt.Errorf("scan user prompt: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return trimPage(out, limit)
}
