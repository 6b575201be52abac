package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dotcommander/codexmem/internal/models"
)

// StoreResult reports what one atomic StoreObservations call persisted.
type StoreResult struct {
	ObservationIDs []int64 `json:"observation_ids"`
	SummaryID      int64   `json:"summary_id,omitempty"`
	CreatedAtEpoch int64   `json:"created_at_epoch"`
}

// StoreObservations persists a batch of parsed observations and an optional
// summary for one session in a single transaction. All-or-nothing: readers
// never see a partial batch, and the FTS rows land in the same transaction
// via triggers.
//
// batchEpoch is the enqueue time of the oldest pending message that
// contributed to this batch; it becomes created_at_epoch on every record so
// backlog processing preserves transcript chronology. Zero means "now".
func StoreObservations(db *sql.DB, sessionDBID int64, memorySessionID, project string, observations []models.ParsedObservation, summary *models.ParsedSummary, batchEpoch int64) (*StoreResult, error) {
	if sessionDBID == 0 {
		return nil, fmt.Errorf("session db id is required")
	}
	if len(observations) == 0 && summary == nil {
		return nil, fmt.Errorf("nothing to store")
	}
	if batchEpoch <= 0 {
		batchEpoch = time.Now().UnixMilli()
	}

	result := &StoreResult{CreatedAtEpoch: batchEpoch}
	err := Transact(db, func(tx *sql.Tx) error {
		for _, obs := range observations {
			id, err := insertObservation(tx, sessionDBID, memorySessionID, project, obs, batchEpoch)
			if err != nil {
				return err
			}
			result.ObservationIDs = append(result.ObservationIDs, id)
		}

		if summary != nil {
			id, err := upsertSummary(tx, sessionDBID, memorySessionID, project, *summary, batchEpoch)
			if err != nil {
				return err
			}
			result.SummaryID = id
		}

		_, err := tx.Exec(`UPDATE sessions SET updated_at_epoch = ? WHERE id = ?`, time.Now().UnixMilli(), sessionDBID)
		if err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func insertObservation(tx *sql.Tx, sessionDBID int64, memorySessionID, project string, obs models.ParsedObservation, epoch int64) (int64, error) {
	if !obs.Type.Valid() {
		obs.Type = models.ObservationDiscovery
	}
	res, err := tx.Exec(`
		INSERT INTO observations (session_db_id, memory_session_id, project, type, title, subtitle, narrative,
			facts, concepts, files_read, files_modified, prompt_number, tokens_used, cwd, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sessionDBID, memorySessionID, project, string(obs.Type), obs.Title, obs.Subtitle, obs.Narrative,
		marshalList(obs.Facts), marshalList(obs.Concepts), marshalList(obs.FilesRead), marshalList(obs.FilesModified),
		obs.PromptNumber, obs.TokensUsed, obs.Cwd, epoch)
	if err != nil {
		return 0, fmt.Errorf("insert observation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("observation insert id: %w", err)
	}
	return id, nil
}

// upsertSummary replaces the session's summary in place. The row id survives
// replacement so timeline anchors stay valid.
func upsertSummary(tx *sql.Tx, sessionDBID int64, memorySessionID, project string, s models.ParsedSummary, epoch int64) (int64, error) {
	_, err := tx.Exec(`
		INSERT INTO summaries (session_db_id, memory_session_id, project, request, investigated, learned,
			completed, next_steps, notes, last_assistant_message, tokens_used, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_db_id) DO UPDATE SET
			memory_session_id = excluded.memory_session_id,
			request = excluded.request,
			investigated = excluded.investigated,
			learned = excluded.learned,
			completed = excluded.completed,
			next_steps = excluded.next_steps,
			notes = excluded.notes,
			last_assistant_message = excluded.last_assistant_message,
			tokens_used = excluded.tokens_used,
			created_at_epoch = excluded.created_at_epoch
	`, sessionDBID, memorySessionID, project, s.Request, s.Investigated, s.Learned,
		s.Completed, s.NextSteps, s.Notes, s.LastAssistantMessage, s.TokensUsed, epoch)
	if err != nil {
		return 0, fmt.Errorf("upsert summary: %w", err)
	}

	var id int64
	if err := tx.QueryRow(`SELECT id FROM summaries WHERE session_db_id = ?`, sessionDBID).Scan(&id); err != nil {
		return 0, fmt.Errorf("summary id after upsert: %w", err)
	}
	return id, nil
}

// GetObservationsByIDs returns full records for the given ids, preserving the
// requested order. Unknown ids are skipped, not errors.
func GetObservationsByIDs(db *sql.DB, ids []int64) ([]models.Observation, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := db.Query(observationSelect+` WHERE o.id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query observations by ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[int64]models.Observation, len(ids))
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		byID[obs.ID] = obs
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.Observation, 0, len(ids))
	for _, id := range ids {
		if obs, ok := byID[id]; ok {
			out = append(out, obs)
		}
	}
	return out, nil
}

// GetObservationsPage returns observations filtered and paged plus a hasMore
// flag. orderBy accepts "date" (default, newest first) or "date_asc".
func GetObservationsPage(db *sql.DB, filter Filter, orderBy string, offset, limit int) ([]models.Observation, bool, error) {
	limit = clampLimit(limit)
	where, args := filter.obsWhere()

	order := " ORDER BY o.created_at_epoch DESC, o.id DESC"
	if orderBy == "date_asc" {
		order = " ORDER BY o.created_at_epoch ASC, o.id ASC"
	}

	query := observationSelect + where + order + " LIMIT ? OFFSET ?"
	args = append(args, limit+1, offset)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("query observations: %w", err)
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

const observationSelect = `
	SELECT o.id, o.session_db_id, o.memory_session_id, o.project, o.type, o.title, o.subtitle, o.narrative,
	       o.facts, o.concepts, o.files_read, o.files_modified, o.prompt_number, o.tokens_used, o.cwd, o.created_at_epoch
	FROM observations o`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanObservation(row rowScanner) (models.Observation, error) {
	var o models.Observation
	var memoryID sql.NullString
	var facts, concepts, filesRead, filesModified string
	err := row.Scan(&o.ID, &o.SessionDBID, &memoryID, &o.Project, &o.Type, &o.Title, &o.Subtitle, &o.Narrative,
		&facts, &concepts, &filesRead, &filesModified, &o.PromptNumber, &o.TokensUsed, &o.Cwd, &o.CreatedAtEpoch)
	if err != nil {
		return models.Observation{}, fmt.Errorf("scan observation: %w", err)
	}
	o.MemorySessionID = memoryID.String
	o.Facts = unmarshalList(facts)
	o.Concepts = unmarshalList(concepts)
	o.FilesRead = unmarshalList(filesRead)
	o.FilesModified = unmarshalList(filesModified)
	return o, nil
}

// marshalList stores string slices as JSON arrays; nil becomes "[]" so the
// NOT NULL column default holds and LIKE filters stay simple.
func marshalList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalList(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	return items
}
