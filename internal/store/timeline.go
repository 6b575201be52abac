package store

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/dotcommander/codexmem/internal/models"
)

const (
	kindObservation = "observation"
	kindSummary     = "summary"
)

// TimelineItem is one entry in a chronological window. Exactly one of
// Observation or Summary is set.
type TimelineItem struct {
	Kind        string              `json:"kind"`
	Observation *models.Observation `json:"observation,omitempty"`
	Summary     *models.Summary     `json:"summary,omitempty"`
}

// Epoch returns the item's created_at_epoch.
func (t TimelineItem) Epoch() int64 {
	if t.Observation != nil {
		return t.Observation.CreatedAtEpoch
	}
	if t.Summary != nil {
		return t.Summary.CreatedAtEpoch
	}
	return 0
}

// RowID returns the item's row id within its own table.
func (t TimelineItem) RowID() int64 {
	if t.Observation != nil {
		return t.Observation.ID
	}
	if t.Summary != nil {
		return t.Summary.ID
	}
	return 0
}

// kindRank orders items at equal epochs: observations first, then the
// summary that closes the batch.
func (t TimelineItem) kindRank() int {
	if t.Kind == kindSummary {
		return 1
	}
	return 0
}

// Timeline is a window of items around an anchor. Items are in chronological
// order and Items[AnchorIndex] is the anchor itself.
type Timeline struct {
	Items       []TimelineItem `json:"items"`
	AnchorIndex int            `json:"anchor_index"`
}

// GetTimeline returns up to depthBefore items preceding the anchor and
// depthAfter following it, observations and summaries interleaved by epoch.
// The anchor id is resolved as an observation first, then as a summary.
func GetTimeline(db *sql.DB, anchorID int64, depthBefore, depthAfter int, project string) (*Timeline, error) {
	if anchorID <= 0 {
		return nil, fmt.Errorf("timeline anchor id is required")
	}
	depthBefore = clampDepth(depthBefore)
	depthAfter = clampDepth(depthAfter)

	anchor, err := resolveAnchor(db, anchorID)
	if err != nil {
		return nil, err
	}

	before, err := timelineSide(db, anchor, project, true, depthBefore)
	if err != nil {
		return nil, err
	}
	after, err := timelineSide(db, anchor, project, false, depthAfter)
	if err != nil {
		return nil, err
	}

	items := make([]TimelineItem, 0, len(before)+1+len(after))
	items = append(items, before...)
	anchorIndex := len(items)
	items = append(items, anchor)
	items = append(items, after...)

	return &Timeline{Items: items, AnchorIndex: anchorIndex}, nil
}

func clampDepth(depth int) int {
	if depth < 0 {
		return 0
	}
	if depth > 50 {
		return 50
	}
	return depth
}

func resolveAnchor(db *sql.DB, anchorID int64) (TimelineItem, error) {
	obs, err := GetObservationsByIDs(db, []int64{anchorID})
	if err != nil {
		return TimelineItem{}, err
	}
	if len(obs) == 1 {
		return TimelineItem{Kind: kindObservation, Observation: &obs[0]}, nil
	}

	row := db.QueryRow(summarySelect+` WHERE m.id = ?`, anchorID)
	s, err := scanSummary(row)
	if err != nil {
		return TimelineItem{}, fmt.Errorf("timeline anchor %d: %w", anchorID, ErrNotFound)
	}
	return TimelineItem{Kind: kindSummary, Summary: &s}, nil
}

// timelineSide collects up to limit items strictly before or after the
// anchor. Both tables contribute up to limit candidates; the merged set is
// sorted by (epoch, kind, id) and trimmed to the closest entries.
func timelineSide(db *sql.DB, anchor TimelineItem, project string, before bool, limit int) ([]TimelineItem, error) {
	if limit == 0 {
		return nil, nil
	}

	obsCond, obsArgs := sideCondition(anchor, kindObservation, before)
	sumCond, sumArgs := sideCondition(anchor, kindSummary, before)
	if project != "" {
		obsCond = "o.project = ? AND (" + obsCond + ")"
		obsArgs = append([]any{project}, obsArgs...)
		sumCond = "m.project = ? AND (" + sumCond + ")"
		sumArgs = append([]any{project}, sumArgs...)
	}

	order := "DESC"
	if !before {
		order = "ASC"
	}

	var items []TimelineItem

	obsQuery := observationSelect + " WHERE " + obsCond +
		fmt.Sprintf(" ORDER BY o.created_at_epoch %s, o.id %s LIMIT ?", order, order)
	rows, err := db.Query(obsQuery, append(obsArgs, limit)...)
	if err != nil {
		return nil, fmt.Errorf("timeline observations: %w", err)
	}
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		obs := o
		items = append(items, TimelineItem{Kind: kindObservation, Observation: &obs})
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	sumQuery := summarySelect + " WHERE " + sumCond +
		fmt.Sprintf(" ORDER BY m.created_at_epoch %s, m.id %s LIMIT ?", order, order)
	rows, err = db.Query(sumQuery, append(sumArgs, limit)...)
	if err != nil {
		return nil, fmt.Errorf("timeline summaries: %w", err)
	}
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		sum := s
		items = append(items, TimelineItem{Kind: kindSummary, Summary: &sum})
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	sort.Slice(items, func(i, j int) bool {
		if items[i].Epoch() != items[j].Epoch() {
			return items[i].Epoch() < items[j].Epoch()
		}
		if items[i].kindRank() != items[j].kindRank() {
			return items[i].kindRank() < items[j].kindRank()
		}
		return items[i].RowID() < items[j].RowID()
	})

	if before && len(items) > limit {
		items = items[len(items)-limit:]
	} else if !before && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// sideCondition builds the epoch comparison that places rows of one kind
// before or after the anchor. At equal epochs observations precede
// summaries; ties within a kind break by id.
func sideCondition(anchor TimelineItem, kind string, before bool) (string, []any) {
	epoch := anchor.Epoch()
	col := "o.created_at_epoch"
	idCol := "o.id"
	if kind == kindSummary {
		col = "m.created_at_epoch"
		idCol = "m.id"
	}

	sameKind := anchor.Kind == kind
	anchorFirst := anchor.kindRank() < rankOf(kind)

	if before {
		if sameKind {
			return fmt.Sprintf("%s < ? OR (%s = ? AND %s < ?)", col, col, idCol), []any{epoch, epoch, anchor.RowID()}
		}
		if anchorFirst {
			// Rows of this kind at the anchor epoch sort after the anchor.
			return col + " < ?", []any{epoch}
		}
		return col + " <= ?", []any{epoch}
	}

	if sameKind {
		return fmt.Sprintf("%s > ? OR (%s = ? AND %s > ?)", col, col, idCol), []any{epoch, epoch, anchor.RowID()}
	}
	if anchorFirst {
		return col + " >= ?", []any{epoch}
	}
	return col + " > ?", []any{epoch}
}

func rankOf(kind string) int {
	if kind == kindSummary {
		return 1
	}
	return 0
}
