package store

import (
	"database/sql"
	"fmt"
)

// Stats is a cheap point-in-time census of the store, served by the HTTP
// stats endpoint and the doctor command.
type Stats struct {
	Sessions        int64 `json:"sessions"`
	UserPrompts     int64 `json:"user_prompts"`
	Observations    int64 `json:"observations"`
	Summaries       int64 `json:"summaries"`
	PendingMessages int64 `json:"pending_messages"`
	Projects        int64 `json:"projects"`
	TokensUsed      int64 `json:"tokens_used"`
	DBSizeBytes     int64 `json:"db_size_bytes"`
}

// GetStats scans row counts and token totals across all tables.
func GetStats(db *sql.DB) (*Stats, error) {
	stats := &Stats{}

	counts := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM sessions`, &stats.Sessions},
		{`SELECT COUNT(*) FROM user_prompts`, &stats.UserPrompts},
		{`SELECT COUNT(*) FROM observations`, &stats.Observations},
		{`SELECT COUNT(*) FROM summaries`, &stats.Summaries},
		{`SELECT COUNT(*) FROM pending_messages`, &stats.PendingMessages},
		{`SELECT COUNT(DISTINCT project) FROM sessions`, &stats.Projects},
	}
	for _, c := range counts {
		if err := db.QueryRow(c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("stats count: %w", err)
		}
	}

	var obsTokens, sumTokens sql.NullInt64
	if err := db.QueryRow(`SELECT SUM(tokens_used) FROM observations`).Scan(&obsTokens); err != nil {
		return nil, fmt.Errorf("stats observation tokens: %w", err)
	}
	if err := db.QueryRow(`SELECT SUM(tokens_used) FROM summaries`).Scan(&sumTokens); err != nil {
		return nil, fmt.Errorf("stats summary tokens: %w", err)
	}
	stats.TokensUsed = obsTokens.Int64 + sumTokens.Int64

	var pageCount, pageSize int64
	if err := db.QueryRow(`PRAGMA page_count`).Scan(&pageCount); err == nil {
		if err := db.QueryRow(`PRAGMA page_size`).Scan(&pageSize); err == nil {
			stats.DBSizeBytes = pageCount * pageSize
		}
	}

	return stats, nil
}
