package store

import (
	"strings"
)

// Filter narrows search and page queries. Zero value matches everything.
type Filter struct {
	Project   string
	Type      string // observation type
	Concept   string
	FilePath  string
	SessionID int64 // session_db_id
	DateStart int64 // inclusive epoch ms
	DateEnd   int64 // inclusive epoch ms
}

// obsWhere builds the WHERE clause for observation queries, alias "o".
func (f Filter) obsWhere() (string, []any) {
	var conds []string
	var args []any
	if f.Project != "" {
		conds = append(conds, "o.project = ?")
		args = append(args, f.Project)
	}
	if f.Type != "" {
		conds = append(conds, "o.type = ?")
		args = append(args, f.Type)
	}
	if f.Concept != "" {
		// Concepts are stored as a JSON array; a quoted LIKE match avoids
		// hits on substrings of longer tags.
		conds = append(conds, "o.concepts LIKE ?")
		args = append(args, `%"`+escapeLike(f.Concept)+`"%`)
	}
	if f.FilePath != "" {
		conds = append(conds, "(o.files_read LIKE ? OR o.files_modified LIKE ?)")
		pat := "%" + escapeLike(f.FilePath) + "%"
		args = append(args, pat, pat)
	}
	if f.SessionID != 0 {
		conds = append(conds, "o.session_db_id = ?")
		args = append(args, f.SessionID)
	}
	conds, args = appendDateRange(conds, args, "o.created_at_epoch", f.DateStart, f.DateEnd)
	return joinWhere(conds), args
}

// summaryWhere builds the WHERE clause for summary queries, alias "m".
func (f Filter) summaryWhere() (string, []any) {
	var conds []string
	var args []any
	if f.Project != "" {
		conds = append(conds, "m.project = ?")
		args = append(args, f.Project)
	}
	if f.SessionID != 0 {
		conds = append(conds, "m.session_db_id = ?")
		args = append(args, f.SessionID)
	}
	conds, args = appendDateRange(conds, args, "m.created_at_epoch", f.DateStart, f.DateEnd)
	return joinWhere(conds), args
}

// promptWhere builds the WHERE clause for prompt queries, alias "p".
// Project filtering goes through the sessions table; prompts do not carry one.
func (f Filter) promptWhere() (string, []any) {
	var conds []string
	var args []any
	if f.Project != "" {
		conds = append(conds, "p.content_session_id IN (SELECT content_session_id FROM sessions WHERE project = ?)")
		args = append(args, f.Project)
	}
	conds, args = appendDateRange(conds, args, "p.created_at_epoch", f.DateStart, f.DateEnd)
	return joinWhere(conds), args
}

func appendDateRange(conds []string, args []any, column string, start, end int64) ([]string, []any) {
	if start > 0 {
		conds = append(conds, column+" >= ?")
		args = append(args, start)
	}
	if end > 0 {
		conds = append(conds, column+" <= ?")
		args = append(args, end)
	}
	return conds, args
}

func joinWhere(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// escapeLike drops % so user input cannot widen a LIKE pattern. _ is left
// alone: it wildcards a single character, which is harmless for filtering,
// and stripping it would break matches on snake_case paths.
func escapeLike(s string) string {
	return strings.ReplaceAll(s, "%", "")
}
