// Package query answers search, timeline, and context-assembly requests.
// Results for search and timeline are rendered as compact markdown index
// tables: enough to decide which records matter, cheap enough to put in
// front of a model. Full records come from GetObservations afterwards.
package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dotcommander/codexmem/internal/models"
	"github.com/dotcommander/codexmem/internal/store"
	"github.com/dotcommander/codexmem/internal/vector"
)

// Result kinds accepted by Search.
const (
	KindObservations = "observations"
	KindSummaries    = "summaries"
	KindPrompts      = "prompts"
	KindAll          = "all"
)

// Engine runs queries against the store, consulting the vector index when
// one is attached. index may be nil; everything falls back to FTS.
type Engine struct {
	db    *sql.DB
	index *vector.Index
}

// New builds a query engine. index may be nil.
func New(db *sql.DB, index *vector.Index) *Engine {
	return &Engine{db: db, index: index}
}

// SearchParams mirrors the GET /search query surface.
type SearchParams struct {
	Query     string
	Kind      string // observations, summaries, prompts, or all
	Project   string
	ObsType   string
	Concept   string
	FilePath  string
	DateStart int64
	DateEnd   int64
	OrderBy   string
	Limit     int
	Offset    int
}

func (p SearchParams) filter() store.Filter {
	return store.Filter{
		Project:   p.Project,
		Type:      p.ObsType,
		Concept:   p.Concept,
		FilePath:  p.FilePath,
		DateStart: p.DateStart,
		DateEnd:   p.DateEnd,
	}
}

// SearchResult is a rendered index of matching records.
type SearchResult struct {
	Text    string `json:"text"`
	Count   int    `json:"count"`
	HasMore bool   `json:"has_more"`
}

// Search runs full-text search over the requested kinds and renders a
// markdown index table per kind. The text ends with the fetch contract:
// callers narrow here first, then pull full records by id.
func (e *Engine) Search(ctx context.Context, p SearchParams) (*SearchResult, error) {
	if strings.TrimSpace(p.Query) == "" {
		return nil, errors.New("query is required")
	}
	kind := normalizeKind(p.Kind)
	if kind == "" {
		return nil, fmt.Errorf("unknown search kind %q", p.Kind)
	}
	filter := p.filter()

	var (
		observations []models.Observation
		summaries    []models.Summary
		prompts      []models.UserPrompt
		hasMore      bool
		err          error
		more         bool
	)

	if kind == KindAll || kind == KindObservations {
		observations, more, err = store.SearchObservations(e.db, p.Query, filter, p.Offset, p.Limit)
		if err != nil {
			return nil, err
		}
		hasMore = hasMore || more
	}
	if kind == KindAll || kind == KindSummaries {
		summaries, more, err = store.SearchSummaries(e.db, p.Query, filter, p.Offset, p.Limit)
		if err != nil {
			return nil, err
		}
		hasMore = hasMore || more
	}
	if kind == KindAll || kind == KindPrompts {
		prompts, more, err = store.SearchUserPrompts(e.db, p.Query, filter, p.Offset, p.Limit)
		if err != nil {
			return nil, err
		}
		hasMore = hasMore || more
	}

	count := len(observations) + len(summaries) + len(prompts)
	return &SearchResult{
		Text:    renderSearch(p.Query, observations, summaries, prompts),
		Count:   count,
		HasMore: hasMore,
	}, nil
}

// PromptSearchResult carries prompt hits plus which backend produced them.
type PromptSearchResult struct {
	Text   string `json:"text"`
	Count  int    `json:"count"`
	Source string `json:"source"` // "vector" or "sqlite"
}

// SearchPrompts searches user prompts, semantic index first. An empty or
// failed vector pass falls through to FTS transparently; the result is
// marked source=sqlite so callers can tell ranking quality apart.
func (e *Engine) SearchPrompts(ctx context.Context, p SearchParams) (*PromptSearchResult, error) {
	if strings.TrimSpace(p.Query) == "" {
		return nil, errors.New("query is required")
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	if prompts, ok := e.promptVectorPass(ctx, p, limit); ok {
		return &PromptSearchResult{
			Text:   renderPromptSearch(p.Query, prompts, "vector"),
			Count:  len(prompts),
			Source: "vector",
		}, nil
	}

	prompts, _, err := store.SearchUserPrompts(e.db, p.Query, p.filter(), p.Offset, limit)
	if err != nil {
		return nil, err
	}
	return &PromptSearchResult{
		Text:   renderPromptSearch(p.Query, prompts, "sqlite"),
		Count:  len(prompts),
		Source: "sqlite",
	}, nil
}

// promptVectorPass returns vector hits resolved to prompt rows, and whether
// the pass produced anything usable.
func (e *Engine) promptVectorPass(ctx context.Context, p SearchParams, limit int) ([]models.UserPrompt, bool) {
	if !e.index.Enabled() || e.index.Count(models.VectorKindPrompt) == 0 {
		return nil, false
	}
	var where map[string]string
	if p.Project != "" {
		where = map[string]string{"project": p.Project}
	}
	hits, err := e.index.Search(ctx, models.VectorKindPrompt, p.Query, limit, where)
	if err != nil {
		slog.Warn("prompt vector search failed, falling back to fts", "error", err)
		return nil, false
	}
	if len(hits) == 0 {
		return nil, false
	}

	prompts := make([]models.UserPrompt, 0, len(hits))
	for _, hit := range hits {
		prompt, err := store.GetPromptByID(e.db, hit.ID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				slog.Warn("prompt row missing for vector hit", "id", hit.ID, "error", err)
			}
			continue
		}
		prompts = append(prompts, *prompt)
	}
	return prompts, len(prompts) > 0
}

// TimelineParams selects a chronological window. Anchor takes precedence;
// with only Query set the best full-text match becomes the anchor.
type TimelineParams struct {
	Anchor      int64
	Query       string
	Project     string
	DepthBefore int
	DepthAfter  int
}

// Timeline renders the window around an anchor observation or summary.
func (e *Engine) Timeline(ctx context.Context, p TimelineParams) (*SearchResult, error) {
	anchor := p.Anchor
	if anchor == 0 {
		if strings.TrimSpace(p.Query) == "" {
			return nil, errors.New("anchor id or query is required")
		}
		hits, _, err := store.SearchObservations(e.db, p.Query, store.Filter{Project: p.Project}, 0, 1)
		if err != nil {
			return nil, err
		}
		if len(hits) == 0 {
			return &SearchResult{Text: fmt.Sprintf("No observation matches %q.", p.Query)}, nil
		}
		anchor = hits[0].ID
	}

	tl, err := store.GetTimeline(e.db, anchor, p.DepthBefore, p.DepthAfter, p.Project)
	if err != nil {
		return nil, err
	}
	return &SearchResult{
		Text:  renderTimeline(tl),
		Count: len(tl.Items),
	}, nil
}

// GetObservations fetches full records by id, preserving request order, and
// renders them for model consumption.
func (e *Engine) GetObservations(ctx context.Context, ids []int64) ([]models.Observation, string, error) {
	if len(ids) == 0 {
		return nil, "", errors.New("ids are required")
	}
	rows, err := store.GetObservationsByIDs(e.db, ids)
	if err != nil {
		return nil, "", err
	}
	return rows, renderFullObservations(rows), nil
}

func normalizeKind(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindAll:
		return KindAll
	case KindObservations, "observation":
		return KindObservations
	case KindSummaries, "summary":
		return KindSummaries
	case KindPrompts, "prompt":
		return KindPrompts
	default:
		return ""
	}
}
