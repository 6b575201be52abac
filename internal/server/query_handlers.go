package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dotcommander/codexmem/internal/app"
	"github.com/dotcommander/codexmem/internal/ingest"
	"github.com/dotcommander/codexmem/internal/query"
	"github.com/dotcommander/codexmem/internal/store"
)

// contentBody wraps rendered text in the tool-content shape the search
// bridge passes through verbatim.
func contentBody(text string) []gin.H {
	return []gin.H{{"type": "text", "text": text}}
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func int64Query(c *gin.Context, name string) int64 {
	n, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// parseDateBound accepts epoch milliseconds or a YYYY-MM-DD day. Day values
// resolve to the start of day, or the end when end is true, so a single-day
// range covers the whole day.
func parseDateBound(raw string, end bool) int64 {
	if raw == "" {
		return 0
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ms
	}
	day, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
	if err != nil {
		return 0
	}
	if end {
		return day.Add(24*time.Hour).UnixMilli() - 1
	}
	return day.UnixMilli()
}

func searchParamsFromQuery(c *gin.Context) query.SearchParams {
	return query.SearchParams{
		Query:     c.Query("query"),
		Kind:      c.Query("type"),
		Project:   c.Query("project"),
		ObsType:   c.Query("obs_type"),
		Concept:   c.Query("concept"),
		FilePath:  c.Query("file"),
		DateStart: parseDateBound(c.Query("dateStart"), false),
		DateEnd:   parseDateBound(c.Query("dateEnd"), true),
		OrderBy:   c.Query("orderBy"),
		Limit:     intQuery(c, "limit", 0),
		Offset:    intQuery(c, "offset", 0),
	}
}

func (s *Server) search(c *gin.Context) {
	res, err := s.engine.Search(c.Request.Context(), searchParamsFromQuery(c))
	if err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"content": contentBody(res.Text),
		"count":   res.Count,
		"hasMore": res.HasMore,
	})
}

func (s *Server) searchPrompts(c *gin.Context) {
	res, err := s.engine.SearchPrompts(c.Request.Context(), searchParamsFromQuery(c))
	if err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"content": contentBody(res.Text),
		"count":   res.Count,
		"source":  res.Source,
	})
}

func (s *Server) timeline(c *gin.Context) {
	params := query.TimelineParams{
		Anchor:      int64Query(c, "anchor"),
		Query:       c.Query("query"),
		Project:     c.Query("project"),
		DepthBefore: intQuery(c, "depth_before", 5),
		DepthAfter:  intQuery(c, "depth_after", 5),
	}
	res, err := s.engine.Timeline(c.Request.Context(), params)
	if err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": contentBody(res.Text), "count": res.Count})
}

func (s *Server) assembleContext(c *gin.Context) {
	cfg := app.LoadConfig()
	opts := query.ContextOptionsFromConfig(cfg, c.Query("project"))
	if n := intQuery(c, "count", 0); n > 0 {
		opts.Count = n
	}

	text, err := s.engine.Context(c.Request.Context(), opts)
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"content": contentBody(text),
		"empty":   text == "",
	})
}

func listFilterFromQuery(c *gin.Context) store.Filter {
	return store.Filter{
		Project:   c.Query("project"),
		Type:      c.Query("obs_type"),
		Concept:   c.Query("concept"),
		FilePath:  c.Query("file"),
		DateStart: parseDateBound(c.Query("dateStart"), false),
		DateEnd:   parseDateBound(c.Query("dateEnd"), true),
	}
}

func (s *Server) listObservations(c *gin.Context) {
	rows, hasMore, err := store.GetObservationsPage(s.db, listFilterFromQuery(c),
		c.Query("orderBy"), intQuery(c, "offset", 0), intQuery(c, "limit", 0))
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"observations": rows, "hasMore": hasMore})
}

func (s *Server) listSummaries(c *gin.Context) {
	rows, hasMore, err := store.GetSummariesPage(s.db, listFilterFromQuery(c),
		intQuery(c, "offset", 0), intQuery(c, "limit", 0))
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summaries": rows, "hasMore": hasMore})
}

func (s *Server) listPrompts(c *gin.Context) {
	rows, hasMore, err := store.GetPromptsPage(s.db, listFilterFromQuery(c),
		intQuery(c, "offset", 0), intQuery(c, "limit", 0))
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prompts": rows, "hasMore": hasMore})
}

type batchRequest struct {
	IDs []int64 `json:"ids" binding:"required"`
}

func (s *Server) observationsBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}

	rows, text, err := s.engine.GetObservations(c.Request.Context(), req.IDs)
	if err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"observations": rows,
		"content":      contentBody(text),
	})
}

func (s *Server) listProjects(c *gin.Context) {
	counts, err := store.ListProjectCounts(s.db)
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": counts})
}

// projectDiagnostics reconciles what has been ingested against what the
// codex CLI has on disk, so a user can see at a glance which projects have
// history that never reached the store.
func (s *Server) projectDiagnostics(c *gin.Context) {
	ingested, err := store.ListProjects(s.db)
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}

	disc, err := ingest.DiscoverProjects(ingest.DefaultSessionsRoot())
	if err != nil {
		// A missing sessions directory is normal on machines that never ran
		// the codex CLI; report zero discovery rather than failing.
		disc = &ingest.Discovery{}
	}

	known := make(map[string]bool, len(ingested))
	for _, p := range ingested {
		known[p] = true
	}
	missing := make([]string, 0)
	for _, p := range disc.Projects {
		if !known[p] {
			missing = append(missing, p)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"ingestedProjects":          ingested,
		"discoveredSessionProjects": disc.Projects,
		"missingProjects":           missing,
		"missingCount":              len(missing),
		"scannedFiles":              disc.ScannedFiles,
		"lastScanEpochMs":           disc.ScannedAtEpochMs,
	})
}
