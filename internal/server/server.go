// Package server is the worker's HTTP+SSE frontend. It binds to loopback
// only: the clients are hooks and the search bridge on the same machine,
// never the network.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dotcommander/codexmem/internal/agent"
	"github.com/dotcommander/codexmem/internal/models"
	"github.com/dotcommander/codexmem/internal/query"
	"github.com/dotcommander/codexmem/internal/scheduler"
	"github.com/dotcommander/codexmem/internal/store"
)

// processingStatusInterval paces the processing_status SSE heartbeat while
// there is pending or active work.
const processingStatusInterval = 5 * time.Second

// Server wires the HTTP surface to the store, query engine, scheduler, and
// agent runner.
type Server struct {
	db        *sql.DB
	engine    *query.Engine
	runner    *agent.Runner
	sched     *scheduler.Scheduler
	broadcast *Broadcaster
	version   string
	startedAt time.Time

	httpSrv       *http.Server
	stopHeartbeat context.CancelFunc
}

// New assembles the server. broadcast must be the same Broadcaster the
// runner publishes through so SSE carries both HTTP-side and agent-side
// events.
func New(db *sql.DB, engine *query.Engine, runner *agent.Runner, sched *scheduler.Scheduler, broadcast *Broadcaster, version string) *Server {
	s := &Server{
		db:        db,
		engine:    engine,
		runner:    runner,
		sched:     sched,
		broadcast: broadcast,
		version:   version,
		startedAt: time.Now(),
	}
	return s
}

// Handler builds the gin router. Exposed separately so tests can drive it
// with httptest without binding a port.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", s.health)
	r.GET("/stats", s.stats)
	r.GET("/events", s.events)

	r.POST("/sessions/init", s.sessionInit)
	r.POST("/sessions/:id/init", s.sessionInitByID)
	r.POST("/sessions/observations", s.enqueueObservation)
	r.POST("/sessions/summarize", s.enqueueSummarize)
	r.DELETE("/sessions/:id", s.deleteSession)

	r.GET("/observations", s.listObservations)
	r.POST("/observations/batch", s.observationsBatch)
	r.GET("/summaries", s.listSummaries)
	r.GET("/prompts", s.listPrompts)

	r.GET("/search", s.search)
	r.GET("/search/prompts", s.searchPrompts)
	r.GET("/timeline", s.timeline)
	r.GET("/context", s.assembleContext)

	r.GET("/projects", s.listProjects)
	r.GET("/projects/diagnostics", s.projectDiagnostics)

	r.GET("/settings", s.getSettings)
	r.PUT("/settings", s.putSettings)
	r.GET("/ollama/models", s.ollamaModels)

	return r
}

// Serve binds the loopback listener and blocks until Shutdown. The
// processing_status heartbeat runs for the lifetime of the listener.
func (s *Server) Serve(host string, port int) error {
	hbCtx, cancel := context.WithCancel(context.Background())
	s.stopHeartbeat = cancel
	go s.heartbeat(hbCtx)

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("worker listening", "addr", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the heartbeat and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stopHeartbeat != nil {
		s.stopHeartbeat()
	}
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// heartbeat publishes processing_status while the queue is non-empty or
// agent tasks are running. Silent otherwise; idle sessions produce no SSE
// noise.
func (s *Server) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(processingStatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publishProcessingStatus()
		}
	}
}

func (s *Server) publishProcessingStatus() {
	total, err := store.CountPendingMessages(s.db, 0)
	if err != nil {
		slog.Warn("processing status: count pending failed", "error", err)
		return
	}
	active := s.sched.ActiveCount()
	if total == 0 && active == 0 {
		return
	}

	ageMs, _, err := store.OldestPendingAgeMs(s.db, time.Now())
	if err != nil {
		slog.Warn("processing status: oldest pending age failed", "error", err)
	}

	s.broadcast.Publish(models.BroadcastEvent{
		Type:               models.EventProcessingStatus,
		TotalPending:       total,
		OldestPendingAgeMs: ageMs,
		ActiveProviders:    s.runner.ActiveProviders(),
		ActiveSessions:     active,
	})
}

// requestLogger logs completed requests at debug level. The SSE endpoint is
// skipped: its "requests" last as long as the subscriber stays connected.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/events" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
