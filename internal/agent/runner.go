package agent

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dotcommander/codexmem/internal/app"
	"github.com/dotcommander/codexmem/internal/models"
	"github.com/dotcommander/codexmem/internal/store"
	"github.com/dotcommander/codexmem/internal/vector"
)

// Diagnostics is the runner's health snapshot for the stats endpoint.
type Diagnostics struct {
	SessionsProcessed int64  `json:"sessions_processed"`
	SessionsFailed    int64  `json:"sessions_failed"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorAtEpoch  int64  `json:"last_error_at_epoch,omitempty"`
}

// Runner is the scheduler's task body: given a session row id, it builds the
// provider chain from current settings and drains that session's queue.
// Config is re-resolved per task so settings changes apply to the next
// session without a worker restart.
type Runner struct {
	db        *sql.DB
	vectors   *vector.Writer
	broadcast func(models.BroadcastEvent)

	mu     sync.Mutex
	active map[string]int
	diag   Diagnostics
}

// NewRunner wires the shared task environment. vectors and broadcast may be
// nil.
func NewRunner(db *sql.DB, vectors *vector.Writer, broadcast func(models.BroadcastEvent)) *Runner {
	return &Runner{
		db:        db,
		vectors:   vectors,
		broadcast: broadcast,
		active:    make(map[string]int),
	}
}

// ProcessSession runs one agent task to queue exhaustion. Errors are logged
// and recorded, never propagated: a failed session must not take down the
// worker or its siblings.
func (r *Runner) ProcessSession(ctx context.Context, sessionDBID int64) {
	rec, err := store.GetSessionByDBID(r.db, sessionDBID)
	if err != nil {
		r.recordFailure(err)
		slog.Error("agent task: session lookup failed", "session_db_id", sessionDBID, "error", err)
		return
	}

	cfg := app.LoadConfig()
	mode, err := LoadMode(cfg.Mode)
	if err != nil {
		slog.Warn("configured mode unavailable, using default", "mode", cfg.Mode, "error", err)
		mode = FallbackMode()
	}

	chain, err := NewChain(cfg)
	if err != nil {
		r.recordFailure(err)
		slog.Error("agent task: provider chain unavailable", "session", rec.ContentSessionID, "error", err)
		return
	}

	sess := NewSession(r.db, rec, mode, r.vectors, r.broadcast)
	if err := sess.EnsureMemorySessionID(); err != nil {
		r.recordFailure(err)
		slog.Error("agent task: memory session assignment failed", "session", rec.ContentSessionID, "error", err)
		return
	}

	r.trackProvider(chain.Primary.Name(), 1)
	defer r.trackProvider(chain.Primary.Name(), -1)

	start := time.Now()
	err = chain.Run(ctx, sess)
	switch {
	case err == nil:
		r.recordSuccess()
		slog.Info("agent task drained session queue",
			"session", rec.ContentSessionID,
			"processed", sess.Processed(),
			"elapsed", time.Since(start).Round(time.Millisecond))
	case errors.Is(err, context.Canceled):
		slog.Info("agent task aborted", "session", rec.ContentSessionID, "processed", sess.Processed())
	default:
		r.recordFailure(err)
		slog.Error("agent task failed", "session", rec.ContentSessionID,
			"processed", sess.Processed(), "error", err)
	}
}

func (r *Runner) trackProvider(name string, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[name] += delta
	if r.active[name] <= 0 {
		delete(r.active, name)
	}
}

// ActiveProviders lists providers with at least one running task, sorted for
// stable output.
func (r *Runner) ActiveProviders() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.active))
	for name := range r.active {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Runner) recordSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diag.SessionsProcessed++
}

func (r *Runner) recordFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diag.SessionsFailed++
	r.diag.LastError = err.Error()
	r.diag.LastErrorAtEpoch = time.Now().UnixMilli()
}

// Diagnostics returns a copy of the runner's counters.
func (r *Runner) Diagnostics() Diagnostics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.diag
}
