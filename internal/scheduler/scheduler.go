// Package scheduler runs at most one agent task per session and a bounded
// number of tasks overall. Sessions beyond the concurrency cap wait their
// turn; the longest-waiting session is promoted first.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// TaskFunc processes one session's pending queue until it drains or the
// context is canceled. It must not panic; errors are its own to report.
type TaskFunc func(ctx context.Context, sessionDBID int64)

type taskState struct {
	cancel context.CancelFunc
	// kicked records a Kick that arrived while the task was already
	// running. The task re-checks the queue before exiting so the kick is
	// never lost to the claim/exit race.
	kicked bool
}

// Scheduler owns the agent task lifecycle. Kick is the only way work
// starts: HTTP handlers kick after enqueueing, the worker kicks once at
// startup for sessions with leftover backlog.
type Scheduler struct {
	task TaskFunc
	cap  int

	mu     sync.Mutex
	active map[int64]*taskState
	// waiting maps session db id to its earliest kick epoch. Promotion
	// order is oldest epoch first, so a backlogged session cannot be
	// starved by a chatty newer one.
	waiting map[int64]int64
	closed  bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a scheduler around task with the given concurrency cap.
func New(task TaskFunc, maxConcurrent int) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		task:    task,
		cap:     maxConcurrent,
		active:  make(map[int64]*taskState),
		waiting: make(map[int64]int64),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Kick requests processing for a session. epoch is the enqueue time of the
// message that triggered the kick; it decides promotion order when the
// session has to wait for a slot. A kick for an already-running session
// marks it for a re-check instead of starting a second task.
func (s *Scheduler) Kick(sessionDBID int64, epoch int64) {
	if sessionDBID == 0 {
		return
	}
	if epoch <= 0 {
		epoch = time.Now().UnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if st, ok := s.active[sessionDBID]; ok {
		st.kicked = true
		return
	}
	if len(s.active) < s.cap {
		s.launch(sessionDBID)
		return
	}
	if prev, ok := s.waiting[sessionDBID]; !ok || epoch < prev {
		s.waiting[sessionDBID] = epoch
	}
}

// Abort cancels the session's running task and removes it from the wait
// list. Reports whether there was anything to abort.
func (s *Scheduler) Abort(sessionDBID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.active[sessionDBID]; ok {
		st.kicked = false
		st.cancel()
		return true
	}
	if _, ok := s.waiting[sessionDBID]; ok {
		delete(s.waiting, sessionDBID)
		return true
	}
	return false
}

// ActiveCount returns the number of running tasks.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// WaitingCount returns the number of sessions queued for a slot.
func (s *Scheduler) WaitingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiting)
}

// ActiveSessions returns the db ids of running tasks, sorted.
func (s *Scheduler) ActiveSessions() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Shutdown cancels every running task and waits for them to exit, or until
// ctx expires. New kicks are dropped once shutdown begins.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.waiting = make(map[int64]int64)
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// launch starts a task goroutine. Caller holds s.mu.
func (s *Scheduler) launch(sessionDBID int64) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.active[sessionDBID] = &taskState{cancel: cancel}
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		slog.Debug("session task started", "session_db_id", sessionDBID)
		for {
			s.task(ctx, sessionDBID)
			if s.tryExit(ctx, sessionDBID) {
				slog.Debug("session task finished", "session_db_id", sessionDBID)
				return
			}
			// A kick landed while the task was draining; go around once
			// more in case the new message arrived after the last claim.
		}
	}()
}

// tryExit decides, under the lock, whether a drained task may stop. It may
// not if a kick arrived mid-run and the scheduler is still live. On exit
// the slot is released and the oldest waiter promoted.
func (s *Scheduler) tryExit(ctx context.Context, sessionDBID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.active[sessionDBID]
	if st != nil && st.kicked && ctx.Err() == nil && !s.closed {
		st.kicked = false
		return false
	}
	if st != nil {
		st.cancel()
	}
	delete(s.active, sessionDBID)
	s.promote()
	return true
}

// promote moves the longest-waiting session into the freed slot. Caller
// holds s.mu.
func (s *Scheduler) promote() {
	if s.closed || len(s.waiting) == 0 || len(s.active) >= s.cap {
		return
	}

	var next, best int64
	for id, epoch := range s.waiting {
		if next == 0 || epoch < best || (epoch == best && id < next) {
			next, best = id, epoch
		}
	}
	delete(s.waiting, next)
	s.launch(next)
}
