package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedTask blocks each invocation until released, recording start order
// and peak concurrency.
type gatedTask struct {
	mu      sync.Mutex
	order   []int64
	runs    map[int64]int
	gates   map[int64]chan struct{}
	conc    int
	maxConc int
}

func newGatedTask() *gatedTask {
	return &gatedTask{runs: make(map[int64]int), gates: make(map[int64]chan struct{})}
}

func (g *gatedTask) run(ctx context.Context, id int64) {
	g.mu.Lock()
	g.order = append(g.order, id)
	g.runs[id]++
	g.conc++
	if g.conc > g.maxConc {
		g.maxConc = g.conc
	}
	gate, ok := g.gates[id]
	g.mu.Unlock()

	if ok {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}

	g.mu.Lock()
	g.conc--
	g.mu.Unlock()
}

// gate registers a blocking gate for a session. Must be called before the
// session is kicked.
func (g *gatedTask) gate(id int64) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := make(chan struct{})
	g.gates[id] = ch
	return ch
}

func (g *gatedTask) runCount(id int64) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.runs[id]
}

func (g *gatedTask) startOrder() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int64(nil), g.order...)
}

func (g *gatedTask) peakConcurrency() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxConc
}

func shutdownNow(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestKickStartsOneTaskPerSession(t *testing.T) {
	task := newGatedTask()
	gate := task.gate(1)
	s := New(task.run, 3)
	defer shutdownNow(t, s)

	s.Kick(1, 100)
	require.Eventually(t, func() bool { return s.ActiveCount() == 1 }, time.Second, 5*time.Millisecond)

	// Duplicate kicks while running must not start a second task.
	s.Kick(1, 101)
	s.Kick(1, 102)
	assert.Equal(t, 1, s.ActiveCount())
	assert.Equal(t, []int64{1}, s.ActiveSessions())

	close(gate)
	require.Eventually(t, func() bool { return s.ActiveCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, task.peakConcurrency())
}

func TestKickDuringDrainRunsTaskAgain(t *testing.T) {
	task := newGatedTask()
	gate := task.gate(7)
	s := New(task.run, 1)
	defer shutdownNow(t, s)

	s.Kick(7, 100)
	require.Eventually(t, func() bool { return task.runCount(7) == 1 }, time.Second, 5*time.Millisecond)

	// This kick lands while the task is mid-run. After the current pass
	// finishes the task must go around once more to pick up the message
	// that may have been enqueued after its last claim.
	s.Kick(7, 200)
	close(gate)

	require.Eventually(t, func() bool { return task.runCount(7) == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.ActiveCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestConcurrencyCap(t *testing.T) {
	task := newGatedTask()
	g1, g2 := task.gate(1), task.gate(2)
	task.gate(3)
	s := New(task.run, 2)
	defer shutdownNow(t, s)

	s.Kick(1, 100)
	s.Kick(2, 200)
	require.Eventually(t, func() bool { return s.ActiveCount() == 2 }, time.Second, 5*time.Millisecond)

	s.Kick(3, 300)
	assert.Equal(t, 2, s.ActiveCount())
	assert.Equal(t, 1, s.WaitingCount())
	assert.Zero(t, task.runCount(3))

	close(g1)
	require.Eventually(t, func() bool { return task.runCount(3) == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, s.WaitingCount())
	assert.LessOrEqual(t, task.peakConcurrency(), 2)
	close(g2)
}

func TestOldestWaiterPromotedFirst(t *testing.T) {
	task := newGatedTask()
	g1 := task.gate(1)
	task.gate(2)
	task.gate(3)
	s := New(task.run, 1)
	defer shutdownNow(t, s)

	s.Kick(1, 100)
	require.Eventually(t, func() bool { return s.ActiveCount() == 1 }, time.Second, 5*time.Millisecond)

	// Session 3 kicked first but session 2 carries the older backlog.
	s.Kick(3, 300)
	s.Kick(2, 200)
	require.Equal(t, 2, s.WaitingCount())

	close(g1)
	require.Eventually(t, func() bool { return task.runCount(2)+task.runCount(3) > 0 }, time.Second, 5*time.Millisecond)
	order := task.startOrder()
	require.GreaterOrEqual(t, len(order), 2)
	assert.Equal(t, int64(2), order[1], "older backlog should win the freed slot")
}

func TestWaiterKeepsEarliestEpoch(t *testing.T) {
	task := newGatedTask()
	g1 := task.gate(1)
	task.gate(2)
	task.gate(3)
	s := New(task.run, 1)
	defer shutdownNow(t, s)

	s.Kick(1, 100)
	require.Eventually(t, func() bool { return s.ActiveCount() == 1 }, time.Second, 5*time.Millisecond)

	s.Kick(2, 500)
	s.Kick(3, 400)
	// A later kick for session 2 must not push it behind session 3.
	s.Kick(2, 300)
	require.Equal(t, 2, s.WaitingCount())

	close(g1)
	require.Eventually(t, func() bool { return task.runCount(2)+task.runCount(3) > 0 }, time.Second, 5*time.Millisecond)
	order := task.startOrder()
	require.GreaterOrEqual(t, len(order), 2)
	assert.Equal(t, int64(2), order[1])
}

func TestAbortCancelsRunningTask(t *testing.T) {
	task := newGatedTask()
	task.gate(5) // never released; only ctx cancellation can free it
	s := New(task.run, 1)
	defer shutdownNow(t, s)

	s.Kick(5, 100)
	require.Eventually(t, func() bool { return s.ActiveCount() == 1 }, time.Second, 5*time.Millisecond)

	assert.True(t, s.Abort(5))
	require.Eventually(t, func() bool { return s.ActiveCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, task.runCount(5))

	// Nothing left to abort.
	assert.False(t, s.Abort(5))
}

func TestAbortRemovesWaiter(t *testing.T) {
	task := newGatedTask()
	g1 := task.gate(1)
	s := New(task.run, 1)
	defer shutdownNow(t, s)

	s.Kick(1, 100)
	require.Eventually(t, func() bool { return s.ActiveCount() == 1 }, time.Second, 5*time.Millisecond)

	s.Kick(2, 200)
	require.Equal(t, 1, s.WaitingCount())
	assert.True(t, s.Abort(2))
	assert.Zero(t, s.WaitingCount())

	close(g1)
	require.Eventually(t, func() bool { return s.ActiveCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, task.runCount(2))
}

func TestShutdownCancelsTasksAndDropsKicks(t *testing.T) {
	task := newGatedTask()
	task.gate(1) // blocks until ctx cancellation
	s := New(task.run, 2)

	s.Kick(1, 100)
	require.Eventually(t, func() bool { return s.ActiveCount() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.Zero(t, s.ActiveCount())

	s.Kick(2, 200)
	assert.Zero(t, s.ActiveCount())
	assert.Zero(t, s.WaitingCount())
}
