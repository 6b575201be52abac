package vector

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dotcommander/codexmem/internal/models"
)

const (
	syncWorkers   = 4
	syncQueueSize = 256
	syncTimeout   = 45 * time.Second
)

type syncJob struct {
	kind     models.VectorKind
	id       int64
	text     string
	metadata map[string]string
}

// Writer mirrors committed records into the vector index asynchronously. The
// SQLite commit is the source of truth; indexing happens after the fact on a
// bounded worker pool and a full queue drops the job rather than blocking the
// caller. Dropped records are only missing from the accelerator, never from
// the store.
type Writer struct {
	ix   *Index
	jobs chan syncJob
	wg   sync.WaitGroup

	closeOnce sync.Once
}

// NewWriter starts the sync pool. A nil index produces a writer whose
// enqueue methods are no-ops.
func NewWriter(ix *Index) *Writer {
	w := &Writer{ix: ix}
	if ix == nil {
		return w
	}
	w.jobs = make(chan syncJob, syncQueueSize)
	for i := 0; i < syncWorkers; i++ {
		w.wg.Add(1)
		go w.run()
	}
	return w
}

func (w *Writer) run() {
	defer w.wg.Done()
	for job := range w.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		err := w.ix.Add(ctx, job.kind, job.id, job.text, job.metadata)
		cancel()
		if err != nil {
			slog.Debug("vector sync failed", "kind", job.kind, "id", job.id, "error", err)
		}
	}
}

func (w *Writer) enqueue(job syncJob) {
	if w == nil || w.jobs == nil || strings.TrimSpace(job.text) == "" {
		return
	}
	select {
	case w.jobs <- job:
	default:
		slog.Debug("vector sync queue full, dropping", "kind", job.kind, "id", job.id)
	}
}

// ObservationStored schedules an observation for indexing.
func (w *Writer) ObservationStored(obs models.Observation) {
	w.enqueue(syncJob{
		kind: models.VectorKindObservation,
		id:   obs.ID,
		text: observationText(obs),
		metadata: map[string]string{
			"project": obs.Project,
			"type":    string(obs.Type),
			"epoch":   strconv.FormatInt(obs.CreatedAtEpoch, 10),
		},
	})
}

// SummaryStored schedules a summary for indexing. Summaries are upserted per
// session, so re-indexing under the same id replaces the prior vector.
func (w *Writer) SummaryStored(sum models.Summary) {
	w.enqueue(syncJob{
		kind: models.VectorKindSummary,
		id:   sum.ID,
		text: summaryText(sum),
		metadata: map[string]string{
			"project": sum.Project,
			"epoch":   strconv.FormatInt(sum.CreatedAtEpoch, 10),
		},
	})
}

// PromptStored schedules a user prompt for indexing.
func (w *Writer) PromptStored(p models.UserPrompt, project string) {
	w.enqueue(syncJob{
		kind: models.VectorKindPrompt,
		id:   p.ID,
		text: p.PromptText,
		metadata: map[string]string{
			"project": project,
			"epoch":   strconv.FormatInt(p.CreatedAtEpoch, 10),
		},
	})
}

// Close drains outstanding jobs and stops the workers.
func (w *Writer) Close() {
	if w == nil || w.jobs == nil {
		return
	}
	w.closeOnce.Do(func() {
		close(w.jobs)
		w.wg.Wait()
	})
}

func observationText(obs models.Observation) string {
	parts := make([]string, 0, 4)
	for _, s := range []string{obs.Title, obs.Subtitle, obs.Narrative} {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	if len(obs.Facts) > 0 {
		parts = append(parts, strings.Join(obs.Facts, " "))
	}
	return strings.Join(parts, "\n")
}

func summaryText(sum models.Summary) string {
	parts := make([]string, 0, 6)
	for _, s := range []string{sum.Request, sum.Investigated, sum.Learned, sum.Completed, sum.NextSteps, sum.Notes} {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}
