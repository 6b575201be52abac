package vector

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/dotcommander/codexmem/internal/models"
)

// Collection names inside the chromem store. One per record kind.
const (
	collectionObservations = "observations"
	collectionSummaries    = "summaries"
	collectionPrompts      = "prompts"
)

// Index is a semantic accelerator over the authoritative SQLite store. It is
// optional end to end: a nil *Index is valid and every method degrades to a
// no-op or an empty result, so callers never branch on availability.
type Index struct {
	db    *chromem.DB
	embed chromem.EmbeddingFunc

	mu   sync.Mutex
	cols map[string]*chromem.Collection
}

// Hit is one similarity match, carrying the row id of the backing record.
type Hit struct {
	ID    int64
	Score float32
}

// Open loads (or creates) the persistent vector store under dir.
func Open(dir string, embedder *Embedder) (*Index, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open vector store %s: %w", dir, err)
	}
	return &Index{
		db:    db,
		embed: embedder.Func(),
		cols:  make(map[string]*chromem.Collection),
	}, nil
}

// OpenInMemory creates a non-persistent index, for tests and ephemeral runs.
func OpenInMemory(embed chromem.EmbeddingFunc) *Index {
	return &Index{
		db:    chromem.NewDB(),
		embed: embed,
		cols:  make(map[string]*chromem.Collection),
	}
}

// Enabled reports whether the index is present.
func (ix *Index) Enabled() bool { return ix != nil }

func collectionFor(kind models.VectorKind) string {
	switch kind {
	case models.VectorKindSummary:
		return collectionSummaries
	case models.VectorKindPrompt:
		return collectionPrompts
	default:
		return collectionObservations
	}
}

func (ix *Index) collection(kind models.VectorKind) (*chromem.Collection, error) {
	name := collectionFor(kind)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if col, ok := ix.cols[name]; ok {
		return col, nil
	}
	col, err := ix.db.GetOrCreateCollection(name, nil, ix.embed)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", name, err)
	}
	ix.cols[name] = col
	return col, nil
}

// Add embeds text and stores it under the record's row id. Metadata values
// must already be strings; chromem filters on exact string equality.
func (ix *Index) Add(ctx context.Context, kind models.VectorKind, id int64, text string, metadata map[string]string) error {
	if ix == nil {
		return nil
	}
	col, err := ix.collection(kind)
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:       strconv.FormatInt(id, 10),
		Content:  text,
		Metadata: metadata,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("index %s %d: %w", kind, id, err)
	}
	return nil
}

// Search embeds the query and returns up to topK nearest records. An empty
// collection returns an empty slice, not an error, so callers can fall back
// to full-text search uniformly.
func (ix *Index) Search(ctx context.Context, kind models.VectorKind, query string, topK int, where map[string]string) ([]Hit, error) {
	if ix == nil || topK <= 0 {
		return nil, nil
	}
	col, err := ix.collection(kind)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults > document count.
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	results, err := col.Query(ctx, query, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query %s: %w", kind, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		id, err := strconv.ParseInt(r.ID, 10, 64)
		if err != nil {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: r.Similarity})
	}
	return hits, nil
}

// Count returns the number of indexed records of the given kind.
func (ix *Index) Count(kind models.VectorKind) int {
	if ix == nil {
		return 0
	}
	col, err := ix.collection(kind)
	if err != nil {
		return 0
	}
	return col.Count()
}
