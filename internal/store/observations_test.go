package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/codexmem/internal/models"
)

func TestStoreObservations_BatchWithSummary(t *testing.T) {
	db := newTestDB(t)
	sess := newTestSession(t, db, "obs-batch")

	result, err := StoreObservations(db, sess.ID, "mem-1", "testproj", []models.ParsedObservation{
		{Type: models.ObservationDiscovery, Title: "found the config loader", Concepts: []string{"config"}},
		{Type: models.ObservationBugfix, Title: "fixed nil deref", FilesModified: []string{"internal/app/config.go"}},
	}, &models.ParsedSummary{Request: "fix startup crash", Completed: "patched loader"}, 0)
	require.NoError(t, err)
	require.Len(t, result.ObservationIDs, 2)
	require.NotZero(t, result.SummaryID)
	require.NotZero(t, result.CreatedAtEpoch)

	obs, err := GetObservationsByIDs(db, result.ObservationIDs)
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.Equal(t, "found the config loader", obs[0].Title)
	assert.Equal(t, []string{"config"}, obs[0].Concepts)
	assert.Equal(t, []string{"internal/app/config.go"}, obs[1].FilesModified)

	summary, err := GetSummaryBySession(db, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "fix startup crash", summary.Request)
}

func TestStoreObservations_PreservesBatchEpoch(t *testing.T) {
	db := newTestDB(t)
	sess := newTestSession(t, db, "obs-epoch")

	// Backlog processing: the enqueue time of the oldest contributing message
	// becomes created_at_epoch, not the processing time.
	const enqueueEpoch = int64(1700000000000)
	result, err := StoreObservations(db, sess.ID, "mem-1", "testproj", []models.ParsedObservation{
		{Type: models.ObservationChange, Title: "renamed handler"},
	}, &models.ParsedSummary{Request: "rename"}, enqueueEpoch)
	require.NoError(t, err)
	assert.Equal(t, enqueueEpoch, result.CreatedAtEpoch)

	obs, err := GetObservationsByIDs(db, result.ObservationIDs)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, enqueueEpoch, obs[0].CreatedAtEpoch)

	summary, err := GetSummaryBySession(db, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, enqueueEpoch, summary.CreatedAtEpoch)
}

func TestStoreObservations_SummaryUpsertKeepsRowID(t *testing.T) {
	db := newTestDB(t)
	sess := newTestSession(t, db, "obs-upsert")

	first, err := StoreObservations(db, sess.ID, "mem-1", "testproj", nil,
		&models.ParsedSummary{Request: "initial request"}, 0)
	require.NoError(t, err)

	second, err := StoreObservations(db, sess.ID, "mem-1", "testproj", nil,
		&models.ParsedSummary{Request: "revised request", Completed: "more work"}, 0)
	require.NoError(t, err)

	// One summary row per session; replacement keeps the id stable so
	// timeline anchors survive re-summarisation.
	assert.Equal(t, first.SummaryID, second.SummaryID)

	summary, err := GetSummaryBySession(db, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "revised request", summary.Request)
	assert.Equal(t, "more work", summary.Completed)
}

func TestStoreObservations_AtomicOnFailure(t *testing.T) {
	db := newTestDB(t)

	// Unknown session id violates the foreign key, so nothing from the batch
	// may survive.
	_, err := StoreObservations(db, 9999, "mem-x", "testproj", []models.ParsedObservation{
		{Type: models.ObservationDiscovery, Title: "should not persist"},
	}, &models.ParsedSummary{Request: "should not persist"}, 0)
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM observations`).Scan(&count))
	assert.Zero(t, count)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM summaries`).Scan(&count))
	assert.Zero(t, count)
}

func TestStoreObservations_RejectsEmptyCall(t *testing.T) {
	db := newTestDB(t)
	sess := newTestSession(t, db, "obs-empty")

	_, err := StoreObservations(db, sess.ID, "mem-1", "testproj", nil, nil, 0)
	require.Error(t, err)
}

func TestGetObservationsByIDs_PreservesRequestOrder(t *testing.T) {
	db := newTestDB(t)
	sess := newTestSession(t, db, "obs-order")

	result, err := StoreObservations(db, sess.ID, "mem-1", "testproj", []models.ParsedObservation{
		{Type: models.ObservationDiscovery, Title: "first"},
		{Type: models.ObservationDiscovery, Title: "second"},
		{Type: models.ObservationDiscovery, Title: "third"},
	}, nil, 0)
	require.NoError(t, err)

	ids := result.ObservationIDs
	reversed := []int64{ids[2], ids[0], ids[1]}
	obs, err := GetObservationsByIDs(db, reversed)
	require.NoError(t, err)
	require.Len(t, obs, 3)
	assert.Equal(t, "third", obs[0].Title)
	assert.Equal(t, "first", obs[1].Title)
	assert.Equal(t, "second", obs[2].Title)

	// Unknown ids are skipped without error.
	obs, err = GetObservationsByIDs(db, []int64{ids[0], 9999})
	require.NoError(t, err)
	require.Len(t, obs, 1)
}

func TestGetObservationsPage_Filters(t *testing.T) {
	db := newTestDB(t)
	sess := newTestSession(t, db, "obs-filters")

	_, err := StoreObservations(db, sess.ID, "mem-1", "testproj", []models.ParsedObservation{
		{Type: models.ObservationBugfix, Title: "queue fix", Concepts: []string{"queue", "retry"}, FilesModified: []string{"internal/store/queue.go"}},
		{Type: models.ObservationFeature, Title: "timeline feature", Concepts: []string{"timeline"}, FilesRead: []string{"internal/store/timeline.go"}},
	}, nil, 0)
	require.NoError(t, err)

	page, _, err := GetObservationsPage(db, Filter{Type: "bugfix"}, "date", 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "queue fix", page[0].Title)

	page, _, err = GetObservationsPage(db, Filter{Concept: "timeline"}, "date", 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "timeline feature", page[0].Title)

	// Concept filtering matches whole tags, not substrings.
	page, _, err = GetObservationsPage(db, Filter{Concept: "time"}, "date", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, page)

	page, _, err = GetObservationsPage(db, Filter{FilePath: "queue.go"}, "date", 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "queue fix", page[0].Title)

	page, _, err = GetObservationsPage(db, Filter{Project: "otherproj"}, "date", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestGetObservationsPage_DateOrdering(t *testing.T) {
	db := newTestDB(t)
	sess := newTestSession(t, db, "obs-dates")

	for i, epoch := range []int64{3000, 1000, 2000} {
		_, err := StoreObservations(db, sess.ID, "mem-1", "testproj", []models.ParsedObservation{
			{Type: models.ObservationDiscovery, Title: titleForEpoch(i)},
		}, nil, epoch)
		require.NoError(t, err)
	}

	page, _, err := GetObservationsPage(db, Filter{}, "date", 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, int64(3000), page[0].CreatedAtEpoch)
	assert.Equal(t, int64(1000), page[2].CreatedAtEpoch)

	page, _, err = GetObservationsPage(db, Filter{}, "date_asc", 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, int64(1000), page[0].CreatedAtEpoch)

	page, _, err = GetObservationsPage(db, Filter{DateStart: 1500, DateEnd: 2500}, "date", 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(2000), page[0].CreatedAtEpoch)
}

func titleForEpoch(i int) string {
	return []string{"newest", "oldest", "middle"}[i]
}
