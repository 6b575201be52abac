package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/codexmem/internal/models"
)

func TestCreateOrGetSession_Idempotent(t *testing.T) {
	db := newTestDB(t)

	first, created, err := CreateOrGetSession(db, "content-1", "myproj", "fix the race", models.PlatformHostedAgent)
	require.NoError(t, err)
	require.True(t, created)
	require.NotZero(t, first.ID)
	assert.Equal(t, "myproj", first.Project)
	assert.Equal(t, "fix the race", first.InitialPrompt)

	// Same content session id returns the existing row unchanged.
	second, created, err := CreateOrGetSession(db, "content-1", "otherproj", "different prompt", models.PlatformCursor)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "myproj", second.Project)
	assert.Equal(t, "fix the race", second.InitialPrompt)
}

func TestCreateOrGetSession_Defaults(t *testing.T) {
	db := newTestDB(t)

	sess, _, err := CreateOrGetSession(db, "content-defaults", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, "unknown", sess.Project)
	assert.Equal(t, models.PlatformHostedAgent, sess.Platform)
}

func TestCreateOrGetSession_RequiresContentID(t *testing.T) {
	db := newTestDB(t)

	_, _, err := CreateOrGetSession(db, "", "proj", "", models.PlatformHostedAgent)
	require.Error(t, err)
}

func TestGetSessionByContentID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := GetSessionByContentID(db, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAssignMemorySessionID_WriteOnce(t *testing.T) {
	db := newTestDB(t)
	sess := newTestSession(t, db, "content-memory")

	require.NoError(t, AssignMemorySessionID(db, sess.ID, "mem-abc"))

	got, err := GetSessionByDBID(db, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "mem-abc", got.MemorySessionID)

	// Re-assigning the same id is a no-op.
	require.NoError(t, AssignMemorySessionID(db, sess.ID, "mem-abc"))

	// A different id is rejected.
	err = AssignMemorySessionID(db, sess.ID, "mem-other")
	assert.ErrorIs(t, err, ErrMemorySessionAssigned)

	// The stored id is unchanged.
	got, err = GetSessionByDBID(db, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "mem-abc", got.MemorySessionID)
}

func TestAssignMemorySessionID_UnknownSession(t *testing.T) {
	db := newTestDB(t)

	err := AssignMemorySessionID(db, 9999, "mem-x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListProjects_RecentFirst(t *testing.T) {
	db := newTestDB(t)

	alpha := newTestSession(t, db, "content-alpha")
	beta := newTestSession(t, db, "content-beta")
	_, err := db.Exec(`UPDATE sessions SET project = 'alpha', updated_at_epoch = 1000 WHERE id = ?`, alpha.ID)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE sessions SET project = 'beta', updated_at_epoch = 2000 WHERE id = ?`, beta.ID)
	require.NoError(t, err)

	projects, err := ListProjects(db)
	require.NoError(t, err)
	require.Equal(t, []string{"beta", "alpha"}, projects)
}

func TestListProjectCounts(t *testing.T) {
	db := newTestDB(t)

	a := newTestSession(t, db, "counts-a")
	b := newTestSession(t, db, "counts-b")
	_, err := StoreObservations(db, a.ID, "mem-a", "testproj", []models.ParsedObservation{
		{Type: models.ObservationDiscovery, Title: "one"},
		{Type: models.ObservationBugfix, Title: "two"},
	}, nil, 0)
	require.NoError(t, err)
	_, err = StoreObservations(db, b.ID, "mem-b", "testproj", []models.ParsedObservation{
		{Type: models.ObservationFeature, Title: "three"},
	}, &models.ParsedSummary{Request: "do things"}, 0)
	require.NoError(t, err)

	counts, err := ListProjectCounts(db)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, "testproj", counts[0].Project)
	assert.Equal(t, 2, counts[0].Sessions)
	assert.Equal(t, 3, counts[0].Observations)
	assert.Equal(t, 1, counts[0].Summaries)
}
