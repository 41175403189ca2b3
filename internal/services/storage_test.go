package services

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"qa-engine-jira/internal/common"
	"qa-engine-jira/internal/interfaces"
	"qa-engine-jira/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) interfaces.OutcomeStore {
	t.Helper()
	store, err := NewStorage(&common.StorageConfig{
		DatabasePath: filepath.Join(t.TempDir(), "qa-engine.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func finishedOutcome(jobID, issueKey string, finishedAt time.Time) *models.JobOutcome {
	return &models.JobOutcome{
		JobID:      jobID,
		IssueKey:   issueKey,
		Status:     models.JobStatusCompleted,
		StartedAt:  finishedAt.Add(-time.Minute),
		FinishedAt: finishedAt,
		Scenarios:  &models.ScenarioSet{Scenarios: []models.TestScenario{{ID: "S1", Title: "t"}}},
	}
}

func TestStorageSaveAndLoadOutcome(t *testing.T) {
	store := newTestStorage(t)

	outcome := finishedOutcome("job-1", "QA-101", time.Now())
	outcome.Warnings = []string{"scenarios comment failed: tracker"}
	require.NoError(t, store.SaveOutcome(outcome))

	loaded, err := store.LoadOutcome("job-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "QA-101", loaded.IssueKey)
	assert.Equal(t, models.JobStatusCompleted, loaded.Status)
	assert.Equal(t, outcome.Warnings, loaded.Warnings)
}

func TestStorageLoadMissingOutcome(t *testing.T) {
	store := newTestStorage(t)

	loaded, err := store.LoadOutcome("no-such-job")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStorageLoadRecentOutcomesNewestFirst(t *testing.T) {
	store := newTestStorage(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		outcome := finishedOutcome(fmt.Sprintf("job-%d", i), fmt.Sprintf("QA-%d", 100+i), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.SaveOutcome(outcome))
	}

	recent, err := store.LoadRecentOutcomes(3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "job-4", recent[0].JobID)
	assert.Equal(t, "job-3", recent[1].JobID)
	assert.Equal(t, "job-2", recent[2].JobID)
}

func TestStorageOrdersSubSecondFinishTimes(t *testing.T) {
	store := newTestStorage(t)

	// RFC3339Nano would render these as .5Z and .55Z, which sort backwards.
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveOutcome(finishedOutcome("job-older", "QA-101", base.Add(500*time.Millisecond))))
	require.NoError(t, store.SaveOutcome(finishedOutcome("job-newer", "QA-102", base.Add(550*time.Millisecond))))

	recent, err := store.LoadRecentOutcomes(1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "job-newer", recent[0].JobID)
}

func TestStorageLimitLargerThanStored(t *testing.T) {
	store := newTestStorage(t)

	require.NoError(t, store.SaveOutcome(finishedOutcome("job-1", "QA-101", time.Now())))

	recent, err := store.LoadRecentOutcomes(50)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}
