package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobpulse/scraper-agent/internal/models"
	"github.com/jobpulse/scraper-agent/internal/storage"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(":memory:")
	require.NoError(t, err)
	require.NoError(t, repo.Migrate())
	t.Cleanup(func() { repo.Close() })
	return repo
}

func createTestConfig(t *testing.T, repo *Repository, name string, nextRun *time.Time) *models.ScheduleConfig {
	t.Helper()
	cfg := &models.ScheduleConfig{
		Name:       name,
		Source:     "indeed",
		SearchTerm: "golang",
		MaxResults: 25,
		Cadence:    models.CadenceHourly,
		Enabled:    true,
		NextRun:    nextRun,
	}
	require.NoError(t, repo.CreateConfig(context.Background(), cfg))
	return cfg
}

func TestClaimConfigWinsOnce(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	due := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	cfg := createTestConfig(t, repo, "claim-once", &due)

	claimed, err := repo.ClaimConfig(ctx, cfg.ID, due)
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second claim against the same observed next_run must lose
	claimed, err = repo.ClaimConfig(ctx, cfg.ID, due)
	require.NoError(t, err)
	assert.False(t, claimed)

	// The stored next_run is now the sentinel
	got, err := repo.GetConfigByID(ctx, cfg.ID)
	require.NoError(t, err)
	assert.True(t, got.Claimed())
}

func TestListDueConfigsExcludesClaimedAndDisabled(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := createTestConfig(t, repo, "due", &past)
	createTestConfig(t, repo, "not-yet", &future)
	createTestConfig(t, repo, "no-schedule", nil)

	claimedCfg := createTestConfig(t, repo, "mid-claim", &past)
	_, err := repo.ClaimConfig(ctx, claimedCfg.ID, past)
	require.NoError(t, err)

	disabled := createTestConfig(t, repo, "disabled", &past)
	require.NoError(t, repo.SetConfigEnabled(ctx, disabled.ID, false))

	got, err := repo.ListDueConfigs(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)
}

func TestSetConfigEnabledPreservesNextRun(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	next := time.Now().Add(30 * time.Minute).UTC().Truncate(time.Second)
	cfg := createTestConfig(t, repo, "toggle", &next)

	require.NoError(t, repo.SetConfigEnabled(ctx, cfg.ID, false))
	require.NoError(t, repo.SetConfigEnabled(ctx, cfg.ID, true))

	got, err := repo.GetConfigByID(ctx, cfg.ID)
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	require.NotNil(t, got.NextRun)
	assert.True(t, got.NextRun.Equal(next), "next_run must survive toggling, got %v want %v", got.NextRun, next)
}

func TestSetConfigScheduleClearsNextRun(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	next := time.Now().UTC()
	cfg := createTestConfig(t, repo, "manual-cadence", &next)

	last := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.SetConfigSchedule(ctx, cfg.ID, &last, nil))

	got, err := repo.GetConfigByID(ctx, cfg.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRun)
	assert.Nil(t, got.NextRun)
}

func TestDeleteConfigKeepsJobs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	cfg := createTestConfig(t, repo, "doomed", nil)
	job := &models.Job{
		ID:       "job-1",
		ConfigID: &cfg.ID,
		Source:   "indeed",
		State:    models.JobStateCompleted,
	}
	require.NoError(t, repo.CreateJob(ctx, job))

	require.NoError(t, repo.DeleteConfig(ctx, cfg.ID))

	_, err := repo.GetConfigByID(ctx, cfg.ID)
	require.Error(t, err)

	// The job outlives the config with its reference cleared
	got, err := repo.GetJobByID(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, got.ConfigID)
}

func TestUpdateJobStateWalksMachine(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	job := &models.Job{ID: "job-1", Source: "indeed", State: models.JobStateStarted}
	require.NoError(t, repo.CreateJob(ctx, job))

	require.NoError(t, repo.UpdateJobState(ctx, job, models.JobStateScraping))
	job.StatusMessage = "Stored 5 of 5 listings"
	job.JobsFound = 5
	job.JobsStored = 5
	require.NoError(t, repo.UpdateJobState(ctx, job, models.JobStateCompleted))

	got, err := repo.GetJobByID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCompleted, got.State)
	assert.Equal(t, 5, got.JobsStored)
	assert.NotNil(t, got.CompletedAt)
}

func TestUpdateJobStateRejectsInvalidTransition(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	job := &models.Job{ID: "job-1", Source: "indeed", State: models.JobStateStarted}
	require.NoError(t, repo.CreateJob(ctx, job))

	// started cannot jump straight to completed
	err := repo.UpdateJobState(ctx, job, models.JobStateCompleted)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStaleJobState))
}

func TestUpdateJobStateNeverOverwritesTerminal(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	job := &models.Job{ID: "job-1", Source: "indeed", State: models.JobStateStarted}
	require.NoError(t, repo.CreateJob(ctx, job))
	require.NoError(t, repo.UpdateJobState(ctx, job, models.JobStateScraping))
	require.NoError(t, repo.UpdateJobState(ctx, job, models.JobStateCompleted))

	// A stale writer still holding the scraping view loses the conditional
	// update and the stored terminal state survives.
	stale := &models.Job{ID: "job-1", State: models.JobStateScraping}
	err := repo.UpdateJobState(ctx, stale, models.JobStateFailed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStaleJobState))

	got, err := repo.GetJobByID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCompleted, got.State)
}

func TestCountJobsSince(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	jobs := []*models.Job{
		{ID: "a", Source: "indeed", State: models.JobStateCompleted, Scheduled: true},
		{ID: "b", Source: "indeed", State: models.JobStateCompleted},
		{ID: "c", Source: "indeed", State: models.JobStateFailed, Scheduled: true},
		{ID: "d", Source: "indeed", State: models.JobStateScraping},
	}
	for _, j := range jobs {
		require.NoError(t, repo.CreateJob(ctx, j))
	}

	stats, err := repo.CountJobsSince(ctx, time.Now().Add(-time.Hour).UTC())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Scheduled)
	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.InDelta(t, 66.66, stats.SuccessRate(), 0.1)
}

func TestAppendAndListLogs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	cfg := createTestConfig(t, repo, "audited", nil)
	for _, action := range []models.LogAction{models.LogActionCreated, models.LogActionTriggered, models.LogActionCompleted} {
		require.NoError(t, repo.AppendLog(ctx, &models.ScheduleLog{
			ConfigID: cfg.ID,
			Action:   action,
			Origin:   models.LogOriginSystem,
			Detail:   models.JSON{"note": string(action)},
		}))
	}

	logs, err := repo.ListLogs(ctx, cfg.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 3)

	// The JSON detail column round-trips
	seen := map[string]bool{}
	for _, l := range logs {
		seen[l.Detail["note"].(string)] = true
	}
	assert.True(t, seen["created"] && seen["triggered"] && seen["completed"])
}

func TestSessionRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	sess := &models.UserSession{
		SessionToken: "tok-1",
		LastActivity: time.Now().UTC(),
		TotalVisits:  1,
	}
	require.NoError(t, repo.CreateSession(ctx, sess))

	sess.TotalManualRefreshes = 3
	require.NoError(t, repo.SaveSession(ctx, sess))

	got, err := repo.GetSessionByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalManualRefreshes)

	_, err = repo.GetSessionByToken(ctx, "missing")
	require.Error(t, err)
}

func TestCountInteractionsSince(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.AppendInteraction(ctx, &models.UserInteraction{
			SessionToken: "tok-1",
			Action:       models.InteractionPageView,
		}))
	}
	require.NoError(t, repo.AppendInteraction(ctx, &models.UserInteraction{
		SessionToken: "tok-2",
		Action:       models.InteractionPageView,
	}))

	count, err := repo.CountInteractionsSince(ctx, "tok-1", time.Now().Add(-time.Minute).UTC())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSaveAndListListings(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	listings := []*models.Listing{
		{JobID: "job-1", Title: "Backend Engineer", RelevanceScore: 55},
		{JobID: "job-1", Title: "Senior Go Developer", RelevanceScore: 90},
		{JobID: "job-2", Title: "Unrelated", RelevanceScore: 10},
	}
	require.NoError(t, repo.SaveListings(ctx, listings))
	require.NoError(t, repo.SaveListings(ctx, nil)) // empty batch is a no-op

	got, err := repo.ListListings(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Highest relevance first
	assert.Equal(t, "Senior Go Developer", got[0].Title)
}

func TestListConfigsFilter(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	next1 := time.Now().Add(time.Hour).UTC()
	next2 := time.Now().Add(2 * time.Hour).UTC()
	createTestConfig(t, repo, "first", &next1)
	second := createTestConfig(t, repo, "second", &next2)
	require.NoError(t, repo.SetConfigEnabled(ctx, second.ID, false))

	enabled := true
	got, err := repo.ListConfigs(ctx, storage.ConfigFilter{Enabled: &enabled, OrderBy: "next_run"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "first", got[0].Name)

	total, enabledCount, err := repo.CountConfigs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, enabledCount)
}
