package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobpulse/scraper-agent/internal/engine"
	"github.com/jobpulse/scraper-agent/internal/models"
	"github.com/jobpulse/scraper-agent/internal/storage"
	"github.com/jobpulse/scraper-agent/pkg/logger"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeRepo implements the slice of storage.Repository the dispatcher touches.
// The embedded interface panics on anything else, which is exactly what we
// want from a test double.
type fakeRepo struct {
	storage.Repository

	due        []*models.ScheduleConfig
	claims     map[uint]bool // config id → claim outcome
	claimCalls []uint

	schedules []scheduleCall
	logs      []*models.ScheduleLog
	configs   []*models.ScheduleConfig
	stats     storage.JobStats
}

type scheduleCall struct {
	id      uint
	lastRun *time.Time
	nextRun *time.Time
}

func (f *fakeRepo) ListDueConfigs(_ context.Context, _ time.Time) ([]*models.ScheduleConfig, error) {
	return f.due, nil
}

func (f *fakeRepo) ClaimConfig(_ context.Context, id uint, _ time.Time) (bool, error) {
	f.claimCalls = append(f.claimCalls, id)
	if f.claims == nil {
		return true, nil
	}
	claimed, ok := f.claims[id]
	if !ok {
		return true, nil
	}
	return claimed, nil
}

func (f *fakeRepo) SetConfigSchedule(_ context.Context, id uint, lastRun, nextRun *time.Time) error {
	f.schedules = append(f.schedules, scheduleCall{id: id, lastRun: lastRun, nextRun: nextRun})
	return nil
}

func (f *fakeRepo) AppendLog(_ context.Context, entry *models.ScheduleLog) error {
	f.logs = append(f.logs, entry)
	return nil
}

func (f *fakeRepo) CountConfigs(_ context.Context) (int, int, error) {
	enabled := 0
	for _, c := range f.configs {
		if c.Enabled {
			enabled++
		}
	}
	return len(f.configs), enabled, nil
}

func (f *fakeRepo) CreateConfig(_ context.Context, cfg *models.ScheduleConfig) error {
	cfg.ID = uint(len(f.configs) + 1)
	f.configs = append(f.configs, cfg)
	return nil
}

func (f *fakeRepo) ListConfigs(_ context.Context, filter storage.ConfigFilter) ([]*models.ScheduleConfig, error) {
	var out []*models.ScheduleConfig
	for _, c := range f.configs {
		if filter.Enabled != nil && c.Enabled != *filter.Enabled {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeRepo) CountJobsSince(_ context.Context, _ time.Time) (storage.JobStats, error) {
	return f.stats, nil
}

// fakeRunner records requests and fails the sources listed in failSources
type fakeRunner struct {
	runs        []engine.JobRequest
	failSources map[string]error
}

func (f *fakeRunner) Run(_ context.Context, req engine.JobRequest) (*models.Job, error) {
	f.runs = append(f.runs, req)
	if err, ok := f.failSources[req.Source]; ok {
		return &models.Job{ID: "job-" + req.Source, State: models.JobStateFailed}, err
	}
	return &models.Job{ID: "job-" + req.Source, State: models.JobStateCompleted}, nil
}

func dueConfig(id uint, name, source string, nextRun time.Time) *models.ScheduleConfig {
	last := nextRun.Add(-time.Hour)
	return &models.ScheduleConfig{
		ID:         id,
		Name:       name,
		Source:     source,
		SearchTerm: "engineer",
		MaxResults: 25,
		Cadence:    models.CadenceHourly,
		Enabled:    true,
		LastRun:    &last,
		NextRun:    &nextRun,
	}
}

func newTestDispatcher(repo *fakeRepo, runner *fakeRunner) *Dispatcher {
	d := New(repo, runner, nil, 10*time.Minute, logger.Default())
	d.now = func() time.Time { return testNow }
	return d
}

func TestRunDueExecutesDueConfigs(t *testing.T) {
	repo := &fakeRepo{
		due: []*models.ScheduleConfig{
			dueConfig(1, "hourly-indeed", "indeed", testNow.Add(-time.Minute)),
			dueConfig(2, "hourly-rss", "weworkremotely", testNow.Add(-2*time.Minute)),
		},
	}
	runner := &fakeRunner{}
	d := newTestDispatcher(repo, runner)

	batch, err := d.RunDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, batch.Processed)
	assert.Equal(t, 2, batch.Succeeded)
	assert.Equal(t, 0, batch.Failed)
	assert.Equal(t, 0, batch.Skipped)

	// Every due config was claimed before running
	assert.Equal(t, []uint{1, 2}, repo.claimCalls)
	require.Len(t, runner.runs, 2)

	// Requests carry the config's parameters as a scheduled run
	req := runner.runs[0]
	assert.Equal(t, "indeed", req.Source)
	assert.True(t, req.Scheduled)
	require.NotNil(t, req.ConfigID)
	assert.Equal(t, uint(1), *req.ConfigID)
	assert.Equal(t, models.TriggerScheduled, req.Origin)
}

func TestRunDueSkipsConcurrentlyClaimed(t *testing.T) {
	repo := &fakeRepo{
		due: []*models.ScheduleConfig{
			dueConfig(1, "claimed-elsewhere", "indeed", testNow.Add(-time.Minute)),
			dueConfig(2, "free", "weworkremotely", testNow.Add(-time.Minute)),
		},
		claims: map[uint]bool{1: false, 2: true},
	}
	runner := &fakeRunner{}
	d := newTestDispatcher(repo, runner)

	batch, err := d.RunDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, batch.Skipped)
	assert.Equal(t, 1, batch.Succeeded)

	// The claimed config never reaches the runner
	require.Len(t, runner.runs, 1)
	assert.Equal(t, "weworkremotely", runner.runs[0].Source)
}

func TestRunDueFailureRestoresSchedule(t *testing.T) {
	cfg := dueConfig(7, "failing", "indeed", testNow.Add(-time.Minute))
	repo := &fakeRepo{due: []*models.ScheduleConfig{cfg}}
	runner := &fakeRunner{failSources: map[string]error{"indeed": errors.New("collector timeout")}}
	d := newTestDispatcher(repo, runner)

	batch, err := d.RunDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, batch.Failed)
	require.Len(t, batch.Results, 1)
	assert.Contains(t, batch.Results[0].Error, "collector timeout")

	// The claim sentinel must not stick: next_run is restored to a cooldown,
	// last_run stays at the previous successful run.
	require.Len(t, repo.schedules, 1)
	call := repo.schedules[0]
	assert.Equal(t, uint(7), call.id)
	assert.Equal(t, cfg.LastRun, call.lastRun)
	require.NotNil(t, call.nextRun)
	assert.Equal(t, testNow.Add(10*time.Minute), call.nextRun.UTC())
}

func TestRunDueOneFailureDoesNotAbortBatch(t *testing.T) {
	repo := &fakeRepo{
		due: []*models.ScheduleConfig{
			dueConfig(1, "bad", "indeed", testNow.Add(-time.Minute)),
			dueConfig(2, "good", "weworkremotely", testNow.Add(-time.Minute)),
		},
	}
	runner := &fakeRunner{failSources: map[string]error{"indeed": errors.New("boom")}}
	d := newTestDispatcher(repo, runner)

	batch, err := d.RunDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, batch.Failed)
	assert.Equal(t, 1, batch.Succeeded)
	assert.Len(t, runner.runs, 2)
}

func TestCheckDueDoesNotExecute(t *testing.T) {
	repo := &fakeRepo{
		due: []*models.ScheduleConfig{dueConfig(1, "due", "indeed", testNow.Add(-time.Minute))},
	}
	runner := &fakeRunner{}
	d := newTestDispatcher(repo, runner)

	due, err := d.CheckDue(context.Background())
	require.NoError(t, err)

	assert.Len(t, due, 1)
	assert.Empty(t, runner.runs)
	assert.Empty(t, repo.claimCalls)
}

func TestSnapshotAggregates(t *testing.T) {
	next := testNow.Add(30 * time.Minute)
	later := testNow.Add(2 * time.Hour)
	last := testNow.Add(-time.Hour)
	sentinel := models.ClaimSentinel

	repo := &fakeRepo{
		configs: []*models.ScheduleConfig{
			{ID: 1, Enabled: true, NextRun: &next, LastRun: &last},
			{ID: 2, Enabled: true, NextRun: &later},
			{ID: 3, Enabled: true, NextRun: &sentinel}, // mid-claim, excluded from next_run
			{ID: 4, Enabled: false},
		},
		stats: storage.JobStats{Total: 10, Completed: 8, Failed: 2},
	}
	d := newTestDispatcher(repo, &fakeRunner{})

	status, err := d.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, status.TotalConfigs)
	assert.Equal(t, 3, status.EnabledConfigs)
	assert.InDelta(t, 80.0, status.SuccessRate, 0.01)
	require.NotNil(t, status.NextRun)
	assert.Equal(t, next, *status.NextRun)
	require.NotNil(t, status.LastRun)
	assert.Equal(t, last, *status.LastRun)
}

func TestSeedDefaults(t *testing.T) {
	repo := &fakeRepo{}
	d := newTestDispatcher(repo, &fakeRunner{})

	created, err := d.SeedDefaults(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, created)
	assert.Len(t, repo.logs, 3)

	// Idempotent: a populated table is never re-seeded
	created, err = d.SeedDefaults(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.Len(t, repo.configs, 3)
}
