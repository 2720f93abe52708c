package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobpulse/scraper-agent/internal/activity"
	"github.com/jobpulse/scraper-agent/internal/models"
	"github.com/jobpulse/scraper-agent/pkg/logger"
)

var pollerNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeFetcher fails the first failures calls, then succeeds
type fakeFetcher struct {
	calls    int
	failures int
}

func (f *fakeFetcher) Fetch(_ context.Context) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("dashboard unreachable")
	}
	return nil
}

// fakeAPI records tracked interactions and serves a fixed plan
type fakeAPI struct {
	tracked []models.InteractionType
	plan    activity.RefreshPlan
	planErr error
}

func (f *fakeAPI) NextRefresh(_ context.Context, token string) (*activity.RefreshPlan, error) {
	if f.planErr != nil {
		return nil, f.planErr
	}
	plan := f.plan
	plan.SessionToken = token
	return &plan, nil
}

func (f *fakeAPI) Track(_ context.Context, _ string, action models.InteractionType, _ models.InteractionMetadata) (*models.UserSession, error) {
	f.tracked = append(f.tracked, action)
	return &models.UserSession{}, nil
}

func newTestPoller(api *fakeAPI, fetcher *fakeFetcher, opts Options) *Poller {
	p := New("sess-1", api, fetcher, opts, logger.Default())
	p.now = func() time.Time { return pollerNow }
	return p
}

func TestStartActivatesOnSuccess(t *testing.T) {
	api := &fakeAPI{plan: activity.RefreshPlan{Frequency: 60, NextDue: pollerNow.Add(time.Hour)}}
	fetcher := &fakeFetcher{}
	p := newTestPoller(api, fetcher, Options{})
	defer p.Stop()

	require.NoError(t, p.Start(context.Background()))

	assert.Equal(t, StateActive, p.State())
	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, pollerNow.Add(time.Hour), p.nextDue)
	// The initial fetch is an automatic refresh
	require.Len(t, api.tracked, 1)
	assert.Equal(t, models.InteractionAutoRefresh, api.tracked[0])
}

func TestStartFailureStaysInactive(t *testing.T) {
	api := &fakeAPI{}
	fetcher := &fakeFetcher{failures: 1}
	p := newTestPoller(api, fetcher, Options{})

	err := p.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateInactive, p.State())
	assert.Empty(t, api.tracked)
}

func TestCheckOnceSkipsWhenNotDue(t *testing.T) {
	api := &fakeAPI{}
	fetcher := &fakeFetcher{}
	p := newTestPoller(api, fetcher, Options{})
	p.state = StateActive
	p.nextDue = pollerNow.Add(time.Minute)

	p.checkOnce(context.Background())
	assert.Equal(t, 0, fetcher.calls)
}

func TestCheckOnceFetchesWhenDue(t *testing.T) {
	api := &fakeAPI{plan: activity.RefreshPlan{Frequency: 60, NextDue: pollerNow.Add(time.Hour)}}
	fetcher := &fakeFetcher{}
	p := newTestPoller(api, fetcher, Options{})
	p.state = StateActive
	p.nextDue = pollerNow.Add(-time.Second)

	p.checkOnce(context.Background())

	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, 0, p.retryCount)
	assert.Equal(t, pollerNow.Add(time.Hour), p.nextDue)
}

func TestRetryBackoffGrowsExponentially(t *testing.T) {
	api := &fakeAPI{}
	fetcher := &fakeFetcher{failures: 10}
	p := newTestPoller(api, fetcher, Options{MaxRetries: 5, BackoffMultiplier: 2.0})
	p.state = StateActive

	// First failure: retry after 1m
	p.nextDue = pollerNow
	p.checkOnce(context.Background())
	assert.Equal(t, pollerNow.Add(time.Minute), p.nextDue)

	// Second: 2m, third: 4m
	p.nextDue = pollerNow
	p.checkOnce(context.Background())
	assert.Equal(t, pollerNow.Add(2*time.Minute), p.nextDue)

	p.nextDue = pollerNow
	p.checkOnce(context.Background())
	assert.Equal(t, pollerNow.Add(4*time.Minute), p.nextDue)

	assert.Equal(t, StateActive, p.State())
}

func TestRetryBudgetExhaustionDisables(t *testing.T) {
	api := &fakeAPI{}
	fetcher := &fakeFetcher{failures: 10}
	p := newTestPoller(api, fetcher, Options{MaxRetries: 3, BackoffMultiplier: 2.0})
	p.state = StateActive

	for i := 0; i < 3; i++ {
		p.nextDue = pollerNow
		p.checkOnce(context.Background())
	}
	assert.Equal(t, StateInactive, p.State())
	assert.Equal(t, 3, fetcher.calls)

	// Disabled means no further fetches, however overdue
	p.nextDue = pollerNow
	p.checkOnce(context.Background())
	assert.Equal(t, 3, fetcher.calls)
}

func TestResumeClearsRetryBudget(t *testing.T) {
	api := &fakeAPI{plan: activity.RefreshPlan{Frequency: 60, NextDue: pollerNow.Add(30 * time.Minute)}}
	fetcher := &fakeFetcher{failures: 3}
	p := newTestPoller(api, fetcher, Options{MaxRetries: 3, BackoffMultiplier: 2.0})
	p.state = StateActive

	for i := 0; i < 3; i++ {
		p.nextDue = pollerNow
		p.checkOnce(context.Background())
	}
	require.Equal(t, StateInactive, p.State())

	p.Resume(context.Background())
	assert.Equal(t, StateActive, p.State())
	assert.Equal(t, 0, p.retryCount)
	// Resume resyncs against the server plan instead of firing immediately
	assert.Equal(t, pollerNow.Add(30*time.Minute), p.nextDue)

	// Budget is fresh: the next success resets everything
	p.nextDue = pollerNow
	p.checkOnce(context.Background())
	assert.Equal(t, StateActive, p.State())
	assert.Equal(t, 0, p.retryCount)
}

func TestForceRefreshRecordsManual(t *testing.T) {
	api := &fakeAPI{plan: activity.RefreshPlan{Frequency: 60, NextDue: pollerNow.Add(time.Hour)}}
	fetcher := &fakeFetcher{}
	p := newTestPoller(api, fetcher, Options{})
	p.state = StateActive
	p.nextDue = pollerNow.Add(time.Hour)

	require.NoError(t, p.ForceRefresh(context.Background()))

	assert.Equal(t, 1, fetcher.calls)
	require.Len(t, api.tracked, 1)
	assert.Equal(t, models.InteractionManualRefresh, api.tracked[0])
}

func TestPauseSuppressesChecks(t *testing.T) {
	api := &fakeAPI{}
	fetcher := &fakeFetcher{}
	p := newTestPoller(api, fetcher, Options{})
	p.state = StateActive
	p.nextDue = pollerNow.Add(-time.Minute)

	p.Pause()
	assert.Equal(t, StatePaused, p.State())

	p.checkOnce(context.Background())
	assert.Equal(t, 0, fetcher.calls)
}

func TestPlanErrorFallsBackToCheckInterval(t *testing.T) {
	api := &fakeAPI{planErr: errors.New("server unavailable")}
	fetcher := &fakeFetcher{}
	p := newTestPoller(api, fetcher, Options{CheckInterval: time.Minute})
	p.state = StateActive
	p.nextDue = pollerNow

	p.checkOnce(context.Background())

	// Fetch succeeded but the plan could not be loaded; retry in one interval
	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, pollerNow.Add(time.Minute), p.nextDue)
}
