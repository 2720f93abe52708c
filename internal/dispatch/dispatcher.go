// Package dispatch implements the externally-triggered cron entry point: it
// finds schedule configs whose next_run has elapsed and runs them through the
// execution engine, one at a time.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/jobpulse/scraper-agent/internal/engine"
	"github.com/jobpulse/scraper-agent/internal/lock"
	"github.com/jobpulse/scraper-agent/internal/models"
	"github.com/jobpulse/scraper-agent/internal/storage"
	"github.com/jobpulse/scraper-agent/pkg/logger"
)

// JobRunner runs one collection job to a terminal state
type JobRunner interface {
	Run(ctx context.Context, req engine.JobRequest) (*models.Job, error)
}

// Dispatcher processes due schedule configs sequentially
type Dispatcher struct {
	repo          storage.Repository
	runner        JobRunner
	locker        lock.Locker // optional second guard for multi-replica deployments
	retryCooldown time.Duration
	now           func() time.Time
	log           *logger.Logger
}

// New creates a dispatcher. locker may be nil.
func New(repo storage.Repository, runner JobRunner, locker lock.Locker, retryCooldown time.Duration, log *logger.Logger) *Dispatcher {
	if retryCooldown <= 0 {
		retryCooldown = 10 * time.Minute
	}
	return &Dispatcher{
		repo:          repo,
		runner:        runner,
		locker:        locker,
		retryCooldown: retryCooldown,
		now:           time.Now,
		log:           log.WithComponent("dispatch"),
	}
}

// ConfigResult records the outcome for one due config
type ConfigResult struct {
	ConfigID uint   `json:"config_id"`
	Name     string `json:"name"`
	JobID    string `json:"job_id,omitempty"`
	Success  bool   `json:"success"`
	Skipped  bool   `json:"skipped,omitempty"` // claimed by a concurrent dispatcher
	Error    string `json:"error,omitempty"`
}

// BatchResult aggregates one dispatch invocation
type BatchResult struct {
	Processed int            `json:"processed"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Skipped   int            `json:"skipped"`
	Results   []ConfigResult `json:"results"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
}

// RunDue executes every due config in ascending next_run order. A config is
// claimed before execution by swapping its next_run to the far-future
// sentinel, so overlapping invocations run each config at most once per due
// period. One config's failure never aborts the rest of the batch.
func (d *Dispatcher) RunDue(ctx context.Context) (*BatchResult, error) {
	startedAt := d.now().UTC()
	result := &BatchResult{StartedAt: startedAt}

	configs, err := d.repo.ListDueConfigs(ctx, startedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to list due configs: %w", err)
	}

	d.log.Info().Int("due", len(configs)).Msg("Dispatch cycle started")

	for _, cfg := range configs {
		result.Results = append(result.Results, d.runOne(ctx, cfg))
	}

	for _, r := range result.Results {
		switch {
		case r.Skipped:
			result.Skipped++
		case r.Success:
			result.Processed++
			result.Succeeded++
		default:
			result.Processed++
			result.Failed++
		}
	}

	result.Duration = d.now().UTC().Sub(startedAt)

	d.log.Info().
		Int("processed", result.Processed).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Dur("duration", result.Duration).
		Msg("Dispatch cycle complete")

	return result, nil
}

// runOne claims and executes a single due config
func (d *Dispatcher) runOne(ctx context.Context, cfg *models.ScheduleConfig) ConfigResult {
	res := ConfigResult{ConfigID: cfg.ID, Name: cfg.Name}
	log := d.log.WithConfigID(cfg.ID)

	if d.locker != nil {
		key := fmt.Sprintf("dispatch:config:%d", cfg.ID)
		acquired, err := d.locker.Acquire(ctx, key)
		if err != nil {
			res.Error = fmt.Sprintf("lock error: %v", err)
			return res
		}
		if !acquired {
			log.Debug().Msg("Config locked by another dispatcher, skipping")
			res.Skipped = true
			return res
		}
		defer d.locker.Release(ctx, key)
	}

	if cfg.NextRun == nil {
		res.Error = "config has no next_run"
		return res
	}
	claimed, err := d.repo.ClaimConfig(ctx, cfg.ID, *cfg.NextRun)
	if err != nil {
		res.Error = fmt.Sprintf("claim error: %v", err)
		return res
	}
	if !claimed {
		log.Debug().Msg("Config claimed concurrently, skipping")
		res.Skipped = true
		return res
	}

	job, err := d.runner.Run(ctx, engine.RequestFromConfig(cfg))
	if job != nil {
		res.JobID = job.ID
	}
	if err != nil {
		res.Error = err.Error()
		// A failed run must become due again soon instead of holding the
		// claim sentinel until the next cadence tick.
		cooldown := d.now().UTC().Add(d.retryCooldown)
		if restoreErr := d.repo.SetConfigSchedule(ctx, cfg.ID, cfg.LastRun, &cooldown); restoreErr != nil {
			log.Error().Err(restoreErr).Msg("Failed to restore due time after failed run")
		}
		log.Error().Err(err).Msg("Scheduled run failed")
		return res
	}

	res.Success = true
	return res
}

// CheckDue lists due configs without executing them
func (d *Dispatcher) CheckDue(ctx context.Context) ([]*models.ScheduleConfig, error) {
	return d.repo.ListDueConfigs(ctx, d.now().UTC())
}

// Status is the aggregate scheduler snapshot served by the cron endpoint
type Status struct {
	TotalConfigs   int              `json:"total_configs"`
	EnabledConfigs int              `json:"enabled_configs"`
	DueConfigs     int              `json:"due_configs"`
	Jobs24h        storage.JobStats `json:"jobs_24h"`
	SuccessRate    float64          `json:"success_rate"`
	NextRun        *time.Time       `json:"next_run"`
	LastRun        *time.Time       `json:"last_run"`
}

// Snapshot aggregates config and job counters
func (d *Dispatcher) Snapshot(ctx context.Context) (*Status, error) {
	now := d.now().UTC()

	total, enabled, err := d.repo.CountConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count configs: %w", err)
	}

	due, err := d.repo.ListDueConfigs(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due configs: %w", err)
	}

	stats, err := d.repo.CountJobsSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	status := &Status{
		TotalConfigs:   total,
		EnabledConfigs: enabled,
		DueConfigs:     len(due),
		Jobs24h:        stats,
		SuccessRate:    stats.SuccessRate(),
	}

	enabledOnly := true
	configs, err := d.repo.ListConfigs(ctx, storage.ConfigFilter{Enabled: &enabledOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to list configs: %w", err)
	}
	for _, cfg := range configs {
		if cfg.NextRun != nil && !cfg.Claimed() {
			if status.NextRun == nil || cfg.NextRun.Before(*status.NextRun) {
				status.NextRun = cfg.NextRun
			}
		}
		if cfg.LastRun != nil {
			if status.LastRun == nil || cfg.LastRun.After(*status.LastRun) {
				status.LastRun = cfg.LastRun
			}
		}
	}

	return status, nil
}

// defaultConfigs are seeded by SeedDefaults on a fresh install
func defaultConfigs(now time.Time) []*models.ScheduleConfig {
	hourly := now.Add(time.Hour)
	daily := now.Add(24 * time.Hour)
	return []*models.ScheduleConfig{
		{
			Name:       "indeed-software-engineer",
			Source:     "indeed",
			SearchTerm: "software engineer",
			Location:   "remote",
			MaxResults: 25,
			Cadence:    models.CadenceHourly,
			Enabled:    true,
			NextRun:    &hourly,
		},
		{
			Name:       "linkedin-golang",
			Source:     "linkedin",
			SearchTerm: "golang developer",
			Location:   "remote",
			MaxResults: 25,
			Cadence:    models.CadenceDaily,
			Enabled:    true,
			NextRun:    &daily,
		},
		{
			Name:       "weworkremotely-backend",
			Source:     "weworkremotely",
			SearchTerm: "backend",
			MaxResults: 50,
			Cadence:    models.CadenceDaily,
			Enabled:    true,
			NextRun:    &daily,
		},
	}
}

// SeedDefaults creates the default config set when none exist. Returns the
// number of configs created (0 when the table is already populated).
func (d *Dispatcher) SeedDefaults(ctx context.Context) (int, error) {
	total, _, err := d.repo.CountConfigs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count configs: %w", err)
	}
	if total > 0 {
		return 0, nil
	}

	created := 0
	for _, cfg := range defaultConfigs(d.now().UTC()) {
		if err := d.repo.CreateConfig(ctx, cfg); err != nil {
			return created, fmt.Errorf("failed to seed config %s: %w", cfg.Name, err)
		}
		created++

		entry := &models.ScheduleLog{
			ConfigID: cfg.ID,
			Action:   models.LogActionCreated,
			Origin:   models.LogOriginSystem,
			Detail:   models.JSON{"seeded": true, "name": cfg.Name},
		}
		if err := d.repo.AppendLog(ctx, entry); err != nil {
			d.log.Warn().Err(err).Uint("config_id", cfg.ID).Msg("Failed to append seed log")
		}
	}

	d.log.Info().Int("created", created).Msg("Seeded default schedule configs")
	return created, nil
}
