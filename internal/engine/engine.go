// Package engine drives the lifecycle of one collection run: it creates the
// Job record, hands off to the external collector, enriches the results, and
// walks the job state machine to a terminal state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jobpulse/scraper-agent/internal/analyzer"
	"github.com/jobpulse/scraper-agent/internal/collector"
	"github.com/jobpulse/scraper-agent/internal/models"
	"github.com/jobpulse/scraper-agent/internal/storage"
	"github.com/jobpulse/scraper-agent/pkg/logger"
)

// ErrConfigRequired is returned when a scheduled trigger arrives without an
// owning schedule config. This is a configuration fault the caller must see,
// never a silent skip.
var ErrConfigRequired = errors.New("scheduled trigger requires a schedule config")

// RunExporter receives finished jobs for out-of-band bookkeeping (e.g. the
// sheets run log). Export failures never affect the job outcome.
type RunExporter interface {
	AppendRun(ctx context.Context, job *models.Job) error
}

// Engine executes collection jobs
type Engine struct {
	repo       storage.Repository
	collectors *collector.Manager
	analyzer   analyzer.Analyzer
	exporter   RunExporter // optional
	jobTimeout time.Duration
	log        *logger.Logger
}

// New creates a job execution engine. exporter may be nil.
func New(
	repo storage.Repository,
	collectors *collector.Manager,
	an analyzer.Analyzer,
	exporter RunExporter,
	jobTimeout time.Duration,
	log *logger.Logger,
) *Engine {
	if jobTimeout <= 0 {
		jobTimeout = 10 * time.Minute
	}
	return &Engine{
		repo:       repo,
		collectors: collectors,
		analyzer:   an,
		exporter:   exporter,
		jobTimeout: jobTimeout,
		log:        log.WithComponent("engine"),
	}
}

// JobRequest describes one collection run, either ad hoc or sourced from a
// schedule config.
type JobRequest struct {
	JobID      string // optional; generated when empty
	Source     string
	SearchTerm string
	Location   string
	MaxResults int
	Scheduled  bool
	ConfigID   *uint
	Origin     models.TriggerOrigin
}

// RequestFromConfig copies a config's collection parameters into a scheduled
// job request. The copy keeps historical jobs reproducible after config edits.
func RequestFromConfig(cfg *models.ScheduleConfig) JobRequest {
	id := cfg.ID
	return JobRequest{
		Source:     cfg.Source,
		SearchTerm: cfg.SearchTerm,
		Location:   cfg.Location,
		MaxResults: cfg.MaxResults,
		Scheduled:  true,
		ConfigID:   &id,
		Origin:     models.TriggerScheduled,
	}
}

// Run executes a job synchronously. The returned job reflects the terminal
// state; a non-nil error means the run failed (the job records why).
func (e *Engine) Run(ctx context.Context, req JobRequest) (*models.Job, error) {
	job, cfg, coll, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, job, cfg, coll)
}

// Submit validates the request, creates the Job record, and executes the rest
// of the run in the background. The returned job is in state started and must
// be polled for its outcome.
func (e *Engine) Submit(ctx context.Context, req JobRequest) (*models.Job, error) {
	job, cfg, coll, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	// The background run owns job from here on; the caller gets a snapshot
	// of the started state so encoding the response never races with execute.
	snapshot := *job

	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), e.jobTimeout)
		defer cancel()

		if _, err := e.execute(runCtx, job, cfg, coll); err != nil {
			e.log.WithJobID(job.ID).Error().Err(err).Msg("Background job failed")
		}
	}()

	return &snapshot, nil
}

// Cancel moves a non-terminal job to cancelled
func (e *Engine) Cancel(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := e.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("job not found: %w", err)
	}
	if job.State.IsTerminal() {
		return nil, fmt.Errorf("job %s already %s", job.ID, job.State)
	}

	job.StatusMessage = "cancelled by operator"
	if err := e.repo.UpdateJobState(ctx, job, models.JobStateCancelled); err != nil {
		return nil, err
	}
	return job, nil
}

// prepare rejects invalid requests before any Job row exists, then creates
// the Job in state started.
func (e *Engine) prepare(ctx context.Context, req JobRequest) (*models.Job, *models.ScheduleConfig, collector.Collector, error) {
	// Unknown source must be rejected with no partial Job record
	coll, err := e.collectors.Get(req.Source)
	if err != nil {
		return nil, nil, nil, err
	}

	if req.Scheduled && req.ConfigID == nil {
		return nil, nil, nil, ErrConfigRequired
	}

	var cfg *models.ScheduleConfig
	if req.ConfigID != nil {
		cfg, err = e.repo.GetConfigByID(ctx, *req.ConfigID)
		if err != nil {
			if req.Scheduled {
				return nil, nil, nil, fmt.Errorf("%w: config %d: %v", ErrConfigRequired, *req.ConfigID, err)
			}
			return nil, nil, nil, fmt.Errorf("schedule config %d not found: %w", *req.ConfigID, err)
		}
	}

	if req.Origin == "" {
		req.Origin = models.TriggerManual
	}
	if req.MaxResults <= 0 {
		req.MaxResults = 25
	}
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}

	job := &models.Job{
		ID:         req.JobID,
		ConfigID:   req.ConfigID,
		Source:     req.Source,
		SearchTerm: req.SearchTerm,
		Location:   req.Location,
		MaxResults: req.MaxResults,
		State:      models.JobStateStarted,
		Scheduled:  req.Scheduled,
		Origin:     req.Origin,
	}
	if err := e.repo.CreateJob(ctx, job); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create job: %w", err)
	}

	if cfg != nil {
		e.appendLog(ctx, &models.ScheduleLog{
			ConfigID: cfg.ID,
			JobID:    &job.ID,
			Action:   models.LogActionTriggered,
			Origin:   logOrigin(req.Origin),
			Detail: models.JSON{
				"source":      job.Source,
				"search_term": job.SearchTerm,
				"scheduled":   job.Scheduled,
			},
		})
	}

	return job, cfg, coll, nil
}

// execute walks the state machine from started to a terminal state
func (e *Engine) execute(ctx context.Context, job *models.Job, cfg *models.ScheduleConfig, coll collector.Collector) (*models.Job, error) {
	log := e.log.WithJobID(job.ID)

	job.StatusMessage = "collection in progress"
	if err := e.repo.UpdateJobState(ctx, job, models.JobStateScraping); err != nil {
		return job, fmt.Errorf("failed to mark job scraping: %w", err)
	}

	items, err := coll.Collect(ctx, collector.Query{
		SearchTerm: job.SearchTerm,
		Location:   job.Location,
		Limit:      job.MaxResults,
	})
	if err != nil {
		return e.fail(ctx, job, cfg, err)
	}
	job.JobsFound = len(items)

	analyses, err := e.analyzer.AnalyzeItems(ctx, job.SearchTerm, items)
	if err != nil {
		// Scoring is enrichment only; unscored listings still get stored
		log.Warn().Err(err).Msg("Listing analysis incomplete")
	}

	listings := make([]*models.Listing, 0, len(items))
	for i, item := range items {
		listing := &models.Listing{
			JobID:       job.ID,
			Title:       item.Title,
			Company:     item.Company,
			Location:    item.Location,
			URL:         item.URL,
			Description: item.Description,
			PostedAt:    item.PostedAt,
		}
		if i < len(analyses) && analyses[i] != nil {
			listing.RelevanceScore = analyses[i].Score
			listing.Recommendation = analyses[i].Recommendation
		}
		listings = append(listings, listing)
	}

	if err := e.repo.SaveListings(ctx, listings); err != nil {
		return e.fail(ctx, job, cfg, fmt.Errorf("failed to store listings: %w", err))
	}
	job.JobsStored = len(listings)

	job.StatusMessage = fmt.Sprintf("Stored %d of %d listings", job.JobsStored, job.JobsFound)
	if err := e.repo.UpdateJobState(ctx, job, models.JobStateCompleted); err != nil {
		return job, fmt.Errorf("failed to mark job completed: %w", err)
	}

	// Only a scheduled, config-owned run advances the owning config's clock
	if job.Scheduled && cfg != nil {
		completedAt := time.Now().UTC()
		if job.CompletedAt != nil {
			completedAt = *job.CompletedAt
		}
		nextRun := cfg.Cadence.NextAfter(completedAt)
		if err := e.repo.SetConfigSchedule(ctx, cfg.ID, &completedAt, nextRun); err != nil {
			return job, fmt.Errorf("failed to update schedule for config %d: %w", cfg.ID, err)
		}

		detail := models.JSON{
			"jobs_found":  job.JobsFound,
			"jobs_stored": job.JobsStored,
		}
		if nextRun != nil {
			detail["next_run"] = nextRun.Format(time.RFC3339)
		}
		e.appendLog(ctx, &models.ScheduleLog{
			ConfigID: cfg.ID,
			JobID:    &job.ID,
			Action:   models.LogActionCompleted,
			Origin:   models.LogOriginSystem,
			Detail:   detail,
		})
	}

	e.export(ctx, job)

	log.Info().
		Int("jobs_found", job.JobsFound).
		Int("jobs_stored", job.JobsStored).
		Msg("Job completed")

	return job, nil
}

// fail records a terminal failure, keeping the error text verbatim in the
// status field.
func (e *Engine) fail(ctx context.Context, job *models.Job, cfg *models.ScheduleConfig, cause error) (*models.Job, error) {
	job.StatusMessage = cause.Error()
	if err := e.repo.UpdateJobState(ctx, job, models.JobStateFailed); err != nil {
		e.log.WithJobID(job.ID).Error().Err(err).Msg("Failed to record job failure")
	}

	if cfg != nil {
		e.appendLog(ctx, &models.ScheduleLog{
			ConfigID: cfg.ID,
			JobID:    &job.ID,
			Action:   models.LogActionFailed,
			Origin:   models.LogOriginSystem,
			Detail:   models.JSON{"error": cause.Error()},
		})
	}

	e.export(ctx, job)

	e.log.WithJobID(job.ID).Error().Err(cause).Msg("Job failed")
	return job, cause
}

// appendLog writes an audit entry; audit persistence is non-critical and
// never blocks the primary operation.
func (e *Engine) appendLog(ctx context.Context, entry *models.ScheduleLog) {
	if err := e.repo.AppendLog(ctx, entry); err != nil {
		e.log.Warn().
			Err(err).
			Uint("config_id", entry.ConfigID).
			Str("action", string(entry.Action)).
			Msg("Failed to append schedule log")
	}
}

// export pushes a finished job to the run log when configured
func (e *Engine) export(ctx context.Context, job *models.Job) {
	if e.exporter == nil {
		return
	}
	if err := e.exporter.AppendRun(ctx, job); err != nil {
		e.log.WithJobID(job.ID).Warn().Err(err).Msg("Run-log export failed")
	}
}

// logOrigin maps a trigger origin to the audit origin taxonomy
func logOrigin(o models.TriggerOrigin) models.LogOrigin {
	switch o {
	case models.TriggerScheduled:
		return models.LogOriginSystem
	case models.TriggerAPI:
		return models.LogOriginAPI
	case models.TriggerWebhook:
		return models.LogOriginWebhook
	default:
		return models.LogOriginUser
	}
}
