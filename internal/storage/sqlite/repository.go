package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jobpulse/scraper-agent/internal/models"
	"github.com/jobpulse/scraper-agent/internal/storage"
)

// ErrStaleJobState is returned when a job transition loses a write race or
// targets a terminal state.
var ErrStaleJobState = errors.New("job state changed concurrently")

// Repository implements storage.Repository using SQLite
type Repository struct {
	db *gorm.DB
}

// New creates a new SQLite repository
func New(dsn string) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dsn)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Repository{db: db}, nil
}

// Migrate runs database migrations
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(
		&models.ScheduleConfig{},
		&models.Job{},
		&models.ScheduleLog{},
		&models.UserSession{},
		&models.UserInteraction{},
		&models.Listing{},
	)
}

// Close closes the database connection
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Schedule config operations

func (r *Repository) CreateConfig(ctx context.Context, cfg *models.ScheduleConfig) error {
	return r.db.WithContext(ctx).Create(cfg).Error
}

func (r *Repository) GetConfigByID(ctx context.Context, id uint) (*models.ScheduleConfig, error) {
	var cfg models.ScheduleConfig
	if err := r.db.WithContext(ctx).First(&cfg, id).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *Repository) ListConfigs(ctx context.Context, filter storage.ConfigFilter) ([]*models.ScheduleConfig, error) {
	var configs []*models.ScheduleConfig
	query := r.db.WithContext(ctx).Model(&models.ScheduleConfig{})

	if filter.Enabled != nil {
		query = query.Where("enabled = ?", *filter.Enabled)
	}
	if filter.Source != nil {
		query = query.Where("source = ?", *filter.Source)
	}
	if filter.Cadence != nil {
		query = query.Where("cadence = ?", *filter.Cadence)
	}

	// Ordering
	orderCol := "next_run"
	if filter.OrderBy != "" {
		orderCol = filter.OrderBy
	}
	if filter.OrderDesc {
		query = query.Order(orderCol + " DESC")
	} else {
		query = query.Order(orderCol + " ASC")
	}

	// Pagination
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	if err := query.Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

// ListDueConfigs returns enabled configs whose next_run has elapsed, ordered
// by next_run ascending. Claimed configs carry the far-future sentinel and
// fall out of the window naturally.
func (r *Repository) ListDueConfigs(ctx context.Context, now time.Time) ([]*models.ScheduleConfig, error) {
	var configs []*models.ScheduleConfig
	if err := r.db.WithContext(ctx).
		Where("enabled = ? AND next_run IS NOT NULL AND next_run <= ?", true, now).
		Order("next_run ASC").
		Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

func (r *Repository) UpdateConfig(ctx context.Context, cfg *models.ScheduleConfig) error {
	return r.db.WithContext(ctx).Save(cfg).Error
}

// SetConfigEnabled flips the enabled flag without touching any other column,
// in particular next_run.
func (r *Repository) SetConfigEnabled(ctx context.Context, id uint, enabled bool) error {
	res := r.db.WithContext(ctx).
		Model(&models.ScheduleConfig{}).
		Where("id = ?", id).
		Update("enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetConfigSchedule updates only the run bookkeeping columns
func (r *Repository) SetConfigSchedule(ctx context.Context, id uint, lastRun, nextRun *time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.ScheduleConfig{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_run": lastRun,
			"next_run": nextRun,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ClaimConfig atomically swaps next_run from its observed value to the claim
// sentinel. Returns false when another dispatcher won the race.
func (r *Repository) ClaimConfig(ctx context.Context, id uint, observedNextRun time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ScheduleConfig{}).
		Where("id = ? AND next_run = ?", id, observedNextRun).
		Update("next_run", models.ClaimSentinel)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DeleteConfig removes a config and clears the reference on its jobs. Jobs
// outlive config deletion.
func (r *Repository) DeleteConfig(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Job{}).
			Where("config_id = ?", id).
			Update("config_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&models.ScheduleConfig{}, id).Error
	})
}

func (r *Repository) CountConfigs(ctx context.Context) (int, int, error) {
	var total, enabled int64
	if err := r.db.WithContext(ctx).Model(&models.ScheduleConfig{}).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err := r.db.WithContext(ctx).Model(&models.ScheduleConfig{}).
		Where("enabled = ?", true).Count(&enabled).Error; err != nil {
		return 0, 0, err
	}
	return int(total), int(enabled), nil
}

// Job operations

func (r *Repository) CreateJob(ctx context.Context, job *models.Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repository) GetJobByID(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *Repository) ListJobs(ctx context.Context, filter storage.JobFilter) ([]*models.Job, error) {
	var jobs []*models.Job
	query := r.db.WithContext(ctx).Model(&models.Job{})

	if filter.State != nil {
		query = query.Where("state = ?", *filter.State)
	}
	if filter.ConfigID != nil {
		query = query.Where("config_id = ?", *filter.ConfigID)
	}
	if filter.Scheduled != nil {
		query = query.Where("scheduled = ?", *filter.Scheduled)
	}

	orderCol := "started_at"
	if filter.OrderBy != "" {
		orderCol = filter.OrderBy
	}
	if filter.OrderDesc {
		query = query.Order(orderCol + " DESC")
	} else {
		query = query.Order(orderCol + " ASC")
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	if err := query.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// UpdateJobState moves a job to a new state, writing the status fields the
// caller set on the model. The transition table is checked first and the
// UPDATE is conditional on the current stored state, so a terminal state is
// never overwritten even under a write race.
func (r *Repository) UpdateJobState(ctx context.Context, job *models.Job, to models.JobState) error {
	if !models.CanTransition(job.State, to) {
		return fmt.Errorf("invalid job transition %s → %s: %w", job.State, to, ErrStaleJobState)
	}

	updates := map[string]interface{}{
		"state":          to,
		"status_message": job.StatusMessage,
		"jobs_found":     job.JobsFound,
		"jobs_stored":    job.JobsStored,
	}
	if to.IsTerminal() {
		now := time.Now().UTC()
		job.CompletedAt = &now
		updates["completed_at"] = job.CompletedAt
	}

	res := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND state = ?", job.ID, job.State).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %s no longer in state %s: %w", job.ID, job.State, ErrStaleJobState)
	}

	job.State = to
	return nil
}

func (r *Repository) CountJobsSince(ctx context.Context, since time.Time) (storage.JobStats, error) {
	var stats storage.JobStats

	type row struct {
		State     models.JobState
		Scheduled bool
		N         int
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Select("state, scheduled, count(*) as n").
		Where("started_at >= ?", since).
		Group("state, scheduled").
		Scan(&rows).Error; err != nil {
		return stats, err
	}

	for _, rw := range rows {
		stats.Total += rw.N
		if rw.Scheduled {
			stats.Scheduled += rw.N
		}
		switch rw.State {
		case models.JobStateCompleted:
			stats.Completed += rw.N
		case models.JobStateFailed:
			stats.Failed += rw.N
		}
	}
	return stats, nil
}

// Audit log operations

func (r *Repository) AppendLog(ctx context.Context, entry *models.ScheduleLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *Repository) ListLogs(ctx context.Context, configID uint, limit int) ([]*models.ScheduleLog, error) {
	var logs []*models.ScheduleLog
	query := r.db.WithContext(ctx).
		Where("config_id = ?", configID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// Session operations

func (r *Repository) GetSessionByToken(ctx context.Context, token string) (*models.UserSession, error) {
	var session models.UserSession
	if err := r.db.WithContext(ctx).Where("session_token = ?", token).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *Repository) CreateSession(ctx context.Context, session *models.UserSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *Repository) SaveSession(ctx context.Context, session *models.UserSession) error {
	return r.db.WithContext(ctx).Save(session).Error
}

func (r *Repository) AppendInteraction(ctx context.Context, interaction *models.UserInteraction) error {
	return r.db.WithContext(ctx).Create(interaction).Error
}

func (r *Repository) CountInteractionsSince(ctx context.Context, token string, since time.Time) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.UserInteraction{}).
		Where("session_token = ? AND created_at >= ?", token, since).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *Repository) ListInteractions(ctx context.Context, token string, limit int) ([]*models.UserInteraction, error) {
	var interactions []*models.UserInteraction
	query := r.db.WithContext(ctx).
		Where("session_token = ?", token).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&interactions).Error; err != nil {
		return nil, err
	}
	return interactions, nil
}

// Listing operations

func (r *Repository) SaveListings(ctx context.Context, listings []*models.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&listings).Error
}

func (r *Repository) ListListings(ctx context.Context, jobID string) ([]*models.Listing, error) {
	var listings []*models.Listing
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("relevance_score DESC").
		Find(&listings).Error; err != nil {
		return nil, err
	}
	return listings, nil
}
