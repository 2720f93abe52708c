package storage

import (
	"context"
	"time"

	"github.com/jobpulse/scraper-agent/internal/models"
)

// Repository defines the interface for data persistence
type Repository interface {
	// Schedule config operations
	CreateConfig(ctx context.Context, cfg *models.ScheduleConfig) error
	GetConfigByID(ctx context.Context, id uint) (*models.ScheduleConfig, error)
	ListConfigs(ctx context.Context, filter ConfigFilter) ([]*models.ScheduleConfig, error)
	ListDueConfigs(ctx context.Context, now time.Time) ([]*models.ScheduleConfig, error)
	UpdateConfig(ctx context.Context, cfg *models.ScheduleConfig) error
	SetConfigEnabled(ctx context.Context, id uint, enabled bool) error
	SetConfigSchedule(ctx context.Context, id uint, lastRun, nextRun *time.Time) error
	ClaimConfig(ctx context.Context, id uint, observedNextRun time.Time) (bool, error)
	DeleteConfig(ctx context.Context, id uint) error
	CountConfigs(ctx context.Context) (total, enabled int, err error)

	// Job operations
	CreateJob(ctx context.Context, job *models.Job) error
	GetJobByID(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error)
	UpdateJobState(ctx context.Context, job *models.Job, to models.JobState) error
	CountJobsSince(ctx context.Context, since time.Time) (JobStats, error)

	// Audit log operations (append-only)
	AppendLog(ctx context.Context, entry *models.ScheduleLog) error
	ListLogs(ctx context.Context, configID uint, limit int) ([]*models.ScheduleLog, error)

	// Session operations
	GetSessionByToken(ctx context.Context, token string) (*models.UserSession, error)
	CreateSession(ctx context.Context, session *models.UserSession) error
	SaveSession(ctx context.Context, session *models.UserSession) error
	AppendInteraction(ctx context.Context, interaction *models.UserInteraction) error
	CountInteractionsSince(ctx context.Context, token string, since time.Time) (int, error)
	ListInteractions(ctx context.Context, token string, limit int) ([]*models.UserInteraction, error)

	// Listing operations
	SaveListings(ctx context.Context, listings []*models.Listing) error
	ListListings(ctx context.Context, jobID string) ([]*models.Listing, error)

	// Maintenance
	Close() error
	Migrate() error
}

// ConfigFilter defines filtering options for schedule configs
type ConfigFilter struct {
	Enabled   *bool
	Source    *string
	Cadence   *models.Cadence
	Limit     int
	Offset    int
	OrderBy   string // "next_run", "name", "created_at"
	OrderDesc bool
}

// JobFilter defines filtering options for jobs
type JobFilter struct {
	State     *models.JobState
	ConfigID  *uint
	Scheduled *bool
	Limit     int
	Offset    int
	OrderBy   string
	OrderDesc bool
}

// JobStats aggregates job outcomes over a window
type JobStats struct {
	Total     int `json:"total"`
	Scheduled int `json:"scheduled"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// SuccessRate returns the completed share of finished jobs as a percentage
func (s JobStats) SuccessRate() float64 {
	finished := s.Completed + s.Failed
	if finished == 0 {
		return 0
	}
	return float64(s.Completed) / float64(finished) * 100
}

// DefaultConfigFilter returns a filter with sensible defaults
func DefaultConfigFilter() ConfigFilter {
	return ConfigFilter{
		Limit:   50,
		OrderBy: "next_run",
	}
}

// DefaultJobFilter returns a filter with sensible defaults
func DefaultJobFilter() JobFilter {
	return JobFilter{
		Limit:     50,
		OrderBy:   "started_at",
		OrderDesc: true,
	}
}
