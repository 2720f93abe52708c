// Job lifecycle state machine.
//
// Valid state graph:
//
//	started ──► scraping ──► completed
//	   │            │
//	   │            └──────► failed
//	   └───────┬───────────► cancelled
//	           └─ (scraping also cancels)
//
// completed, failed and cancelled are terminal states and are never
// overwritten.
package models

import (
	"fmt"
	"time"
)

// JobState represents the lifecycle state of a collection run
type JobState string

const (
	JobStateStarted   JobState = "started"
	JobStateScraping  JobState = "scraping"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// validJobTransitions lists every allowed (from → to) pair.
var validJobTransitions = map[JobState][]JobState{
	JobStateStarted:  {JobStateScraping, JobStateCancelled},
	JobStateScraping: {JobStateCompleted, JobStateFailed, JobStateCancelled},
	// completed, failed and cancelled are terminal — no outgoing transitions
}

// ParseJobState converts a raw string to a JobState, returning an error for
// unknown values.
func ParseJobState(s string) (JobState, error) {
	st := JobState(s)
	switch st {
	case JobStateStarted, JobStateScraping, JobStateCompleted, JobStateFailed, JobStateCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown job state %q", s)
}

// CanTransition returns true when moving from → to is permitted by the
// state machine.
func CanTransition(from, to JobState) bool {
	allowed, ok := validJobTransitions[from]
	if !ok {
		return false // terminal state — no outgoing transitions
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true when no further transition is accepted from s
func (s JobState) IsTerminal() bool {
	_, ok := validJobTransitions[s]
	return !ok
}

// TriggerOrigin identifies what initiated a job
type TriggerOrigin string

const (
	TriggerManual    TriggerOrigin = "manual"
	TriggerScheduled TriggerOrigin = "scheduled"
	TriggerAPI       TriggerOrigin = "api"
	TriggerWebhook   TriggerOrigin = "webhook"
)

// ParseTriggerOrigin converts a raw string to a TriggerOrigin
func ParseTriggerOrigin(s string) (TriggerOrigin, error) {
	o := TriggerOrigin(s)
	switch o {
	case TriggerManual, TriggerScheduled, TriggerAPI, TriggerWebhook:
		return o, nil
	}
	return "", fmt.Errorf("unknown trigger origin %q", s)
}

// Job is one execution instance of a collection task. Source, search term,
// location and cap are copied from the owning config at creation so
// historical jobs stay reproducible after config edits.
type Job struct {
	ID            string        `gorm:"primaryKey" json:"id"`
	ConfigID      *uint         `gorm:"index" json:"config_id"`
	Source        string        `gorm:"index;not null" json:"source"`
	SearchTerm    string        `json:"search_term"`
	Location      string        `json:"location"`
	MaxResults    int           `json:"max_results"`
	State         JobState      `gorm:"index;not null;default:'started'" json:"state"`
	StatusMessage string        `json:"status_message"`
	JobsFound     int           `json:"jobs_found"`
	JobsStored    int           `json:"jobs_stored"`
	Scheduled     bool          `gorm:"default:false" json:"scheduled"`
	Origin        TriggerOrigin `gorm:"not null;default:'manual'" json:"origin"`
	StartedAt     time.Time     `gorm:"autoCreateTime" json:"started_at"`
	CompletedAt   *time.Time    `json:"completed_at"`
	UpdatedAt     time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}
