package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// InteractionType classifies a tracked user interaction
type InteractionType string

const (
	InteractionLogin           InteractionType = "login"
	InteractionManualRefresh   InteractionType = "manual_refresh"
	InteractionAutoRefresh     InteractionType = "automatic_refresh"
	InteractionPageView        InteractionType = "page_view"
	InteractionJobSearch       InteractionType = "job_search"
	InteractionScrapingTrigger InteractionType = "scraping_trigger"
)

// ParseInteractionType converts a raw string to an InteractionType
func ParseInteractionType(s string) (InteractionType, error) {
	t := InteractionType(s)
	switch t {
	case InteractionLogin, InteractionManualRefresh, InteractionAutoRefresh,
		InteractionPageView, InteractionJobSearch, InteractionScrapingTrigger:
		return t, nil
	}
	return "", fmt.Errorf("unknown interaction type %q", s)
}

// UserSession holds per-session behavioral counters. Created on the first
// observed interaction for a session token, mutated on every tracked
// interaction, never hard-deleted by the core.
type UserSession struct {
	ID                       uint       `gorm:"primaryKey" json:"id"`
	SessionToken             string     `gorm:"uniqueIndex;not null" json:"session_token"`
	FirstSeen                time.Time  `gorm:"autoCreateTime" json:"first_seen"`
	LastActivity             time.Time  `json:"last_activity"`
	TotalVisits              int        `json:"total_visits"`
	AvgSessionMinutes        float64    `json:"avg_session_minutes"`
	PreferredUpdateFrequency int        `gorm:"default:0" json:"preferred_update_frequency"` // minutes; 0 until first scored
	LastManualRefresh        *time.Time `json:"last_manual_refresh"`
	LastAutoRefresh          *time.Time `json:"last_auto_refresh"`
	TotalManualRefreshes     int        `json:"total_manual_refreshes"`
	TotalAutoRefreshes       int        `json:"total_auto_refreshes"`
	UpdatedAt                time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// ManualRefreshRate returns the percentage of refreshes that were manual
func (s *UserSession) ManualRefreshRate() float64 {
	total := s.TotalManualRefreshes + s.TotalAutoRefreshes
	if total == 0 {
		return 0
	}
	return float64(s.TotalManualRefreshes) / float64(total) * 100
}

// UserInteraction is an append-only event referencing a session
type UserInteraction struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	SessionToken string          `gorm:"index;not null" json:"session_token"`
	Action       InteractionType `gorm:"index;not null" json:"action"`
	Metadata     JSON            `gorm:"type:json" json:"metadata"`
	CreatedAt    time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

// InteractionMetadata is the tagged union of per-interaction payloads. Each
// variant carries only the fields relevant to its interaction type.
type InteractionMetadata interface {
	interactionMetadata()
}

// LoginMetadata accompanies login interactions
type LoginMetadata struct {
	UserAgent string `json:"user_agent,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
}

func (LoginMetadata) interactionMetadata() {}

// RefreshMetadata accompanies manual and automatic refresh interactions
type RefreshMetadata struct {
	Trigger    string `json:"trigger,omitempty"` // poller, button, login
	DurationMs int64  `json:"duration_ms,omitempty"`
}

func (RefreshMetadata) interactionMetadata() {}

// PageViewMetadata accompanies page view interactions
type PageViewMetadata struct {
	Path string `json:"path,omitempty"`
}

func (PageViewMetadata) interactionMetadata() {}

// JobSearchMetadata accompanies job search interactions
type JobSearchMetadata struct {
	SearchTerm string `json:"search_term,omitempty"`
	Location   string `json:"location,omitempty"`
}

func (JobSearchMetadata) interactionMetadata() {}

// ScrapingTriggerMetadata accompanies scraping trigger interactions
type ScrapingTriggerMetadata struct {
	ConfigID uint   `json:"config_id,omitempty"`
	Source   string `json:"source,omitempty"`
}

func (ScrapingTriggerMetadata) interactionMetadata() {}

// EncodeMetadata converts a typed metadata variant to the JSON column shape,
// tagging it with the interaction it accompanies so readers can decode the
// right variant. Some variants serve several interaction types (RefreshMetadata
// covers both manual and automatic refreshes), so the tag comes from the
// action, not the variant.
func EncodeMetadata(action InteractionType, m InteractionMetadata) (JSON, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal interaction metadata: %w", err)
	}
	out := JSON{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode interaction metadata: %w", err)
	}
	out["kind"] = string(action)
	return out, nil
}
