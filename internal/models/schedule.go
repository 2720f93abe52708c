package models

import (
	"fmt"
	"time"
)

// Cadence is the recurrence unit governing due-time computation
type Cadence string

const (
	CadenceHourly Cadence = "hourly"
	CadenceDaily  Cadence = "daily"
	CadenceWeekly Cadence = "weekly"
	CadenceManual Cadence = "manual"
)

// ParseCadence converts a raw string to a Cadence, returning an error for
// unknown values.
func ParseCadence(s string) (Cadence, error) {
	c := Cadence(s)
	switch c {
	case CadenceHourly, CadenceDaily, CadenceWeekly, CadenceManual:
		return c, nil
	}
	return "", fmt.Errorf("unknown cadence %q", s)
}

// Interval returns the recurrence period. Manual cadence has no period and
// returns zero.
func (c Cadence) Interval() time.Duration {
	switch c {
	case CadenceHourly:
		return time.Hour
	case CadenceDaily:
		return 24 * time.Hour
	case CadenceWeekly:
		return 7 * 24 * time.Hour
	}
	return 0
}

// NextAfter returns the next due time following t. Manual cadence never
// auto-schedules and returns nil.
func (c Cadence) NextAfter(t time.Time) *time.Time {
	interval := c.Interval()
	if interval == 0 {
		return nil
	}
	next := t.Add(interval)
	return &next
}

// ClaimSentinel is the far-future next_run value a dispatcher swaps in to
// claim a config before executing it (9999-12-31T23:59:59Z).
var ClaimSentinel = time.Unix(253402300799, 0).UTC()

// ScheduleConfig is a recurring collection-job definition
type ScheduleConfig struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Name       string     `gorm:"uniqueIndex;not null" json:"name"`
	Source     string     `gorm:"index;not null" json:"source"`
	SearchTerm string     `json:"search_term"`
	Location   string     `json:"location"`
	MaxResults int        `gorm:"default:25" json:"max_results"`
	Cadence    Cadence    `gorm:"not null;default:'daily'" json:"cadence"`
	Enabled    bool       `gorm:"default:true" json:"enabled"`
	LastRun    *time.Time `json:"last_run"`
	NextRun    *time.Time `gorm:"index" json:"next_run"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsDue reports whether the config is eligible for dispatch at now
func (c *ScheduleConfig) IsDue(now time.Time) bool {
	return c.Enabled && c.NextRun != nil && !c.NextRun.After(now)
}

// Claimed reports whether a dispatcher currently holds this config
func (c *ScheduleConfig) Claimed() bool {
	return c.NextRun != nil && c.NextRun.Equal(ClaimSentinel)
}

// Validate checks the fields a caller must supply
func (c *ScheduleConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config name is required")
	}
	if c.Source == "" {
		return fmt.Errorf("config source is required")
	}
	if _, err := ParseCadence(string(c.Cadence)); err != nil {
		return err
	}
	if c.MaxResults <= 0 {
		return fmt.Errorf("max_results must be positive")
	}
	return nil
}
