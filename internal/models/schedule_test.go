package models

import (
	"testing"
	"time"
)

func TestCadenceNextAfter(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		cadence Cadence
		want    *time.Time
	}{
		{CadenceHourly, timePtr(base.Add(time.Hour))},
		{CadenceDaily, timePtr(base.Add(24 * time.Hour))},
		{CadenceWeekly, timePtr(base.Add(7 * 24 * time.Hour))},
		{CadenceManual, nil},
	}

	for _, tt := range tests {
		got := tt.cadence.NextAfter(base)
		switch {
		case tt.want == nil && got != nil:
			t.Errorf("%s.NextAfter() = %v, want nil", tt.cadence, got)
		case tt.want != nil && got == nil:
			t.Errorf("%s.NextAfter() = nil, want %v", tt.cadence, tt.want)
		case tt.want != nil && !got.Equal(*tt.want):
			t.Errorf("%s.NextAfter() = %v, want %v", tt.cadence, got, tt.want)
		}
	}
}

func TestScheduleConfigIsDue(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name string
		cfg  ScheduleConfig
		want bool
	}{
		{"past next_run is due", ScheduleConfig{Enabled: true, NextRun: &past}, true},
		{"exact next_run is due", ScheduleConfig{Enabled: true, NextRun: &now}, true},
		{"future next_run is not due", ScheduleConfig{Enabled: true, NextRun: &future}, false},
		{"disabled is never due", ScheduleConfig{Enabled: false, NextRun: &past}, false},
		{"nil next_run is never due", ScheduleConfig{Enabled: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.IsDue(now); got != tt.want {
				t.Errorf("IsDue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScheduleConfigClaimed(t *testing.T) {
	sentinel := ClaimSentinel
	normal := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	claimed := ScheduleConfig{NextRun: &sentinel}
	if !claimed.Claimed() {
		t.Error("config at the sentinel should report claimed")
	}

	unclaimed := ScheduleConfig{NextRun: &normal}
	if unclaimed.Claimed() {
		t.Error("config with a normal next_run should not report claimed")
	}

	if (&ScheduleConfig{}).Claimed() {
		t.Error("config with nil next_run should not report claimed")
	}

	// The sentinel must never read as due under any sane clock
	if !sentinel.After(time.Now().Add(100 * 365 * 24 * time.Hour)) {
		t.Error("claim sentinel is not far enough in the future")
	}
}

func TestScheduleConfigValidate(t *testing.T) {
	valid := ScheduleConfig{Name: "test", Source: "indeed", Cadence: CadenceDaily, MaxResults: 25}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	tests := []struct {
		name string
		cfg  ScheduleConfig
	}{
		{"missing name", ScheduleConfig{Source: "indeed", Cadence: CadenceDaily, MaxResults: 25}},
		{"missing source", ScheduleConfig{Name: "test", Cadence: CadenceDaily, MaxResults: 25}},
		{"bad cadence", ScheduleConfig{Name: "test", Source: "indeed", Cadence: "biweekly", MaxResults: 25}},
		{"zero max results", ScheduleConfig{Name: "test", Source: "indeed", Cadence: CadenceDaily}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
