package models

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from JobState
		to   JobState
		want bool
	}{
		{"started to scraping", JobStateStarted, JobStateScraping, true},
		{"started to cancelled", JobStateStarted, JobStateCancelled, true},
		{"started to completed skips scraping", JobStateStarted, JobStateCompleted, false},
		{"started to failed skips scraping", JobStateStarted, JobStateFailed, false},
		{"scraping to completed", JobStateScraping, JobStateCompleted, true},
		{"scraping to failed", JobStateScraping, JobStateFailed, true},
		{"scraping to cancelled", JobStateScraping, JobStateCancelled, true},
		{"scraping back to started", JobStateScraping, JobStateStarted, false},
		{"completed is terminal", JobStateCompleted, JobStateScraping, false},
		{"completed to failed", JobStateCompleted, JobStateFailed, false},
		{"failed is terminal", JobStateFailed, JobStateStarted, false},
		{"failed to completed", JobStateFailed, JobStateCompleted, false},
		{"cancelled is terminal", JobStateCancelled, JobStateScraping, false},
		{"self transition rejected", JobStateScraping, JobStateScraping, false},
		{"unknown state has no transitions", JobState("bogus"), JobStateScraping, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		state JobState
		want  bool
	}{
		{JobStateStarted, false},
		{JobStateScraping, false},
		{JobStateCompleted, true},
		{JobStateFailed, true},
		{JobStateCancelled, true},
	}

	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestParseJobState(t *testing.T) {
	if _, err := ParseJobState("scraping"); err != nil {
		t.Errorf("ParseJobState(scraping) unexpected error: %v", err)
	}
	if _, err := ParseJobState("done"); err == nil {
		t.Error("ParseJobState(done) expected error, got nil")
	}
}

func TestParseTriggerOrigin(t *testing.T) {
	for _, valid := range []string{"manual", "scheduled", "api", "webhook"} {
		if _, err := ParseTriggerOrigin(valid); err != nil {
			t.Errorf("ParseTriggerOrigin(%s) unexpected error: %v", valid, err)
		}
	}
	if _, err := ParseTriggerOrigin("cron"); err == nil {
		t.Error("ParseTriggerOrigin(cron) expected error, got nil")
	}
}
