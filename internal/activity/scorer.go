// Package activity derives a per-session refresh cadence from observed
// behavior. The scorer is read-only with respect to stored state; callers
// decide whether to persist the frequency it recommends.
package activity

import (
	"math"
	"math/rand"
	"time"

	"github.com/jobpulse/scraper-agent/internal/models"
)

// Frequency bounds in minutes
const (
	MinFrequency = 30
	MaxFrequency = 2880
)

// Scorer computes activity scores and recommended refresh frequencies
type Scorer struct {
	randFloat func() float64 // uniform [0,1)
}

// NewScorer creates a scorer backed by the default RNG
func NewScorer() *Scorer {
	return &Scorer{randFloat: rand.Float64}
}

// NewScorerWithRand creates a scorer with an injected RNG
func NewScorerWithRand(randFloat func() float64) *Scorer {
	return &Scorer{randFloat: randFloat}
}

// ActivityScore summarizes a session's recent engagement: 10 points per
// interaction in the last 24h, 2 per percentage point of manual refresh rate,
// minus an idle penalty once the session has been quiet for over an hour.
// Floored at 0.
func (s *Scorer) ActivityScore(sess *models.UserSession, interactions24h int, now time.Time) int {
	score := float64(10*interactions24h) + 2*sess.ManualRefreshRate()

	if !sess.LastActivity.IsZero() {
		idle := now.Sub(sess.LastActivity)
		if idle > time.Hour {
			score -= idle.Minutes() / 60
		}
	}

	if score < 0 {
		return 0
	}
	return int(score)
}

// frequencyBand returns the [lo, hi) minute range for a score
func frequencyBand(score int) (lo, hi int) {
	switch {
	case score > 100:
		return 30, 120
	case score > 50:
		return 120, 360
	case score > 20:
		return 360, 720
	default:
		return 720, 1440
	}
}

// RecommendFrequency draws a frequency uniformly from the score's band
func (s *Scorer) RecommendFrequency(score int) int {
	lo, hi := frequencyBand(score)
	return lo + int(s.randFloat()*float64(hi-lo))
}

// SmoothFrequency dampens large cadence swings: when the recommendation
// differs from the current frequency by more than 50%, move only 30% of the
// way toward it. A session with no current frequency adopts the
// recommendation outright.
func SmoothFrequency(current, recommended int) int {
	if current <= 0 {
		return recommended
	}
	diff := recommended - current
	if math.Abs(float64(diff)) > 0.5*float64(current) {
		return current + int(math.Round(0.3*float64(diff)))
	}
	return recommended
}

// ClampFrequency bounds a frequency to [MinFrequency, MaxFrequency]
func ClampFrequency(v int) int {
	if v < MinFrequency {
		return MinFrequency
	}
	if v > MaxFrequency {
		return MaxFrequency
	}
	return v
}

// Recommendation is the scorer's full output for one session
type Recommendation struct {
	Score        int `json:"score"`
	RawFrequency int `json:"raw_frequency"` // band draw before smoothing
	Frequency    int `json:"frequency"`     // smoothed and clamped, minutes
}

// Recommend computes the activity score and the frequency a session should
// adopt, smoothed against its current preference and clamped.
func (s *Scorer) Recommend(sess *models.UserSession, interactions24h int, now time.Time) Recommendation {
	score := s.ActivityScore(sess, interactions24h, now)
	raw := s.RecommendFrequency(score)
	return Recommendation{
		Score:        score,
		RawFrequency: raw,
		Frequency:    ClampFrequency(SmoothFrequency(sess.PreferredUpdateFrequency, raw)),
	}
}

// NextRefreshTime computes when the next automatic refresh is due. Two
// heuristics pull the check forward: an active user (last activity under 30
// minutes ago) who is already past half the interval waits only 30% of it,
// and a manual refresh within the last hour shortens the interval to 50%.
func NextRefreshTime(sess *models.UserSession, freqMinutes int, now time.Time) time.Time {
	interval := time.Duration(freqMinutes) * time.Minute

	base := now
	if sess.LastAutoRefresh != nil {
		base = *sess.LastAutoRefresh
	} else if !sess.LastActivity.IsZero() {
		base = sess.LastActivity
	}

	userActive := !sess.LastActivity.IsZero() && now.Sub(sess.LastActivity) < 30*time.Minute
	elapsed := now.Sub(base)

	switch {
	case userActive && elapsed > interval/2:
		return base.Add(time.Duration(0.3 * float64(interval)))
	case sess.LastManualRefresh != nil && now.Sub(*sess.LastManualRefresh) < time.Hour:
		return base.Add(time.Duration(0.5 * float64(interval)))
	default:
		return base.Add(interval)
	}
}
