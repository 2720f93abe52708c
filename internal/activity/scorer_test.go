package activity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jobpulse/scraper-agent/internal/models"
)

var scorerNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestActivityScore(t *testing.T) {
	s := NewScorer()

	t.Run("interactions dominate", func(t *testing.T) {
		sess := &models.UserSession{LastActivity: scorerNow}
		assert.Equal(t, 100, s.ActivityScore(sess, 10, scorerNow))
	})

	t.Run("manual refresh rate adds points", func(t *testing.T) {
		sess := &models.UserSession{
			LastActivity:         scorerNow,
			TotalManualRefreshes: 3,
			TotalAutoRefreshes:   1,
		}
		// 10*5 + 2*75% = 200
		assert.Equal(t, 200, s.ActivityScore(sess, 5, scorerNow))
	})

	t.Run("idle penalty applies after an hour", func(t *testing.T) {
		sess := &models.UserSession{LastActivity: scorerNow.Add(-3 * time.Hour)}
		// 10*2 - 3 idle hours = 17
		assert.Equal(t, 17, s.ActivityScore(sess, 2, scorerNow))
	})

	t.Run("under an hour idle costs nothing", func(t *testing.T) {
		sess := &models.UserSession{LastActivity: scorerNow.Add(-30 * time.Minute)}
		assert.Equal(t, 20, s.ActivityScore(sess, 2, scorerNow))
	})

	t.Run("floored at zero", func(t *testing.T) {
		sess := &models.UserSession{LastActivity: scorerNow.Add(-200 * time.Hour)}
		assert.Equal(t, 0, s.ActivityScore(sess, 0, scorerNow))
	})
}

func TestRecommendFrequencyBands(t *testing.T) {
	tests := []struct {
		name  string
		score int
		lo    int
		hi    int
	}{
		{"very active", 150, 30, 120},
		{"active", 75, 120, 360},
		{"moderate", 35, 360, 720},
		{"quiet", 10, 720, 1440},
		{"band edge 100 is not very active", 100, 120, 360},
		{"band edge 50 is not active", 50, 360, 720},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			low := NewScorerWithRand(func() float64 { return 0 })
			assert.Equal(t, tt.lo, low.RecommendFrequency(tt.score))

			high := NewScorerWithRand(func() float64 { return 0.999 })
			got := high.RecommendFrequency(tt.score)
			assert.GreaterOrEqual(t, got, tt.lo)
			assert.Less(t, got, tt.hi)
		})
	}
}

func TestSmoothFrequency(t *testing.T) {
	t.Run("no current adopts recommendation", func(t *testing.T) {
		assert.Equal(t, 360, SmoothFrequency(0, 360))
	})

	t.Run("small change applies directly", func(t *testing.T) {
		assert.Equal(t, 80, SmoothFrequency(60, 80))
	})

	t.Run("large increase is dampened", func(t *testing.T) {
		// 60 → 600: diff 540 > 50% of 60, move 30% of the way
		assert.Equal(t, 222, SmoothFrequency(60, 600))
	})

	t.Run("large decrease is dampened", func(t *testing.T) {
		// 600 → 60: diff -540, 600 + round(-162) = 438
		assert.Equal(t, 438, SmoothFrequency(600, 60))
	})

	t.Run("smoothing always lands between current and recommendation", func(t *testing.T) {
		for _, pair := range [][2]int{{30, 2880}, {2880, 30}, {120, 480}, {480, 120}, {100, 151}} {
			current, recommended := pair[0], pair[1]
			got := SmoothFrequency(current, recommended)
			lo, hi := current, recommended
			if lo > hi {
				lo, hi = hi, lo
			}
			assert.GreaterOrEqual(t, got, lo, "SmoothFrequency(%d, %d)", current, recommended)
			assert.LessOrEqual(t, got, hi, "SmoothFrequency(%d, %d)", current, recommended)
		}
	})
}

func TestClampFrequency(t *testing.T) {
	assert.Equal(t, MinFrequency, ClampFrequency(5))
	assert.Equal(t, MaxFrequency, ClampFrequency(10000))
	assert.Equal(t, 360, ClampFrequency(360))
}

// A heavy manual-refresh user with lots of recent interactions must land in
// the fastest refresh band.
func TestRecommendHighEngagement(t *testing.T) {
	s := NewScorerWithRand(func() float64 { return 0.5 })

	sess := &models.UserSession{
		LastActivity:         scorerNow,
		TotalManualRefreshes: 50,
		TotalAutoRefreshes:   0,
	}

	rec := s.Recommend(sess, 20, scorerNow)
	assert.Greater(t, rec.Score, 100)
	assert.GreaterOrEqual(t, rec.RawFrequency, 30)
	assert.Less(t, rec.RawFrequency, 120)
	// No current preference, so the raw draw is adopted and stays in range
	assert.Equal(t, rec.RawFrequency, rec.Frequency)
}

func TestNextRefreshTime(t *testing.T) {
	freq := 60 // minutes

	t.Run("default is base plus interval", func(t *testing.T) {
		auto := scorerNow.Add(-10 * time.Minute)
		sess := &models.UserSession{
			LastAutoRefresh: &auto,
			LastActivity:    scorerNow.Add(-2 * time.Hour),
		}
		got := NextRefreshTime(sess, freq, scorerNow)
		assert.Equal(t, auto.Add(time.Hour), got)
	})

	t.Run("active user past half interval waits 30 percent", func(t *testing.T) {
		auto := scorerNow.Add(-40 * time.Minute)
		sess := &models.UserSession{
			LastAutoRefresh: &auto,
			LastActivity:    scorerNow.Add(-5 * time.Minute),
		}
		got := NextRefreshTime(sess, freq, scorerNow)
		assert.Equal(t, auto.Add(18*time.Minute), got)
	})

	t.Run("recent manual refresh halves the interval", func(t *testing.T) {
		auto := scorerNow.Add(-10 * time.Minute)
		manual := scorerNow.Add(-20 * time.Minute)
		sess := &models.UserSession{
			LastAutoRefresh:   &auto,
			LastManualRefresh: &manual,
			LastActivity:      scorerNow.Add(-50 * time.Minute),
		}
		got := NextRefreshTime(sess, freq, scorerNow)
		assert.Equal(t, auto.Add(30*time.Minute), got)
	})

	t.Run("fresh session anchors at now", func(t *testing.T) {
		got := NextRefreshTime(&models.UserSession{}, freq, scorerNow)
		assert.Equal(t, scorerNow.Add(time.Hour), got)
	})
}
