package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/jobpulse/scraper-agent/internal/models"
	"github.com/jobpulse/scraper-agent/internal/storage"
	"github.com/jobpulse/scraper-agent/pkg/logger"
)

// visitGap is the idle gap after which activity counts as a new visit
const visitGap = 30 * time.Minute

// Tracker records user interactions and maintains per-session counters
type Tracker struct {
	repo   storage.Repository
	scorer *Scorer
	now    func() time.Time
	log    *logger.Logger
}

// NewTracker creates a tracker
func NewTracker(repo storage.Repository, scorer *Scorer, log *logger.Logger) *Tracker {
	return &Tracker{
		repo:   repo,
		scorer: scorer,
		now:    time.Now,
		log:    log.WithComponent("activity"),
	}
}

// getOrCreate loads the session for a token, creating it on the first
// observed interaction.
func (t *Tracker) getOrCreate(ctx context.Context, token string) (*models.UserSession, error) {
	if token == "" {
		return nil, fmt.Errorf("session token is required")
	}

	sess, err := t.repo.GetSessionByToken(ctx, token)
	if err == nil {
		return sess, nil
	}

	sess = &models.UserSession{
		SessionToken: token,
		LastActivity: t.now().UTC(),
	}
	if err := t.repo.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	t.log.WithSession(token).Debug().Msg("Created session on first interaction")
	return sess, nil
}

// lookup reads a session without creating it. Unknown tokens read as empty
// sessions; only interactions and preference writes create rows.
func (t *Tracker) lookup(ctx context.Context, token string) (*models.UserSession, error) {
	if token == "" {
		return nil, fmt.Errorf("session token is required")
	}
	if sess, err := t.repo.GetSessionByToken(ctx, token); err == nil {
		return sess, nil
	}
	return &models.UserSession{SessionToken: token}, nil
}

// Track records one interaction: it appends the event and updates the
// session's counters and timestamps in the same operation.
func (t *Tracker) Track(ctx context.Context, token string, action models.InteractionType, meta models.InteractionMetadata) (*models.UserSession, error) {
	sess, err := t.getOrCreate(ctx, token)
	if err != nil {
		return nil, err
	}

	now := t.now().UTC()

	switch action {
	case models.InteractionLogin:
		sess.TotalVisits++
	case models.InteractionManualRefresh:
		sess.TotalManualRefreshes++
		sess.LastManualRefresh = &now
	case models.InteractionAutoRefresh:
		sess.TotalAutoRefreshes++
		sess.LastAutoRefresh = &now
	}

	// Fold the inter-activity gap into the running visit-length average;
	// gaps past visitGap mean a new visit, not a long one.
	if !sess.LastActivity.IsZero() {
		gap := now.Sub(sess.LastActivity)
		if gap > 0 && gap <= visitGap {
			sess.AvgSessionMinutes = 0.8*sess.AvgSessionMinutes + 0.2*gap.Minutes()
		}
	}
	sess.LastActivity = now

	payload, err := models.EncodeMetadata(action, meta)
	if err != nil {
		return nil, err
	}
	interaction := &models.UserInteraction{
		SessionToken: token,
		Action:       action,
		Metadata:     payload,
	}
	if err := t.repo.AppendInteraction(ctx, interaction); err != nil {
		return nil, fmt.Errorf("failed to record interaction: %w", err)
	}

	if err := t.repo.SaveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return sess, nil
}

// SessionAnalytics is the scored view of one session
type SessionAnalytics struct {
	Session              *models.UserSession `json:"session"`
	Interactions24h      int                 `json:"interactions_24h"`
	ActivityScore        int                 `json:"activity_score"`
	RecommendedFrequency int                 `json:"recommended_frequency"`
	ManualRefreshRate    float64             `json:"manual_refresh_rate"`
}

// Analytics computes the session's current score and recommendation without
// persisting anything; unknown tokens score as idle empty sessions.
func (t *Tracker) Analytics(ctx context.Context, token string) (*SessionAnalytics, error) {
	sess, err := t.lookup(ctx, token)
	if err != nil {
		return nil, err
	}

	now := t.now().UTC()
	interactions, err := t.repo.CountInteractionsSince(ctx, token, now.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to count interactions: %w", err)
	}

	rec := t.scorer.Recommend(sess, interactions, now)
	return &SessionAnalytics{
		Session:              sess,
		Interactions24h:      interactions,
		ActivityScore:        rec.Score,
		RecommendedFrequency: rec.Frequency,
		ManualRefreshRate:    sess.ManualRefreshRate(),
	}, nil
}

// RefreshPlan says when a session's next automatic refresh is due
type RefreshPlan struct {
	SessionToken  string    `json:"session_token"`
	Frequency     int       `json:"frequency"` // minutes in effect
	NextDue       time.Time `json:"next_due"`
	ShouldRefresh bool      `json:"should_refresh"`
}

// NextRefresh computes the session's refresh plan. A session that has never
// been scored gets a frequency recommendation on the fly (not persisted).
func (t *Tracker) NextRefresh(ctx context.Context, token string) (*RefreshPlan, error) {
	analytics, err := t.Analytics(ctx, token)
	if err != nil {
		return nil, err
	}

	now := t.now().UTC()
	freq := analytics.Session.PreferredUpdateFrequency
	if freq <= 0 {
		freq = analytics.RecommendedFrequency
	}

	due := NextRefreshTime(analytics.Session, freq, now)
	return &RefreshPlan{
		SessionToken:  token,
		Frequency:     freq,
		NextDue:       due,
		ShouldRefresh: !due.After(now),
	}, nil
}

// UpdateFrequency persists a caller-chosen frequency, clamped to the allowed
// range. Returns the value actually stored.
func (t *Tracker) UpdateFrequency(ctx context.Context, token string, minutes int) (int, error) {
	sess, err := t.getOrCreate(ctx, token)
	if err != nil {
		return 0, err
	}

	clamped := ClampFrequency(minutes)
	sess.PreferredUpdateFrequency = clamped
	if err := t.repo.SaveSession(ctx, sess); err != nil {
		return 0, fmt.Errorf("failed to save session: %w", err)
	}
	return clamped, nil
}

// ResetSchedule recomputes the session's frequency from its current behavior
// and persists it.
func (t *Tracker) ResetSchedule(ctx context.Context, token string) (*SessionAnalytics, error) {
	analytics, err := t.Analytics(ctx, token)
	if err != nil {
		return nil, err
	}

	analytics.Session.PreferredUpdateFrequency = analytics.RecommendedFrequency
	if err := t.repo.SaveSession(ctx, analytics.Session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return analytics, nil
}

// LoginRefresh handles the combined login-plus-refresh operation: it records
// the login and a manual refresh, adopts the freshly computed frequency, and
// returns the resulting plan.
func (t *Tracker) LoginRefresh(ctx context.Context, token string, meta *models.LoginMetadata) (*RefreshPlan, error) {
	var loginMeta models.InteractionMetadata
	if meta != nil {
		loginMeta = *meta
	}
	if _, err := t.Track(ctx, token, models.InteractionLogin, loginMeta); err != nil {
		return nil, err
	}
	if _, err := t.Track(ctx, token, models.InteractionManualRefresh, models.RefreshMetadata{Trigger: "login"}); err != nil {
		return nil, err
	}

	if _, err := t.ResetSchedule(ctx, token); err != nil {
		return nil, err
	}
	return t.NextRefresh(ctx, token)
}
