// Package poller implements the client-side adaptive refresh loop. One
// Poller instance serves one session: a cheap once-a-minute due check, a
// server-derived cadence, bounded retries with exponential backoff, and
// explicit pause/resume control. Instances are independent and uncoordinated.
package poller

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jobpulse/scraper-agent/internal/activity"
	"github.com/jobpulse/scraper-agent/internal/models"
	"github.com/jobpulse/scraper-agent/pkg/logger"
)

// Fetcher performs the actual dashboard refresh. Kept separate from the
// scheduling math so a push-based transport can satisfy the same contract.
type Fetcher interface {
	Fetch(ctx context.Context) error
}

// ScheduleAPI is the slice of the activity tracker the poller needs
type ScheduleAPI interface {
	NextRefresh(ctx context.Context, token string) (*activity.RefreshPlan, error)
	Track(ctx context.Context, token string, action models.InteractionType, meta models.InteractionMetadata) (*models.UserSession, error)
}

// State is the poller lifecycle state
type State string

const (
	StateInactive State = "inactive"
	StateActive   State = "active"
	StatePaused   State = "paused"
)

// Options configures a poller instance
type Options struct {
	CheckInterval     time.Duration // due-check cadence, default 1m
	MaxRetries        int           // consecutive failures before going inactive
	BackoffMultiplier float64       // retry delay growth factor
}

// Poller is a single-session adaptive refresh loop. One fetch is in flight
// at a time; the check timer itself never blocks.
type Poller struct {
	session string
	api     ScheduleAPI
	fetcher Fetcher
	opts    Options
	log     *logger.Logger
	now     func() time.Time

	mu         sync.Mutex
	state      State
	retryCount int
	nextDue    time.Time
	inFlight   bool
	ticker     *time.Ticker
	stopCh     chan struct{}
}

// New creates an inactive poller for one session
func New(session string, api ScheduleAPI, fetcher Fetcher, opts Options, log *logger.Logger) *Poller {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = time.Minute
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BackoffMultiplier <= 0 {
		opts.BackoffMultiplier = 2.0
	}
	return &Poller{
		session: session,
		api:     api,
		fetcher: fetcher,
		opts:    opts,
		log:     log.WithComponent("poller").WithSession(session),
		now:     time.Now,
		state:   StateInactive,
	}
}

// State returns the current lifecycle state
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start performs the initial fetch and, on success, activates the check
// loop. A failed initial fetch leaves the poller inactive.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateInactive {
		p.mu.Unlock()
		return fmt.Errorf("poller already started (state %s)", p.state)
	}
	p.mu.Unlock()

	if err := p.refresh(ctx, false); err != nil {
		return fmt.Errorf("initial fetch failed: %w", err)
	}

	p.mu.Lock()
	p.state = StateActive
	p.stopCh = make(chan struct{})
	p.ticker = time.NewTicker(p.opts.CheckInterval)
	p.mu.Unlock()

	go p.loop(ctx)

	p.log.Info().Dur("check_interval", p.opts.CheckInterval).Msg("Poller activated")
	return nil
}

// loop runs the cheap periodic due check
func (p *Poller) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.Stop()
			return
		case <-p.stopCh:
			return
		case <-p.ticker.C:
			p.checkOnce(ctx)
		}
	}
}

// checkOnce performs the cheap due comparison and refreshes only when due
func (p *Poller) checkOnce(ctx context.Context) {
	p.mu.Lock()
	if p.state != StateActive || p.inFlight || p.now().Before(p.nextDue) {
		p.mu.Unlock()
		return
	}
	p.inFlight = true
	p.mu.Unlock()

	err := p.fetcher.Fetch(ctx)

	p.mu.Lock()
	p.inFlight = false
	p.mu.Unlock()

	if err != nil {
		p.recordFailure(err)
		return
	}
	p.recordSuccess(ctx, false)
}

// ForceRefresh bypasses the due check: it resets the periodic timer, fetches
// immediately, and records the refresh as manual.
func (p *Poller) ForceRefresh(ctx context.Context) error {
	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		return fmt.Errorf("refresh already in flight")
	}
	p.inFlight = true
	if p.ticker != nil {
		p.ticker.Reset(p.opts.CheckInterval)
	}
	p.mu.Unlock()

	err := p.fetcher.Fetch(ctx)

	p.mu.Lock()
	p.inFlight = false
	p.mu.Unlock()

	if err != nil {
		p.recordFailure(err)
		return err
	}
	p.recordSuccess(ctx, true)
	return nil
}

// refresh runs one fetch outside the loop (initial fetch)
func (p *Poller) refresh(ctx context.Context, manual bool) error {
	if err := p.fetcher.Fetch(ctx); err != nil {
		return err
	}
	p.recordSuccess(ctx, manual)
	return nil
}

// recordSuccess reports the interaction, clears the retry counter, and
// adopts the server's next due time.
func (p *Poller) recordSuccess(ctx context.Context, manual bool) {
	action := models.InteractionAutoRefresh
	trigger := "poller"
	if manual {
		action = models.InteractionManualRefresh
		trigger = "force"
	}
	if _, err := p.api.Track(ctx, p.session, action, models.RefreshMetadata{Trigger: trigger}); err != nil {
		p.log.Warn().Err(err).Msg("Failed to report refresh interaction")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.retryCount = 0

	plan, err := p.api.NextRefresh(ctx, p.session)
	if err != nil {
		// Fall back to one check interval; the next success resyncs
		p.log.Warn().Err(err).Msg("Failed to load refresh plan")
		p.nextDue = p.now().Add(p.opts.CheckInterval)
		return
	}
	p.nextDue = plan.NextDue

	p.log.Debug().
		Time("next_due", p.nextDue).
		Int("frequency_min", plan.Frequency).
		Msg("Scheduled next refresh")
}

// recordFailure counts a failed fetch and either schedules a backoff retry
// or disables the poller once the retry budget is spent.
func (p *Poller) recordFailure(cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.retryCount++
	if p.retryCount >= p.opts.MaxRetries {
		p.state = StateInactive
		p.log.Error().
			Err(cause).
			Int("retries", p.retryCount).
			Msg("Retry budget exhausted, poller disabled")
		return
	}

	backoff := time.Duration(float64(time.Minute) * math.Pow(p.opts.BackoffMultiplier, float64(p.retryCount-1)))
	p.nextDue = p.now().Add(backoff)

	p.log.Warn().
		Err(cause).
		Int("retry", p.retryCount).
		Dur("backoff", backoff).
		Msg("Refresh failed, retry scheduled")
}

// Pause suspends due checks without losing schedule state
func (p *Poller) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateActive {
		p.state = StatePaused
	}
}

// Resume reactivates a paused or disabled poller and clears the retry budget
func (p *Poller) Resume(ctx context.Context) {
	p.mu.Lock()
	p.state = StateActive
	p.retryCount = 0
	p.mu.Unlock()

	// Resync the schedule so a long pause does not fire immediately with a
	// stale due time.
	plan, err := p.api.NextRefresh(ctx, p.session)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.nextDue = p.now().Add(p.opts.CheckInterval)
		return
	}
	p.nextDue = plan.NextDue
}

// Stop tears the poller down: all timers stop and the state is inactive
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ticker != nil {
		p.ticker.Stop()
	}
	if p.stopCh != nil {
		select {
		case <-p.stopCh:
			// already closed
		default:
			close(p.stopCh)
		}
	}
	p.state = StateInactive
}
