package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	crmRateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crm_rate_limit_remaining",
		Help: "Requests remaining in the current CRM rate limit window",
	})

	crmRateLimitDailyRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crm_rate_limit_daily_remaining",
		Help: "Requests remaining in the daily CRM budget",
	})

	crmRateLimitWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_rate_limit_waits_total",
		Help: "Total number of requests delayed by the rate policy, by reason",
	}, []string{"reason"})

	crmRateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crm_rate_limit_wait_seconds",
		Help:    "Time requests spent waiting on the rate policy",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	})
)

// ErrDailyLimitExhausted is returned by Wait when the daily budget is spent.
var ErrDailyLimitExhausted = errors.New("daily request limit exhausted")

// Policy paces outgoing requests. Wait is called before every request and
// Observe with the headers of every response.
type Policy interface {
	Wait(ctx context.Context) error
	Observe(ctx context.Context, headers http.Header)
}

// Noop is a Policy that never delays.
type Noop struct{}

// Wait implements Policy.
func (Noop) Wait(ctx context.Context) error { return ctx.Err() }

// Observe implements Policy.
func (Noop) Observe(context.Context, http.Header) {}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// MinInterval is the minimum spacing between two requests.
	MinInterval time.Duration

	// ThrottleDelay is added before each request in the warning zone.
	ThrottleDelay time.Duration

	// StateMaxAge makes older states count as unknown.
	StateMaxAge time.Duration
}

// DefaultTrackerConfig returns the default pacing.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MinInterval:   50 * time.Millisecond,
		ThrottleDelay: 1 * time.Second,
		StateMaxAge:   10 * time.Minute,
	}
}

// Tracker is a Policy driven by the API's rate limit headers.
type Tracker struct {
	store  Store
	config TrackerConfig
	logger zerolog.Logger

	mu          sync.Mutex
	lastRequest time.Time
}

// NewTracker creates a new rate limit tracker. A nil store keeps state in memory.
func NewTracker(store Store, config TrackerConfig, logger zerolog.Logger) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Tracker{
		store:  store,
		config: config,
		logger: logger,
	}
}

// GetState returns the stored state, or nil if none has been observed.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	state, err := t.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rate limit state: %w", err)
	}
	return state, nil
}

// Observe implements Policy. Store failures are logged, not returned.
func (t *Tracker) Observe(ctx context.Context, headers http.Header) {
	if err := t.UpdateFromHeaders(ctx, headers); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to update rate limit state from headers")
	}
}

// UpdateFromHeaders parses the rate limit headers and stores the new state.
// Responses without the headers leave the state untouched.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	maxReq, err := intHeader(headers, HeaderMax)
	if err != nil {
		return err
	}

	intervalMs, err := intHeader(headers, HeaderInterval)
	if err != nil {
		return err
	}

	now := time.Now()
	state := &State{
		Max:        maxReq,
		Remaining:  remain,
		Interval:   time.Duration(intervalMs) * time.Millisecond,
		LastUpdate: now,
	}
	state.ResetAt = now.Add(state.Interval)

	if headers.Get(HeaderDaily) != "" {
		if state.DailyMax, err = intHeader(headers, HeaderDaily); err != nil {
			return err
		}
		if state.DailyRemaining, err = intHeader(headers, HeaderDailyRemaining); err != nil {
			return err
		}
		crmRateLimitDailyRemaining.Set(float64(state.DailyRemaining))
	}

	if err := t.store.Save(ctx, state); err != nil {
		return fmt.Errorf("store rate limit state: %w", err)
	}

	crmRateLimitRemaining.Set(float64(remain))

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Warn().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit window nearly spent - next request waits for reset")
	case state.NeedsThrottling():
		t.logger.Info().
			Int("remaining", remain).
			Msg("Rate limit warning - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", remain).
			Int("max", maxReq).
			Msg("Rate limit state updated")
	}

	return nil
}

// Wait implements Policy. It blocks until the next request may be sent.
func (t *Tracker) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	state, err := t.GetState(ctx)
	if err != nil {
		// An unreachable store must not stop the export.
		t.logger.Warn().Err(err).Msg("Rate limit state unavailable - continuing unthrottled")
		state = nil
	}

	if state != nil && !state.IsStale(t.config.StateMaxAge) {
		switch {
		case state.DailyExhausted():
			crmRateLimitWaitsTotal.WithLabelValues("daily_exhausted").Inc()
			t.logger.Error().Int("daily_max", state.DailyMax).Msg("Daily request limit exhausted")
			return ErrDailyLimitExhausted
		case state.NeedsCriticalBlock():
			wait := state.TimeUntilReset()
			t.logger.Warn().
				Int("remaining", state.Remaining).
				Dur("wait_duration", wait).
				Msg("Rate limit critical - waiting for window reset")
			if err := t.sleep(ctx, "window_reset", wait); err != nil {
				return err
			}
		case state.NeedsThrottling():
			if err := t.sleep(ctx, "throttle", t.config.ThrottleDelay); err != nil {
				return err
			}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.lastRequest.IsZero() && t.config.MinInterval > 0 {
		if gap := t.config.MinInterval - time.Since(t.lastRequest); gap > 0 {
			if err := t.sleep(ctx, "min_interval", gap); err != nil {
				return err
			}
		}
	}
	t.lastRequest = time.Now()
	return nil
}

func (t *Tracker) sleep(ctx context.Context, reason string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	crmRateLimitWaitsTotal.WithLabelValues(reason).Inc()
	crmRateLimitWaitSeconds.Observe(d.Seconds())

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func intHeader(headers http.Header, name string) (int, error) {
	raw := headers.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s header: %w", name, err)
	}
	return n, nil
}
