package ratelimit

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/deskpilot/deskpilot/internal/llm"
	"github.com/deskpilot/deskpilot/internal/observability"
)

// Throttle describes one wait taken after a rate-limit response.
type Throttle struct {
	Attempt int
	Wait    time.Duration
}

// Retrier is an llm.Provider that retries throttled requests without an attempt cap.
// Every other error is returned unchanged.
type Retrier struct {
	next    llm.Provider
	fudge   time.Duration
	pacer   *Pacer
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *zap.Logger
	metrics *observability.Metrics
	hook    func(Throttle)
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithFudge overrides DefaultFudge.
func WithFudge(d time.Duration) Option {
	return func(r *Retrier) {
		if d >= 0 {
			r.fudge = d
		}
	}
}

// WithPacer awaits p before every request.
func WithPacer(p *Pacer) Option {
	return func(r *Retrier) { r.pacer = p }
}

// WithClock replaces time.Now and the sleep function.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Retrier) {
		if now != nil {
			r.now = now
		}
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Retrier) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records throttle waits.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Retrier) { r.metrics = m }
}

// WithThrottleHook is called before every wait.
func WithThrottleHook(fn func(Throttle)) Option {
	return func(r *Retrier) { r.hook = fn }
}

// Wrap decorates next with rate-limit retries.
func Wrap(next llm.Provider, opts ...Option) *Retrier {
	r := &Retrier{
		next:   next,
		fudge:  DefaultFudge,
		now:    time.Now,
		sleep:  sleepContext,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retrier) Name() string {
	return r.next.Name()
}

// Stream re-issues the identical request after each throttling response until it is
// accepted, fails otherwise, or ctx ends.
func (r *Retrier) Stream(ctx context.Context, req llm.Request) (llm.EventStream, error) {
	for attempt := 1; ; attempt++ {
		if err := r.pacer.Wait(ctx); err != nil {
			return nil, err
		}

		stream, err := r.next.Stream(ctx, req)
		var rl *llm.RateLimitError
		if !errors.As(err, &rl) {
			return stream, err
		}

		wait := SignalFromHeader(rl.Header).Wait(r.now(), r.fudge)
		r.logger.Warn("rate limited, waiting before retry",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
		)
		r.metrics.RecordThrottle(wait)
		if r.hook != nil {
			r.hook(Throttle{Attempt: attempt, Wait: wait})
		}
		if err := r.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
