package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Pacer spaces provider requests ahead of the service's own limits.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer allows perMinute requests per minute with no burst. It returns nil when perMinute <= 0.
func NewPacer(perMinute int) *Pacer {
	if perMinute <= 0 {
		return nil
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60), 1)}
}

// Wait blocks until the next request may be sent. A nil Pacer never blocks.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}
