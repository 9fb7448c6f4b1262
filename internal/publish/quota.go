package publish

import (
	"context"
	"time"

	"github.com/umbrellafw/umbrella/internal/ratelimit"
)

// QuotaPublisher enforces a fixed-window quota per organization before
// delegating to the wrapped publisher.
type QuotaPublisher struct {
	next    Publisher
	limiter ratelimit.Limiter
	limit   int
	window  time.Duration
	metrics *Metrics
	now     func() time.Time
}

// NewQuotaPublisher wraps next. A limit of zero disables the quota.
func NewQuotaPublisher(next Publisher, limiter ratelimit.Limiter, limit int, window time.Duration, metrics *Metrics) *QuotaPublisher {
	return &QuotaPublisher{next: next, limiter: limiter, limit: limit, window: window, metrics: metrics, now: time.Now}
}

// SendFor charges org's quota and then publishes.
func (p *QuotaPublisher) SendFor(ctx context.Context, org, key string, payload []byte) error {
	if p.limit > 0 && p.limiter != nil {
		decision := p.limiter.Allow("publish:"+org, p.limit, p.window)
		if !decision.Allowed {
			p.metrics.observe(outcomeQuotaExceeded)
			return &RateLimitedError{RetryAfter: decision.RetryAfter(p.now())}
		}
	}
	return p.next.Send(ctx, key, payload)
}

// Send publishes without charging a quota.
func (p *QuotaPublisher) Send(ctx context.Context, key string, payload []byte) error {
	return p.next.Send(ctx, key, payload)
}

func (p *QuotaPublisher) Close() error {
	return p.next.Close()
}
