// Package publish hands evaluated events to the downstream stream.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrRateLimited is returned when the downstream stream rejects a write
// because the organization exceeded its throughput.
var ErrRateLimited = errors.New("publish: rate limited")

// RateLimitedError carries how long the caller should back off.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("publish: rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// RetryAfter extracts the back-off hint from err, or zero when none is known.
func RetryAfter(err error) time.Duration {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

// Publisher writes one keyed record.
type Publisher interface {
	Send(ctx context.Context, key string, payload []byte) error
	Close() error
}

// LogPublisher logs records instead of sending them. Used when no brokers
// are configured.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher constructs a LogPublisher.
func NewLogPublisher(logger *slog.Logger) LogPublisher {
	return LogPublisher{logger: logger.With("component", "publish")}
}

func (p LogPublisher) Send(ctx context.Context, key string, payload []byte) error {
	p.logger.DebugContext(ctx, "event published", "key", key, "bytes", len(payload))
	return nil
}

func (LogPublisher) Close() error { return nil }
