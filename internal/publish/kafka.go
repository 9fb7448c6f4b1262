package publish

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// throttleBackoff is reported to callers when the broker rejects a write for quota.
const throttleBackoff = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig selects the brokers and topic events are written to.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// KafkaPublisher writes records keyed so one key always lands on one partition.
type KafkaPublisher struct {
	writer  messageWriter
	logger  *slog.Logger
	metrics *Metrics
}

// NewKafkaPublisher constructs a synchronous writer over cfg.Brokers.
func NewKafkaPublisher(cfg KafkaConfig, logger *slog.Logger, metrics *Metrics) *KafkaPublisher {
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           batchTimeout,
		AllowAutoTopicCreation: false,
	}
	return newKafkaPublisher(w, logger, metrics)
}

func newKafkaPublisher(w messageWriter, logger *slog.Logger, metrics *Metrics) *KafkaPublisher {
	return &KafkaPublisher{writer: w, logger: logger.With("component", "publish"), metrics: metrics}
}

func (p *KafkaPublisher) Send(ctx context.Context, key string, payload []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: payload})
	switch {
	case err == nil:
		p.metrics.observe(outcomeSent)
		return nil
	case throttled(err):
		p.metrics.observe(outcomeRateLimited)
		p.logger.WarnContext(ctx, "broker throttled write", "key", key)
		return &RateLimitedError{RetryAfter: throttleBackoff}
	default:
		p.metrics.observe(outcomeFailed)
		return err
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func throttled(err error) bool {
	if errors.Is(err, kafka.ThrottlingQuotaExceeded) {
		return true
	}
	var batch kafka.WriteErrors
	if errors.As(err, &batch) {
		for _, e := range batch {
			if e != nil && errors.Is(e, kafka.ThrottlingQuotaExceeded) {
				return true
			}
		}
	}
	return false
}
