package publish

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSent          = "sent"
	outcomeRateLimited   = "rate_limited"
	outcomeQuotaExceeded = "quota_exceeded"
	outcomeFailed        = "failed"
)

// Metrics counts publish outcomes.
type Metrics struct {
	messages *prometheus.CounterVec
}

// NewMetrics registers the publish counter with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "umbrella",
		Subsystem: "publish",
		Name:      "messages_total",
		Help:      "Published events by outcome",
	}, []string{"outcome"})
	if err := reg.Register(messages); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				messages = existing
			}
		}
	}
	return &Metrics{messages: messages}
}

func (m *Metrics) observe(outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(outcome).Inc()
}
