package rules

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeApplied      = "applied"
	outcomeStopped      = "stopped"
	outcomeCompileError = "compile_error"
	outcomeRunError     = "run_error"
	outcomeParseError   = "parse_error"
)

// Metrics counts rule evaluation outcomes.
type Metrics struct {
	evaluations *prometheus.CounterVec
}

// NewMetrics registers the rule counters with reg, reusing collectors that
// are already registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	evaluations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "umbrella",
		Subsystem: "rules",
		Name:      "evaluations_total",
		Help:      "Rule executions by outcome",
	}, []string{"outcome"})
	if err := reg.Register(evaluations); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				evaluations = existing
			}
		}
	}
	return &Metrics{evaluations: evaluations}
}

func (m *Metrics) observe(outcome string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(outcome).Inc()
}
