package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/umbrellafw/umbrella/internal/domain"
	"github.com/umbrellafw/umbrella/pkg/opt"
)

// RuleOutput is the parsed result of one rule, merged with what earlier rules
// produced.
type RuleOutput struct {
	State opt.Option[any]
	Out   opt.Option[any]
	Key   opt.Option[string]
	Stop  bool
}

// OutputError reports a transform result that is not a valid rule output.
type OutputError struct {
	Reason string
}

func (e *OutputError) Error() string { return "parse rule output: " + e.Reason }

// Engine runs events through an organization's rules.
type Engine struct {
	rules   *RuleSetCache
	logger  *slog.Logger
	metrics *Metrics
}

// NewEngine constructs an Engine. metrics may be nil.
func NewEngine(rules *RuleSetCache, logger *slog.Logger, metrics *Metrics) *Engine {
	return &Engine{rules: rules, logger: logger.With("component", "rules"), metrics: metrics}
}

func inputDocument(eventType string, event any, prev opt.Option[RuleOutput]) map[string]any {
	doc := map[string]any{
		"eventType": eventType,
		"event":     event,
	}
	if p, ok := prev.Get(); ok {
		if state, ok := p.State.Get(); ok {
			doc["state"] = state
		}
		if out, ok := p.Out.Get(); ok {
			doc["out"] = out
		}
	}
	return doc
}

// parseOutput validates a transform result. JSON null counts as absent.
func parseOutput(v any) (RuleOutput, error) {
	doc, ok := v.(map[string]any)
	if !ok {
		return RuleOutput{}, &OutputError{Reason: fmt.Sprintf("expected object, got %T", v)}
	}
	var out RuleOutput
	if state, ok := doc["state"]; ok && state != nil {
		out.State = opt.Some(state)
	}
	if o, ok := doc["out"]; ok && o != nil {
		out.Out = opt.Some(o)
	}
	switch stop := doc["stop"].(type) {
	case nil:
	case bool:
		out.Stop = stop
	default:
		return RuleOutput{}, &OutputError{Reason: fmt.Sprintf("stop must be a boolean, got %T", stop)}
	}
	switch key := doc["key"].(type) {
	case nil:
	case string:
		out.Key = opt.Some(key)
	default:
		return RuleOutput{}, &OutputError{Reason: fmt.Sprintf("key must be a string, got %T", key)}
	}
	return out, nil
}

// merge fills the fields a rule left out with the previous rule's values.
func merge(next RuleOutput, prev opt.Option[RuleOutput]) RuleOutput {
	p, ok := prev.Get()
	if !ok {
		return next
	}
	next.State = next.State.Or(p.State)
	next.Out = next.Out.Or(p.Out)
	next.Key = next.Key.Or(p.Key)
	return next
}

// Evaluate runs event through org's rules for eventType. It returns None when
// the organization has no applicable rule or every applicable rule failed.
// Rule failures are logged and skipped.
func (e *Engine) Evaluate(ctx context.Context, org *domain.Organization, eventType string, event any) opt.Option[RuleOutput] {
	set := e.rules.Compile(org)
	var last opt.Option[RuleOutput]
	for _, rule := range set.Rules {
		if !rule.AppliesTo(eventType) {
			continue
		}
		log := e.logger.With("org", org.Name, "rule", rule.Name, "event_type", eventType)

		transform, err := rule.Transform()
		if err != nil {
			e.metrics.observe(outcomeCompileError)
			log.Warn("rule failed to compile", "error", err)
			continue
		}
		result, err := transform.Run(ctx, inputDocument(eventType, event, last))
		if err != nil {
			e.metrics.observe(outcomeRunError)
			log.Warn("rule failed to run", "error", err)
			continue
		}
		parsed, err := parseOutput(result)
		if err != nil {
			e.metrics.observe(outcomeParseError)
			log.Warn("rule produced invalid output", "error", err)
			continue
		}
		merged := merge(parsed, last)
		last = opt.Some(merged)
		if merged.Stop {
			e.metrics.observe(outcomeStopped)
			break
		}
		e.metrics.observe(outcomeApplied)
	}
	return last
}
