package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/umbrellafw/umbrella/internal/domain"
)

// Decision is the outcome for an HTTP event.
type Decision struct {
	Action domain.Action
	Key    string
}

// CustomDecision is the outcome for a custom event.
type CustomDecision struct {
	Result map[string]string
	Key    string
}

// EvaluateHTTP runs a captured request through org's web rules.
func (e *Engine) EvaluateHTTP(ctx context.Context, org *domain.Organization, metadata domain.HTTPMetadata) Decision {
	event, err := Document(metadata)
	if err != nil {
		e.logger.Error("encode http event", "org", org.Name, "error", err)
		return Decision{Action: domain.AllowAction()}
	}
	output, ok := e.Evaluate(ctx, org, domain.WebEventType, event).Get()
	if !ok {
		return Decision{Action: domain.AllowAction()}
	}
	decision := Decision{Action: domain.AllowAction(), Key: output.Key.OrElse("")}
	out, ok := output.Out.Get()
	if !ok {
		return decision
	}
	action, problems, err := toAction(out)
	if err != nil {
		e.logger.Warn("rule output is not an action", "org", org.Name, "error", err)
		return decision
	}
	for _, problem := range problems {
		e.logger.Warn("dropped invalid action field", "org", org.Name, "error", problem)
	}
	decision.Action = action
	return decision
}

// EvaluateCustom runs a custom event through org's rules for eventType.
func (e *Engine) EvaluateCustom(ctx context.Context, org *domain.Organization, eventType string, metadata map[string]string) CustomDecision {
	event := make(map[string]any, len(metadata))
	for k, v := range metadata {
		event[k] = v
	}
	decision := CustomDecision{Result: map[string]string{}}
	output, ok := e.Evaluate(ctx, org, eventType, event).Get()
	if !ok {
		return decision
	}
	decision.Key = output.Key.OrElse("")
	out, ok := output.Out.Get()
	if !ok {
		return decision
	}
	fields, ok := out.(map[string]any)
	if !ok {
		e.logger.Warn("custom rule output is not an object", "org", org.Name, "event_type", eventType)
		return decision
	}
	decision.Result = stringMap(fields)
	return decision
}

// toAction reads an action document. process is read first and never lost;
// an invalid status or cookie is dropped and reported in problems.
func toAction(v any) (domain.Action, []error, error) {
	doc, ok := v.(map[string]any)
	if !ok {
		return domain.Action{}, nil, fmt.Errorf("expected object, got %T", v)
	}
	action := domain.AllowAction()
	if process, ok := doc["process"].(string); ok && strings.EqualFold(process, string(domain.RequestBlock)) {
		action.Process = domain.RequestBlock
	}
	var problems []error
	if raw, present := doc["status"]; present && raw != nil {
		if status, ok := toInt(raw); ok {
			action.Status = &status
		} else {
			problems = append(problems, fmt.Errorf("status must be an integer, got %T", raw))
		}
	}
	if headers, ok := doc["headers"].(map[string]any); ok && len(headers) > 0 {
		action.Headers = stringMap(headers)
	}
	if metadata, ok := doc["metadata"].(map[string]any); ok && len(metadata) > 0 {
		action.Metadata = stringMap(metadata)
	}
	if cookies, ok := doc["cookies"].([]any); ok {
		for i, raw := range cookies {
			cookie, err := toCookie(raw)
			if err != nil {
				problems = append(problems, fmt.Errorf("cookie %d: %w", i, err))
				continue
			}
			action.Cookies = append(action.Cookies, cookie)
		}
	}
	return action, problems, nil
}

func toCookie(v any) (domain.Cookie, error) {
	doc, ok := v.(map[string]any)
	if !ok {
		return domain.Cookie{}, fmt.Errorf("must be an object, got %T", v)
	}
	name, _ := doc["name"].(string)
	if name == "" {
		return domain.Cookie{}, fmt.Errorf("name is required")
	}
	cookie := domain.Cookie{Name: name, Value: stringify(doc["value"])}
	if raw, ok := doc["maxAge"]; ok && raw != nil {
		if n, ok := toInt(raw); ok {
			cookie.MaxAge = &n
		}
	}
	cookie.Domain = optionalString(doc["domain"])
	cookie.Path = optionalString(doc["path"])
	cookie.SameSite = optionalString(doc["sameSite"])
	if b, ok := doc["secure"].(bool); ok {
		cookie.Secure = &b
	}
	if b, ok := doc["httpOnly"].(bool); ok {
		cookie.HTTPOnly = &b
	}
	return cookie, nil
}

func optionalString(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

func stringMap(fields map[string]any) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = stringify(v)
	}
	return out
}

// stringify renders non-string values as JSON.
func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
