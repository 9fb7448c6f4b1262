package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Mode is the operating posture an organization asks its nodes to adopt.
type Mode string

const (
	ModeBlocking Mode = "BLOCKING"
	ModeMonitor  Mode = "MONITOR"
	ModeDisabled Mode = "DISABLED"
)

// DefaultMode is assigned to newly created organizations.
const DefaultMode = ModeMonitor

// ParseMode accepts any casing of a known mode.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(value))) {
	case ModeBlocking:
		return ModeBlocking, nil
	case ModeMonitor:
		return ModeMonitor, nil
	case ModeDisabled:
		return ModeDisabled, nil
	}
	return "", fmt.Errorf("unknown mode %q", value)
}

// Organization is one tenant: its credentials, rules and operating knobs.
type Organization struct {
	Name                     string            `json:"orgName" dynamodbav:"orgName"`
	APIKeysByName            map[string]APIKey `json:"apiKeysByName" dynamodbav:"apiKeysByName"`
	RulesByName              map[string]Rule   `json:"rulesByName" dynamodbav:"rulesByName"`
	RulesLastUpdated         time.Time         `json:"rulesLastUpdated" dynamodbav:"rulesLastUpdated"`
	Mode                     Mode              `json:"mode" dynamodbav:"mode"`
	AwaitTimeoutMs           int64             `json:"awaitTimeoutMs" dynamodbav:"awaitTimeoutMs"`
	CollectAdditionalHeaders []string          `json:"collectAdditionalHeaders,omitempty" dynamodbav:"collectAdditionalHeaders,omitempty"`
	KeyMapperSource          *string           `json:"keyMapperSource,omitempty" dynamodbav:"keyMapperSource,omitempty"`
	EndpointMapperSource     *string           `json:"endpointMapperSource,omitempty" dynamodbav:"endpointMapperSource,omitempty"`
}

// APIKey is a secret credential scoped to one organization.
type APIKey struct {
	Value             string   `json:"apiKeyValue" dynamodbav:"apiKeyValue"`
	Enabled           bool     `json:"enabled" dynamodbav:"enabled"`
	IsAdmin           bool     `json:"isAdmin" dynamodbav:"isAdmin"`
	AllowedEventTypes []string `json:"allowedEventTypes" dynamodbav:"allowedEventTypes"`
}

// AllowsEventType reports whether the key may emit events of the given type.
// An empty allow-list permits every type.
func (k APIKey) AllowsEventType(eventType string) bool {
	return len(k.AllowedEventTypes) == 0 || slices.Contains(k.AllowedEventTypes, eventType)
}

// Rule is a named, prioritized transform applied to events of the listed types.
type Rule struct {
	Description string   `json:"description,omitempty" dynamodbav:"description,omitempty"`
	Priority    int      `json:"priority" dynamodbav:"priority"`
	Enabled     bool     `json:"enabled" dynamodbav:"enabled"`
	Source      string   `json:"source" dynamodbav:"source"`
	EventTypes  []string `json:"eventTypes" dynamodbav:"eventTypes"`
}

// NewOrganization returns the record written by a create call.
func NewOrganization(name string, awaitTimeoutMs int64, now time.Time) *Organization {
	return &Organization{
		Name:             name,
		APIKeysByName:    map[string]APIKey{},
		RulesByName:      map[string]Rule{},
		RulesLastUpdated: Timestamp(now),
		Mode:             DefaultMode,
		AwaitTimeoutMs:   awaitTimeoutMs,
	}
}

// Clone returns a deep copy safe to mutate.
func (o *Organization) Clone() *Organization {
	if o == nil {
		return nil
	}
	c := *o
	c.APIKeysByName = make(map[string]APIKey, len(o.APIKeysByName))
	for name, key := range o.APIKeysByName {
		key.AllowedEventTypes = slices.Clone(key.AllowedEventTypes)
		c.APIKeysByName[name] = key
	}
	c.RulesByName = make(map[string]Rule, len(o.RulesByName))
	for name, rule := range o.RulesByName {
		rule.EventTypes = slices.Clone(rule.EventTypes)
		c.RulesByName[name] = rule
	}
	c.CollectAdditionalHeaders = slices.Clone(o.CollectAdditionalHeaders)
	if o.KeyMapperSource != nil {
		v := *o.KeyMapperSource
		c.KeyMapperSource = &v
	}
	if o.EndpointMapperSource != nil {
		v := *o.EndpointMapperSource
		c.EndpointMapperSource = &v
	}
	return &c
}

// Normalize replaces nil collections so stored records always carry empty maps.
func (o *Organization) Normalize() {
	if o.APIKeysByName == nil {
		o.APIKeysByName = map[string]APIKey{}
	}
	if o.RulesByName == nil {
		o.RulesByName = map[string]Rule{}
	}
	o.RulesLastUpdated = Timestamp(o.RulesLastUpdated)
}

// Timestamp normalizes a time to the precision every backend can round-trip.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
