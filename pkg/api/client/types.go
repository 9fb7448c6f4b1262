package client

import "time"

// Organization is the redacted organization view returned by admin calls.
type Organization struct {
	Name                     string            `json:"orgName"`
	Mode                     string            `json:"mode"`
	AwaitTimeoutMs           int64             `json:"awaitTimeoutMs"`
	CollectAdditionalHeaders []string          `json:"collectAdditionalHeaders"`
	KeyMapperSource          *string           `json:"keyMapperSource,omitempty"`
	EndpointMapperSource     *string           `json:"endpointMapperSource,omitempty"`
	APIKeys                  map[string]APIKey `json:"apiKeysByName"`
	RulesLastUpdated         time.Time         `json:"rulesLastUpdated"`
	RuleCount                int               `json:"ruleCount"`
}

// APIKey describes a key without its value.
type APIKey struct {
	Enabled           bool     `json:"enabled"`
	IsAdmin           bool     `json:"isAdmin"`
	AllowedEventTypes []string `json:"allowedEventTypes"`
}

// CreatedKey is returned once, when a key is minted.
type CreatedKey struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Rule is a named transform as stored on the organization.
type Rule struct {
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Priority    int      `json:"priority" yaml:"priority"`
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Source      string   `json:"source" yaml:"source"`
	EventTypes  []string `json:"eventTypes" yaml:"eventTypes"`
}

// Rules is the full rule set and its version.
type Rules struct {
	Rules       map[string]Rule `json:"rules"`
	LastUpdated time.Time       `json:"lastUpdated"`
}

// Node is one node's last recorded ping.
type Node struct {
	OrganizationName string    `json:"organizationName"`
	ID               string    `json:"id"`
	LastPing         time.Time `json:"lastPing"`
	TTLInEpochSec    int64     `json:"ttlInEpochSec"`
}

// NodeConfig is what a ping returns.
type NodeConfig struct {
	Mode                     string   `json:"mode"`
	AwaitTimeoutMs           int64    `json:"awaitTimeoutMs"`
	CollectAdditionalHeaders []string `json:"collectAdditionalHeaders"`
}

// HTTPEvent is a captured request submitted for evaluation.
type HTTPEvent struct {
	Timestamp time.Time         `json:"ts,omitzero"`
	IP        string            `json:"ip,omitempty"`
	Method    string            `json:"method,omitempty"`
	URL       string            `json:"url,omitempty"`
	Protocol  string            `json:"protocol,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Cookies   map[string]string `json:"cookies,omitempty"`
	UserAgent string            `json:"userAgent,omitempty"`
	Referer   string            `json:"referer,omitempty"`
	Endpoint  string            `json:"endpoint,omitempty"`
	Key       string            `json:"key,omitempty"`
}

// Action is the decision returned for an HTTP event.
type Action struct {
	Process  string            `json:"requestProcess"`
	Status   *int              `json:"status,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Cookies  []Cookie          `json:"cookies,omitempty"`
}

// Cookie is a response cookie the integration should set.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	MaxAge   *int    `json:"maxAge,omitempty"`
	Domain   *string `json:"domain,omitempty"`
	Path     *string `json:"path,omitempty"`
	Secure   *bool   `json:"secure,omitempty"`
	HTTPOnly *bool   `json:"httpOnly,omitempty"`
	SameSite *string `json:"sameSite,omitempty"`
}
