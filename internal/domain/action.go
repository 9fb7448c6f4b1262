package domain

import "time"

// WebEventType is the event type assigned to captured HTTP requests.
const WebEventType = "http"

// RequestProcess tells an integration whether to let a request through.
type RequestProcess string

const (
	RequestAllow RequestProcess = "ALLOW"
	RequestBlock RequestProcess = "BLOCK"
)

// Action is the decision produced for an HTTP event.
type Action struct {
	Process  RequestProcess    `json:"requestProcess"`
	Status   *int              `json:"status,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Cookies  []Cookie          `json:"cookies,omitempty"`
}

// AllowAction is returned when no rule produced an output.
func AllowAction() Action {
	return Action{Process: RequestAllow}
}

// Cookie instructs the integration to set a response cookie.
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

// HTTPMetadata is the request record an integration captures for evaluation.
type HTTPMetadata struct {
	Timestamp time.Time         `json:"ts"`
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
