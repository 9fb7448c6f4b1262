package client

import (
	"context"
	"net/http"
	"time"
)

// CreateOrganization creates org. Operator only.
func (c *Client) CreateOrganization(ctx context.Context, org string) (*Organization, error) {
	var out Organization
	if err := c.do(ctx, http.MethodPost, orgPath(org), authOperator, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteOrganization removes org. Operator only.
func (c *Client) DeleteOrganization(ctx context.Context, org string) error {
	return c.do(ctx, http.MethodDelete, orgPath(org), authOperator, nil, nil)
}

// CreateAdminKey mints an admin key for org. Operator only.
func (c *Client) CreateAdminKey(ctx context.Context, org, name string) (*CreatedKey, error) {
	var out CreatedKey
	if err := c.do(ctx, http.MethodPost, orgPath(org, "apikeys", "admin"), authOperator, map[string]string{"name": name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAllNodes lists every node of every organization. Operator only.
func (c *Client) ListAllNodes(ctx context.Context) ([]Node, error) {
	var out struct {
		Nodes []Node `json:"nodes"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/nodes", authOperator, nil, &out); err != nil {
		return nil, err
	}
	return out.Nodes, nil
}

// GetOrganization returns the redacted organization.
func (c *Client) GetOrganization(ctx context.Context, org string) (*Organization, error) {
	var out Organization
	if err := c.do(ctx, http.MethodGet, orgPath(org), authKey, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) putOrg(ctx context.Context, path string, body any) (*Organization, error) {
	var out Organization
	if err := c.do(ctx, http.MethodPut, path, authKey, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetMode changes the mode nodes are told to run in.
func (c *Client) SetMode(ctx context.Context, org, mode string) (*Organization, error) {
	return c.putOrg(ctx, orgPath(org, "mode"), map[string]string{"mode": mode})
}

// SetAwaitTimeout changes how long nodes wait for a decision.
func (c *Client) SetAwaitTimeout(ctx context.Context, org string, timeout time.Duration) (*Organization, error) {
	return c.putOrg(ctx, orgPath(org, "await-timeout"), map[string]int64{"awaitTimeoutMs": timeout.Milliseconds()})
}

// SetCollectedHeaders replaces the extra headers nodes capture.
func (c *Client) SetCollectedHeaders(ctx context.Context, org string, headers []string) (*Organization, error) {
	if headers == nil {
		headers = []string{}
	}
	return c.putOrg(ctx, orgPath(org, "headers"), map[string][]string{"headers": headers})
}

// SetKeyMapper sets or, with nil, clears the key mapper program.
func (c *Client) SetKeyMapper(ctx context.Context, org string, source *string) (*Organization, error) {
	return c.putOrg(ctx, orgPath(org, "key-mapper"), map[string]*string{"source": source})
}

// SetEndpointMapper sets or, with nil, clears the endpoint mapper program.
func (c *Client) SetEndpointMapper(ctx context.Context, org string, source *string) (*Organization, error) {
	return c.putOrg(ctx, orgPath(org, "endpoint-mapper"), map[string]*string{"source": source})
}

// CreateIngesterKey mints a non-admin key limited to eventTypes, or to all
// types when eventTypes is empty.
func (c *Client) CreateIngesterKey(ctx context.Context, org, name string, eventTypes []string) (*CreatedKey, error) {
	body := map[string]any{"name": name, "allowedEventTypes": eventTypes}
	var out CreatedKey
	if err := c.do(ctx, http.MethodPost, orgPath(org, "apikeys"), authKey, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveKey deletes a key.
func (c *Client) RemoveKey(ctx context.Context, org, name string) (*Organization, error) {
	var out Organization
	if err := c.do(ctx, http.MethodDelete, orgPath(org, "apikeys", name), authKey, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetKeyEnabled enables or disables a key.
func (c *Client) SetKeyEnabled(ctx context.Context, org, name string, enabled bool) (*Organization, error) {
	return c.putOrg(ctx, orgPath(org, "apikeys", name, "enabled"), map[string]bool{"enabled": enabled})
}

// SetKeyEventTypes replaces a key's allowed event types.
func (c *Client) SetKeyEventTypes(ctx context.Context, org, name string, eventTypes []string) (*Organization, error) {
	if eventTypes == nil {
		eventTypes = []string{}
	}
	return c.putOrg(ctx, orgPath(org, "apikeys", name, "event-types"), map[string][]string{"allowedEventTypes": eventTypes})
}

// GetRules returns the rule set and its version.
func (c *Client) GetRules(ctx context.Context, org string) (*Rules, error) {
	var out Rules
	if err := c.do(ctx, http.MethodGet, orgPath(org, "rules"), authKey, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetRules replaces the rule set. A non-nil expected version makes the write
// fail with 409 when the stored version differs.
func (c *Client) SetRules(ctx context.Context, org string, rules map[string]Rule, expected *time.Time) (*Rules, error) {
	if rules == nil {
		rules = map[string]Rule{}
	}
	body := struct {
		Rules               map[string]Rule `json:"rules"`
		ExpectedLastUpdated *time.Time      `json:"expectedLastUpdated,omitempty"`
	}{Rules: rules, ExpectedLastUpdated: expected}
	var out Rules
	if err := c.do(ctx, http.MethodPut, orgPath(org, "rules"), authKey, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetRuleEnabled enables or disables one rule.
func (c *Client) SetRuleEnabled(ctx context.Context, org, rule string, enabled bool) (*Rules, error) {
	var out Rules
	if err := c.do(ctx, http.MethodPut, orgPath(org, "rules", rule, "enabled"), authKey, map[string]bool{"enabled": enabled}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListNodes lists the organization's nodes.
func (c *Client) ListNodes(ctx context.Context, org string) ([]Node, error) {
	var out struct {
		Nodes []Node `json:"nodes"`
	}
	if err := c.do(ctx, http.MethodGet, orgPath(org, "nodes"), authKey, nil, &out); err != nil {
		return nil, err
	}
	return out.Nodes, nil
}

// Ping records a liveness ping for nodeID and returns the node configuration.
func (c *Client) Ping(ctx context.Context, org, nodeID string) (*NodeConfig, error) {
	var out NodeConfig
	if err := c.do(ctx, http.MethodPost, orgPath(org, "ping"), authKey, map[string]string{"nodeId": nodeID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendHTTPEvent submits a captured request and returns the decision.
func (c *Client) SendHTTPEvent(ctx context.Context, org string, event HTTPEvent) (*Action, error) {
	var out Action
	if err := c.do(ctx, http.MethodPost, orgPath(org, "events", "http"), authKey, event, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendCustomEvent submits a custom event and returns the rule result.
func (c *Client) SendCustomEvent(ctx context.Context, org, eventType string, metadata map[string]string) (map[string]string, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	var out struct {
		Result map[string]string `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, orgPath(org, "events", "custom", eventType), authKey, metadata, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}
