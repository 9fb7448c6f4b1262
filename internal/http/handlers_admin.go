package httpx

import (
	"net/http"
	"time"

	"github.com/umbrellafw/umbrella/internal/domain"
	"github.com/umbrellafw/umbrella/internal/service/organization"
	"github.com/umbrellafw/umbrella/pkg/opt"
)

type organizationView struct {
	Name                     string                `json:"orgName"`
	Mode                     domain.Mode           `json:"mode"`
	AwaitTimeoutMs           int64                 `json:"awaitTimeoutMs"`
	CollectAdditionalHeaders []string              `json:"collectAdditionalHeaders"`
	KeyMapperSource          *string               `json:"keyMapperSource,omitempty"`
	EndpointMapperSource     *string               `json:"endpointMapperSource,omitempty"`
	APIKeys                  map[string]apiKeyView `json:"apiKeysByName"`
	RulesLastUpdated         time.Time             `json:"rulesLastUpdated"`
	RuleCount                int                   `json:"ruleCount"`
}

// apiKeyView never carries the key value.
type apiKeyView struct {
	Enabled           bool     `json:"enabled"`
	IsAdmin           bool     `json:"isAdmin"`
	AllowedEventTypes []string `json:"allowedEventTypes"`
}

func viewOrganization(org *domain.Organization) organizationView {
	keys := make(map[string]apiKeyView, len(org.APIKeysByName))
	for name, key := range org.APIKeysByName {
		types := key.AllowedEventTypes
		if types == nil {
			types = []string{}
		}
		keys[name] = apiKeyView{Enabled: key.Enabled, IsAdmin: key.IsAdmin, AllowedEventTypes: types}
	}
	headers := org.CollectAdditionalHeaders
	if headers == nil {
		headers = []string{}
	}
	return organizationView{
		Name:                     org.Name,
		Mode:                     org.Mode,
		AwaitTimeoutMs:           org.AwaitTimeoutMs,
		CollectAdditionalHeaders: headers,
		KeyMapperSource:          org.KeyMapperSource,
		EndpointMapperSource:     org.EndpointMapperSource,
		APIKeys:                  keys,
		RulesLastUpdated:         org.RulesLastUpdated,
		RuleCount:                len(org.RulesByName),
	}
}

// createdKey is the only response that reveals a key value.
type createdKey struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type rulesView struct {
	Rules       map[string]domain.Rule `json:"rules"`
	LastUpdated time.Time              `json:"lastUpdated"`
}

func (r *Router) handleGetOrg(w http.ResponseWriter, req *http.Request) {
	org, ok := adminOrg(req)
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	writeJSON(w, http.StatusOK, viewOrganization(org))
}

type modeRequest struct {
	Mode string `json:"mode" validate:"required"`
}

func (r *Router) handleSetMode(w http.ResponseWriter, req *http.Request) {
	var payload modeRequest
	if err := decode(req, &payload); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	mode, err := domain.ParseMode(payload.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	r.respondOrg(w, req)(r.orgs.SetMode(req.Context(), req.PathValue("org"), mode))
}

type awaitTimeoutRequest struct {
	AwaitTimeoutMs *int64 `json:"awaitTimeoutMs" validate:"required,min=0,max=600000"`
}

func (r *Router) handleSetAwaitTimeout(w http.ResponseWriter, req *http.Request) {
	var payload awaitTimeoutRequest
	if err := decode(req, &payload); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	r.respondOrg(w, req)(r.orgs.SetAwaitTimeoutMs(req.Context(), req.PathValue("org"), *payload.AwaitTimeoutMs))
}

type headersRequest struct {
	Headers []string `json:"headers" validate:"max=64,dive,required,max=256"`
}

func (r *Router) handleSetHeaders(w http.ResponseWriter, req *http.Request) {
	var payload headersRequest
	if err := decode(req, &payload); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	r.respondOrg(w, req)(r.orgs.SetCollectAdditionalHeaders(req.Context(), req.PathValue("org"), payload.Headers))
}

type mapperRequest struct {
	Source *string `json:"source" validate:"omitempty,max=65536"`
}

func (r *Router) handleSetKeyMapper(w http.ResponseWriter, req *http.Request) {
	var payload mapperRequest
	if err := decode(req, &payload); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	r.respondOrg(w, req)(r.orgs.SetKeyMapperSource(req.Context(), req.PathValue("org"), payload.Source))
}

func (r *Router) handleSetEndpointMapper(w http.ResponseWriter, req *http.Request) {
	var payload mapperRequest
	if err := decode(req, &payload); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	r.respondOrg(w, req)(r.orgs.SetEndpointMapperSource(req.Context(), req.PathValue("org"), payload.Source))
}

type ingesterKeyRequest struct {
	Name              string   `json:"name" validate:"required,max=128"`
	AllowedEventTypes []string `json:"allowedEventTypes" validate:"dive,required,max=128"`
}

func (r *Router) handleCreateIngesterKey(w http.ResponseWriter, req *http.Request) {
	var payload ingesterKeyRequest
	if err := decode(req, &payload); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	org, err := r.orgs.CreateAPIKeyForIngester(req.Context(), req.PathValue("org"), payload.Name, payload.AllowedEventTypes)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	r.respondCreatedKey(w, org, payload.Name)
}

func (r *Router) respondCreatedKey(w http.ResponseWriter, org *domain.Organization, name string) {
	sanitized := organization.SanitizeKeyName(name)
	writeJSON(w, http.StatusCreated, createdKey{Name: sanitized, Value: org.APIKeysByName[sanitized].Value})
}

func (r *Router) handleRemoveKey(w http.ResponseWriter, req *http.Request) {
	r.respondOrg(w, req)(r.orgs.RemoveAPIKey(req.Context(), req.PathValue("org"), req.PathValue("name")))
}

type enabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (r *Router) handleSetKeyEnabled(w http.ResponseWriter, req *http.Request) {
	var payload enabledRequest
	if err := decode(req, &payload); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	r.respondOrg(w, req)(r.orgs.SetAPIKeyEnabled(req.Context(), req.PathValue("org"), req.PathValue("name"), *payload.Enabled))
}

type eventTypesRequest struct {
	AllowedEventTypes []string `json:"allowedEventTypes" validate:"dive,required,max=128"`
}

func (r *Router) handleSetKeyEventTypes(w http.ResponseWriter, req *http.Request) {
	var payload eventTypesRequest
	if err := decode(req, &payload); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	r.respondOrg(w, req)(r.orgs.SetAPIKeyAllowedEventTypes(req.Context(), req.PathValue("org"), req.PathValue("name"), payload.AllowedEventTypes))
}

func (r *Router) handleGetRules(w http.ResponseWriter, req *http.Request) {
	org, ok := adminOrg(req)
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	writeJSON(w, http.StatusOK, rulesView{Rules: org.RulesByName, LastUpdated: org.RulesLastUpdated})
}

type ruleRequest struct {
	Description string   `json:"description" validate:"max=1024"`
	Priority    int      `json:"priority"`
	Enabled     bool     `json:"enabled"`
	Source      string   `json:"source" validate:"required,max=65536"`
	EventTypes  []string `json:"eventTypes" validate:"dive,required,max=128"`
}

type rulesRequest struct {
	Rules               map[string]ruleRequest `json:"rules" validate:"dive,keys,required,max=128,endkeys"`
	ExpectedLastUpdated *time.Time             `json:"expectedLastUpdated"`
}

func (r *Router) handleSetRules(w http.ResponseWriter, req *http.Request) {
	var payload rulesRequest
	if err := decode(req, &payload); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	rules := make(map[string]domain.Rule, len(payload.Rules))
	for name, rule := range payload.Rules {
		rules[name] = domain.Rule{
			Description: rule.Description,
			Priority:    rule.Priority,
			Enabled:     rule.Enabled,
			Source:      rule.Source,
			EventTypes:  rule.EventTypes,
		}
	}
	expected := opt.None[time.Time]()
	if payload.ExpectedLastUpdated != nil {
		expected = opt.Some(*payload.ExpectedLastUpdated)
	}
	org, err := r.orgs.SetRules(req.Context(), req.PathValue("org"), rules, expected)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, rulesView{Rules: org.RulesByName, LastUpdated: org.RulesLastUpdated})
}

func (r *Router) handleSetRuleEnabled(w http.ResponseWriter, req *http.Request) {
	var payload enabledRequest
	if err := decode(req, &payload); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	org, err := r.orgs.SetRuleEnabled(req.Context(), req.PathValue("org"), req.PathValue("rule"), *payload.Enabled)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, rulesView{Rules: org.RulesByName, LastUpdated: org.RulesLastUpdated})
}

func (r *Router) handleListNodes(w http.ResponseWriter, req *http.Request) {
	nodes, err := r.health.ListForOrg(req.Context(), req.PathValue("org"))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

// respondOrg writes the redacted organization or the mapped error.
func (r *Router) respondOrg(w http.ResponseWriter, req *http.Request) func(*domain.Organization, error) {
	return func(org *domain.Organization, err error) {
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOrganization(org))
	}
}
