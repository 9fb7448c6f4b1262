package httpx

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/umbrellafw/umbrella/internal/cache"
	"github.com/umbrellafw/umbrella/internal/domain"
	"github.com/umbrellafw/umbrella/internal/publish"
	"github.com/umbrellafw/umbrella/internal/ratelimit"
	"github.com/umbrellafw/umbrella/internal/repository/badger"
	"github.com/umbrellafw/umbrella/internal/rules"
	"github.com/umbrellafw/umbrella/internal/service/health"
	"github.com/umbrellafw/umbrella/internal/service/ingest"
	"github.com/umbrellafw/umbrella/internal/service/organization"
	"github.com/umbrellafw/umbrella/internal/ws"
	"github.com/umbrellafw/umbrella/pkg/opt"
)

const testOperatorToken = "operator-secret"

type routerOptions struct {
	publishLimit int
	adminLimit   int
	storeHealth  func(context.Context) error
}

type testRouter struct {
	router *Router
	hub    *ws.Hub
}

func newTestRouter(t *testing.T, opts routerOptions) testRouter {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := badger.OpenInMemory()
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	orgCache, err := cache.New[opt.Option[*domain.Organization]](100, time.Minute, cache.ExpireAfterWrite)
	if err != nil {
		t.Fatalf("org cache: %v", err)
	}
	t.Cleanup(orgCache.Close)
	ruleCache, err := rules.NewRuleSetCache(rules.JQCompiler{}, 100, time.Minute)
	if err != nil {
		t.Fatalf("rule cache: %v", err)
	}
	t.Cleanup(ruleCache.Close)

	orgs := organization.New(store, orgCache, logger, organization.Config{
		DefaultAwaitTimeoutMs: 5000,
		Purgers:               []organization.Purger{ruleCache},
	})
	healthSvc := health.New(store, logger, health.Config{Shards: 2})
	hub := ws.NewHub()
	t.Cleanup(hub.Close)

	limiter := ratelimit.NewMemory()
	t.Cleanup(limiter.Close)
	sink := publish.NewQuotaPublisher(publish.NewLogPublisher(logger), limiter, opts.publishLimit, time.Minute, nil)
	ingestSvc := ingest.New(orgs, healthSvc, rules.NewEngine(ruleCache, logger, nil), sink, logger, ingest.Config{Notifier: hub})

	adminLimit := opts.adminLimit
	if adminLimit == 0 {
		adminLimit = -1
	}
	router := NewRouter(logger, Dependencies{
		Organizations:  orgs,
		Health:         healthSvc,
		Ingest:         ingestSvc,
		Hub:            hub,
		Limiter:        limiter,
		Registerer:     prometheus.NewRegistry(),
		OperatorToken:  testOperatorToken,
		AdminRateLimit: adminLimit,
		StoreHealth:    opts.storeHealth,
	})
	return testRouter{router: router, hub: hub}
}

func (tr testRouter) do(t *testing.T, method, path string, headers map[string]string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	tr.router.ServeHTTP(rr, req)
	return rr
}

func operator() map[string]string {
	return map[string]string{operatorTokenHeader: testOperatorToken}
}

func apiKey(value string) map[string]string {
	return map[string]string{"Authorization": "apikey " + value}
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func parseError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[map[string]string](t, rr)["error"]
}

// bootstrap creates acme with an admin key and an ingest key.
func (tr testRouter) bootstrap(t *testing.T) (admin, ingester string) {
	t.Helper()
	if rr := tr.do(t, http.MethodPost, "/v1/orgs/acme", operator(), nil); rr.Code != http.StatusCreated {
		t.Fatalf("create org: %d %s", rr.Code, rr.Body.String())
	}
	rr := tr.do(t, http.MethodPost, "/v1/orgs/acme/apikeys/admin", operator(), map[string]string{"name": "ops"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("admin key: %d %s", rr.Code, rr.Body.String())
	}
	admin = decodeBody[createdKey](t, rr).Value
	rr = tr.do(t, http.MethodPost, "/v1/orgs/acme/apikeys", apiKey(admin), map[string]any{"name": "edge node"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("ingest key: %d %s", rr.Code, rr.Body.String())
	}
	created := decodeBody[createdKey](t, rr)
	if created.Name != "edge_node" {
		t.Fatalf("expected sanitized key name, got %q", created.Name)
	}
	return admin, created.Value
}

func TestOperatorRoutesRequireToken(t *testing.T) {
	tr := newTestRouter(t, routerOptions{})

	rr := tr.do(t, http.MethodPost, "/v1/orgs/acme", map[string]string{operatorTokenHeader: "wrong"}, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if rr := tr.do(t, http.MethodPost, "/v1/orgs/acme", operator(), nil); rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	rr = tr.do(t, http.MethodPost, "/v1/orgs/acme", operator(), nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", rr.Code)
	}
	rr = tr.do(t, http.MethodPost, "/v1/orgs/bad%20name", operator(), nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad name, got %d", rr.Code)
	}
}

func TestAdminViewRedactsKeys(t *testing.T) {
	tr := newTestRouter(t, routerOptions{})
	admin, ingester := tr.bootstrap(t)

	rr := tr.do(t, http.MethodGet, "/v1/orgs/acme", apiKey(admin), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get org: %d %s", rr.Code, rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), admin) || strings.Contains(rr.Body.String(), ingester) {
		t.Fatal("organization view leaked a key value")
	}
	view := decodeBody[organizationView](t, rr)
	if len(view.APIKeys) != 2 || !view.APIKeys["ops"].IsAdmin {
		t.Fatalf("unexpected keys %+v", view.APIKeys)
	}

	for name, headers := range map[string]map[string]string{
		"ingest key": apiKey(ingester),
		"missing":    nil,
		"wrong":      apiKey("nope"),
	} {
		if rr := tr.do(t, http.MethodGet, "/v1/orgs/acme", headers, nil); rr.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", name, rr.Code)
		}
	}
	if rr := tr.do(t, http.MethodGet, "/v1/orgs/ghost", apiKey(admin), nil); rr.Code != http.StatusForbidden {
		t.Fatalf("unknown org must look like a bad credential, got %d", rr.Code)
	}
}

func TestIngestFlow(t *testing.T) {
	tr := newTestRouter(t, routerOptions{})
	admin, ingester := tr.bootstrap(t)

	rr := tr.do(t, http.MethodPut, "/v1/orgs/acme/rules", apiKey(admin), map[string]any{
		"rules": map[string]any{
			"block-bots": map[string]any{
				"priority":   10,
				"enabled":    true,
				"eventTypes": []string{domain.WebEventType},
				"source":     `if .event.userAgent == "bot" then {out: {process: "BLOCK", status: 429}} else {} end`,
			},
		},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("set rules: %d %s", rr.Code, rr.Body.String())
	}
	if rr := tr.do(t, http.MethodPut, "/v1/orgs/acme/mode", apiKey(admin), map[string]string{"mode": "blocking"}); rr.Code != http.StatusOK {
		t.Fatalf("set mode: %d %s", rr.Code, rr.Body.String())
	}

	rr = tr.do(t, http.MethodPost, "/v1/orgs/acme/ping", apiKey(ingester), map[string]string{"nodeId": "node-1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("ping: %d %s", rr.Code, rr.Body.String())
	}
	cfg := decodeBody[ingest.NodeConfig](t, rr)
	if cfg.Mode != domain.ModeBlocking || cfg.AwaitTimeoutMs != 5000 {
		t.Fatalf("unexpected node config %+v", cfg)
	}

	rr = tr.do(t, http.MethodPost, "/v1/orgs/acme/events/http", apiKey(ingester), domain.HTTPMetadata{UserAgent: "bot"})
	if rr.Code != http.StatusOK {
		t.Fatalf("http event: %d %s", rr.Code, rr.Body.String())
	}
	action := decodeBody[domain.Action](t, rr)
	if action.Process != domain.RequestBlock || action.Status == nil || *action.Status != 429 {
		t.Fatalf("unexpected action %+v", action)
	}

	rr = tr.do(t, http.MethodGet, "/v1/orgs/acme/nodes", apiKey(admin), nil)
	nodes := decodeBody[map[string][]domain.NodeHealth](t, rr)["nodes"]
	if len(nodes) != 1 || nodes[0].ID != "node-1" {
		t.Fatalf("unexpected nodes %+v", nodes)
	}
	rr = tr.do(t, http.MethodGet, "/v1/nodes", operator(), nil)
	if all := decodeBody[map[string][]domain.NodeHealth](t, rr)["nodes"]; len(all) != 1 {
		t.Fatalf("unexpected fleet listing %+v", all)
	}

	rr = tr.do(t, http.MethodPost, "/v1/orgs/acme/ping", apiKey(ingester), map[string]string{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without node id, got %d", rr.Code)
	}
}

func TestCustomEventRespectsAllowedTypes(t *testing.T) {
	tr := newTestRouter(t, routerOptions{})
	admin, _ := tr.bootstrap(t)

	rr := tr.do(t, http.MethodPost, "/v1/orgs/acme/apikeys", apiKey(admin), map[string]any{
		"name":              "login-only",
		"allowedEventTypes": []string{"login"},
	})
	key := decodeBody[createdKey](t, rr).Value

	rr = tr.do(t, http.MethodPost, "/v1/orgs/acme/events/custom/login", apiKey(key), map[string]string{"user": "u"})
	if rr.Code != http.StatusOK {
		t.Fatalf("custom event: %d %s", rr.Code, rr.Body.String())
	}
	rr = tr.do(t, http.MethodPost, "/v1/orgs/acme/events/custom/signup", apiKey(key), map[string]string{"user": "u"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for disallowed type, got %d", rr.Code)
	}
	rr = tr.do(t, http.MethodPost, "/v1/orgs/acme/events/http", apiKey(key), domain.HTTPMetadata{})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for web events, got %d", rr.Code)
	}
}

func TestStaleRulesVersionConflicts(t *testing.T) {
	tr := newTestRouter(t, routerOptions{})
	admin, _ := tr.bootstrap(t)

	rr := tr.do(t, http.MethodGet, "/v1/orgs/acme/rules", apiKey(admin), nil)
	version := decodeBody[rulesView](t, rr).LastUpdated

	body := map[string]any{"rules": map[string]any{}, "expectedLastUpdated": version}
	if rr := tr.do(t, http.MethodPut, "/v1/orgs/acme/rules", apiKey(admin), body); rr.Code != http.StatusOK {
		t.Fatalf("first write: %d %s", rr.Code, rr.Body.String())
	}
	rr = tr.do(t, http.MethodPut, "/v1/orgs/acme/rules", apiKey(admin), body)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if !strings.Contains(parseError(t, rr), "current version") {
		t.Fatalf("conflict message must carry the current version: %q", parseError(t, rr))
	}
}

func TestValidationErrors(t *testing.T) {
	tr := newTestRouter(t, routerOptions{})
	admin, _ := tr.bootstrap(t)

	cases := []struct {
		name string
		path string
		body any
	}{
		{"missing mode", "/v1/orgs/acme/mode", map[string]string{}},
		{"unknown mode", "/v1/orgs/acme/mode", map[string]string{"mode": "loud"}},
		{"missing timeout", "/v1/orgs/acme/await-timeout", map[string]string{}},
		{"negative timeout", "/v1/orgs/acme/await-timeout", map[string]int{"awaitTimeoutMs": -1}},
		{"missing enabled", "/v1/orgs/acme/apikeys/ops/enabled", map[string]string{}},
		{"rule without source", "/v1/orgs/acme/rules", map[string]any{"rules": map[string]any{"r": map[string]any{"priority": 1}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := tr.do(t, http.MethodPut, tc.path, apiKey(admin), tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d %s", rr.Code, rr.Body.String())
			}
		})
	}
	rr := tr.do(t, http.MethodPut, "/v1/orgs/acme/apikeys/ghost/enabled", apiKey(admin), map[string]bool{"enabled": false})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown key, got %d", rr.Code)
	}
}

func TestPublishQuotaReturns429(t *testing.T) {
	tr := newTestRouter(t, routerOptions{publishLimit: 1})
	_, ingester := tr.bootstrap(t)

	if rr := tr.do(t, http.MethodPost, "/v1/orgs/acme/events/http", apiKey(ingester), domain.HTTPMetadata{}); rr.Code != http.StatusOK {
		t.Fatalf("first event: %d", rr.Code)
	}
	rr := tr.do(t, http.MethodPost, "/v1/orgs/acme/events/http", apiKey(ingester), domain.HTTPMetadata{})
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestAdminRateLimit(t *testing.T) {
	tr := newTestRouter(t, routerOptions{adminLimit: 3})
	admin, _ := tr.bootstrap(t)

	// bootstrap used all three admin-surface hits for this client IP.
	rr := tr.do(t, http.MethodGet, "/v1/orgs/acme", apiKey(admin), nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("X-RateLimit-Limit") != "3" {
		t.Fatalf("expected rate limit headers, got %v", rr.Header())
	}
}

func TestDeleteOrganization(t *testing.T) {
	tr := newTestRouter(t, routerOptions{})
	admin, _ := tr.bootstrap(t)

	if rr := tr.do(t, http.MethodDelete, "/v1/orgs/acme", operator(), nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rr.Code)
	}
	if rr := tr.do(t, http.MethodGet, "/v1/orgs/acme", apiKey(admin), nil); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 after delete, got %d", rr.Code)
	}
	if rr := tr.do(t, http.MethodDelete, "/v1/orgs/acme", operator(), nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rr.Code)
	}
}

func TestHealthzReportsStore(t *testing.T) {
	tr := newTestRouter(t, routerOptions{storeHealth: func(context.Context) error { return errors.New("down") }})

	rr := tr.do(t, http.MethodGet, "/healthz", nil, nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected request id header")
	}
}

func waitForSubscribers(t *testing.T, hub *ws.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNodeStreamWebsocket(t *testing.T) {
	tr := newTestRouter(t, routerOptions{})
	admin, ingester := tr.bootstrap(t)
	srv := httptest.NewServer(tr.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/orgs/acme/nodes/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": {"apikey " + admin}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitForSubscribers(t, tr.hub, 1)

	if rr := tr.do(t, http.MethodPost, "/v1/orgs/acme/ping", apiKey(ingester), map[string]string{"nodeId": "node-9"}); rr.Code != http.StatusOK {
		t.Fatalf("ping: %d", rr.Code)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event ws.NodeEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read: %v", err)
	}
	if event.Type != ws.NodeOnline || event.NodeID != "node-9" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestNodeStreamSSE(t *testing.T) {
	tr := newTestRouter(t, routerOptions{})
	admin, ingester := tr.bootstrap(t)
	srv := httptest.NewServer(tr.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/orgs/acme/nodes/events?api_key="+admin, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	waitForSubscribers(t, tr.hub, 1)

	if rr := tr.do(t, http.MethodPost, "/v1/orgs/acme/ping", apiKey(ingester), map[string]string{"nodeId": "node-3"}); rr.Code != http.StatusOK {
		t.Fatalf("ping: %d", rr.Code)
	}
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
				lines <- strings.TrimPrefix(line, "data: ")
				return
			}
		}
	}()
	select {
	case line := <-lines:
		var event ws.NodeEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if event.NodeID != "node-3" {
			t.Fatalf("unexpected event %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}
