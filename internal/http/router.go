package httpx

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/umbrellafw/umbrella/internal/ratelimit"
	"github.com/umbrellafw/umbrella/internal/service/health"
	"github.com/umbrellafw/umbrella/internal/service/ingest"
	"github.com/umbrellafw/umbrella/internal/service/organization"
	"github.com/umbrellafw/umbrella/internal/ws"
)

const (
	rateWindowDefault   = time.Minute
	rateLimitAdminWrite = 120
	healthCheckTimeout  = 2 * time.Second
	streamHeartbeat     = 25 * time.Second
)

// Dependencies are the services and settings the router serves.
type Dependencies struct {
	Organizations organization.Service
	Health        health.Service
	Ingest        ingest.Service
	Hub           *ws.Hub
	Limiter       ratelimit.Limiter
	// Registerer receives the HTTP metrics. Gatherer backs /metrics.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	OperatorToken   string
	AdminRateLimit  int
	AdminRateWindow time.Duration
	StoreHealth     func(context.Context) error
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux           *http.ServeMux
	logger        *slog.Logger
	orgs          organization.Service
	health        health.Service
	ingest        ingest.Service
	hub           *ws.Hub
	upgrader      websocket.Upgrader
	limiter       ratelimit.Limiter
	metrics       *routerMetrics
	gatherer      prometheus.Gatherer
	operatorToken string
	adminLimit    int
	adminWindow   time.Duration
	storeHealth   func(context.Context) error
	heartbeat     time.Duration
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, deps Dependencies) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger.With("component", "http"),
		orgs:   deps.Organizations,
		health: deps.Health,
		ingest: deps.Ingest,
		hub:    deps.Hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:       deps.Limiter,
		metrics:       newRouterMetrics(deps.Registerer),
		gatherer:      deps.Gatherer,
		operatorToken: strings.TrimSpace(deps.OperatorToken),
		adminLimit:    deps.AdminRateLimit,
		adminWindow:   deps.AdminRateWindow,
		storeHealth:   deps.StoreHealth,
		heartbeat:     streamHeartbeat,
	}
	if r.limiter == nil {
		r.limiter = ratelimit.NewMemory()
	}
	if r.adminLimit == 0 {
		r.adminLimit = rateLimitAdminWrite
	}
	if r.adminWindow <= 0 {
		r.adminWindow = rateWindowDefault
	}
	if r.gatherer == nil {
		r.gatherer = prometheus.DefaultGatherer
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, r.audit(pattern, h))
}

func (r *Router) register() {
	r.handle("GET /healthz", r.handleHealthz)
	r.mux.Handle("GET /metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))

	// ingest: authorized per call by the ingest service
	r.handle("POST /v1/orgs/{org}/ping", r.handlePing)
	r.handle("POST /v1/orgs/{org}/events/http", r.handleHTTPEvent)
	r.handle("POST /v1/orgs/{org}/events/custom/{eventType}", r.handleCustomEvent)

	// operator
	r.operator("POST /v1/orgs/{org}", r.handleCreateOrg)
	r.operator("DELETE /v1/orgs/{org}", r.handleDeleteOrg)
	r.operator("POST /v1/orgs/{org}/apikeys/admin", r.handleCreateAdminKey)
	r.operator("GET /v1/nodes", r.handleListAllNodes)

	// admin
	r.admin("GET /v1/orgs/{org}", r.handleGetOrg)
	r.admin("PUT /v1/orgs/{org}/mode", r.handleSetMode)
	r.admin("PUT /v1/orgs/{org}/await-timeout", r.handleSetAwaitTimeout)
	r.admin("PUT /v1/orgs/{org}/headers", r.handleSetHeaders)
	r.admin("PUT /v1/orgs/{org}/key-mapper", r.handleSetKeyMapper)
	r.admin("PUT /v1/orgs/{org}/endpoint-mapper", r.handleSetEndpointMapper)
	r.admin("POST /v1/orgs/{org}/apikeys", r.handleCreateIngesterKey)
	r.admin("DELETE /v1/orgs/{org}/apikeys/{name}", r.handleRemoveKey)
	r.admin("PUT /v1/orgs/{org}/apikeys/{name}/enabled", r.handleSetKeyEnabled)
	r.admin("PUT /v1/orgs/{org}/apikeys/{name}/event-types", r.handleSetKeyEventTypes)
	r.admin("GET /v1/orgs/{org}/rules", r.handleGetRules)
	r.admin("PUT /v1/orgs/{org}/rules", r.handleSetRules)
	r.admin("PUT /v1/orgs/{org}/rules/{rule}/enabled", r.handleSetRuleEnabled)
	r.admin("GET /v1/orgs/{org}/nodes", r.handleListNodes)
	r.admin("GET /v1/orgs/{org}/nodes/stream", r.handleNodeStreamWS)
	r.admin("GET /v1/orgs/{org}/nodes/events", r.handleNodeStreamSSE)
}

func (r *Router) operator(pattern string, h http.HandlerFunc) {
	r.handle(pattern, r.adminRate(pattern, r.requireOperator(h)))
}

func (r *Router) admin(pattern string, h http.HandlerFunc) {
	r.handle(pattern, r.adminRate(pattern, r.requireAdmin(h)))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	components := make(map[string]any)
	status := "ok"
	if r.storeHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.storeHealth(ctx); err != nil {
			status = "degraded"
			components["store"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["store"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		reqID := strings.TrimSpace(req.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"route", route,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
			"request_id", reqID,
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = info.Actor
			if info.Org != nil {
				fields = append(fields, "org", info.Org.Name)
			}
		} else if strings.Contains(route, "/ping") || strings.Contains(route, "/events/") {
			actor = actorIngest
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}
