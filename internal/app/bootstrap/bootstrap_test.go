package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/umbrellafw/umbrella/pkg/config"
)

func badgerConfig() config.APIConfig {
	return config.APIConfig{
		StoreBackend:          config.BackendBadger,
		BadgerInMemory:        true,
		HealthIndexShards:     2,
		HealthTTL:             time.Hour,
		OrgCacheTTL:           time.Minute,
		RuleCacheTTL:          time.Minute,
		CacheMaxEntries:       100,
		DefaultAwaitTimeoutMs: 5000,
		OperatorToken:         "op",
		PublishRateWindow:     time.Second,
		AdminRateWindow:       time.Minute,
	}
}

func TestNewWiresBadgerBackend(t *testing.T) {
	reg := prometheus.NewRegistry()
	app, err := New(context.Background(), badgerConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), reg, reg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer app.Close()

	rr := httptest.NewRecorder()
	app.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected healthy store, got %d %s", rr.Code, rr.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/orgs/acme", nil)
	req.Header.Set("X-Operator-Token", "op")
	rr = httptest.NewRecorder()
	app.Router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected org created, got %d %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	app.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected metrics, got %d", rr.Code)
	}
}

func TestUnknownBackend(t *testing.T) {
	cfg := badgerConfig()
	cfg.StoreBackend = "cassandra"
	if _, _, err := OpenStore(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestMaintenanceSkipsNativeTTLBackends(t *testing.T) {
	cfg := badgerConfig()
	cfg.HealthPurgeEvery = time.Millisecond
	reg := prometheus.NewRegistry()
	app, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), reg, reg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer app.Close()

	done := make(chan struct{})
	go func() {
		app.RunMaintenance(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("maintenance must return at once for badger")
	}
}
