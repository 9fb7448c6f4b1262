package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewNormalizesBaseURL(t *testing.T) {
	c, err := New(" localhost:4000/ ")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if c.baseURL != "http://localhost:4000" {
		t.Fatalf("unexpected base url %q", c.baseURL)
	}
}

func TestOperatorCallsSendToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/orgs/acme/apikeys/admin" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Operator-Token") != "op" {
			t.Errorf("missing operator token")
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(CreatedKey{Name: body["name"], Value: "secret"})
	}))
	defer srv.Close()

	c, _ := New(srv.URL, WithOperatorToken("op"))
	key, err := c.CreateAdminKey(context.Background(), "acme", "ops")
	if err != nil {
		t.Fatalf("create admin key: %v", err)
	}
	if key.Name != "ops" || key.Value != "secret" {
		t.Fatalf("unexpected key %+v", key)
	}
}

func TestKeyCallsSendAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "apikey k1" {
			t.Errorf("unexpected authorization %q", r.Header.Get("Authorization"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]string{"ok": "true"}})
	}))
	defer srv.Close()

	c, _ := New(srv.URL, WithAPIKey("k1"))
	result, err := c.SendCustomEvent(context.Background(), "acme", "login", nil)
	if err != nil {
		t.Fatalf("custom event: %v", err)
	}
	if result["ok"] != "true" {
		t.Fatalf("unexpected result %v", result)
	}
}

func TestMissingCredentialFailsLocally(t *testing.T) {
	c, _ := New("http://127.0.0.1:1")
	if _, err := c.GetOrganization(context.Background(), "acme"); err == nil {
		t.Fatal("expected error without api key")
	}
	if err := c.DeleteOrganization(context.Background(), "acme"); err == nil {
		t.Fatal("expected error without operator token")
	}
}

func TestAPIErrorCarriesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	c, _ := New(srv.URL, WithAPIKey("k"))
	_, err := c.Ping(context.Background(), "acme", "node-1")
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusTooManyRequests || apiErr.Message != "rate limited" || apiErr.RetryAfter != 7*time.Second {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestSetRulesSendsExpectedVersion(t *testing.T) {
	version := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Rules               map[string]Rule `json:"rules"`
			ExpectedLastUpdated *time.Time      `json:"expectedLastUpdated"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.ExpectedLastUpdated == nil || !body.ExpectedLastUpdated.Equal(version) {
			t.Errorf("expected version not sent: %v", body.ExpectedLastUpdated)
		}
		_ = json.NewEncoder(w).Encode(Rules{Rules: body.Rules, LastUpdated: version.Add(time.Millisecond)})
	}))
	defer srv.Close()

	c, _ := New(srv.URL, WithAPIKey("k"))
	out, err := c.SetRules(context.Background(), "acme", map[string]Rule{"r": {Priority: 1, Enabled: true, Source: "{}"}}, &version)
	if err != nil {
		t.Fatalf("set rules: %v", err)
	}
	if len(out.Rules) != 1 || !out.LastUpdated.After(version) {
		t.Fatalf("unexpected rules %+v", out)
	}
}
