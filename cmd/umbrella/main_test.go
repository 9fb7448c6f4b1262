package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apiclient "github.com/umbrellafw/umbrella/pkg/api/client"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestParseRulesFile(t *testing.T) {
	rules, err := parseRulesFile([]byte(`
rules:
  block-bots:
    description: drop known bots
    priority: 10
    enabled: true
    eventTypes: [http]
    source: |
      if .event.userAgent == "bot" then {out: {process: "BLOCK"}, stop: true} else {} end
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rule, ok := rules["block-bots"]
	if !ok || rule.Priority != 10 || !rule.Enabled || len(rule.EventTypes) != 1 || !strings.Contains(rule.Source, "BLOCK") {
		t.Fatalf("unexpected rules %+v", rules)
	}

	if _, err := parseRulesFile([]byte("rules:\n  empty: {priority: 1}\n")); err == nil {
		t.Fatal("expected error for rule without source")
	}
}

func TestRulesApplySendsFileAndVersion(t *testing.T) {
	var got struct {
		Rules               map[string]apiclient.Rule `json:"rules"`
		ExpectedLastUpdated *time.Time                `json:"expectedLastUpdated"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/v1/orgs/acme/rules" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(apiclient.Rules{Rules: got.Rules, LastUpdated: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("rules:\n  r1:\n    priority: 1\n    enabled: true\n    source: '{}'\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "--api", srv.URL, "--api-key", "k", "rules", "apply", "acme", "-f", path, "--expected-version", "2025-06-01T00:00:00Z")
	if err != nil {
		t.Fatalf("apply: %v (%s)", err, out)
	}
	if !strings.Contains(out, "applied 1 rules") {
		t.Fatalf("unexpected output %q", out)
	}
	if got.ExpectedLastUpdated == nil || got.ExpectedLastUpdated.Year() != 2025 {
		t.Fatalf("expected version not forwarded: %+v", got)
	}
}

func TestNodesListAllUsesOperatorRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/nodes" || r.Header.Get("X-Operator-Token") != "op" {
			t.Errorf("unexpected request %s token=%q", r.URL.Path, r.Header.Get("X-Operator-Token"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"nodes": []apiclient.Node{
			{OrganizationName: "acme", ID: "n1", LastPing: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
		}})
	}))
	defer srv.Close()

	out, err := run(t, "--api", srv.URL, "--operator-token", "op", "nodes", "list", "--all")
	if err != nil {
		t.Fatalf("nodes list: %v", err)
	}
	if !strings.Contains(out, "acme") || !strings.Contains(out, "n1") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestNodesListNeedsOrg(t *testing.T) {
	if _, err := run(t, "--api-key", "k", "nodes", "list"); err == nil {
		t.Fatal("expected error without org")
	}
}
