package domain

import (
	"testing"
	"time"

	"github.com/umbrellafw/umbrella/pkg/opt"
)

func TestApplyLeavesUnsetFieldsAlone(t *testing.T) {
	base := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	org := NewOrganization("acme", 2000, base)
	org.APIKeysByName["admin"] = APIKey{Value: "secret", Enabled: true, IsAdmin: true}

	next := OrganizationUpdate{Mode: opt.Some(ModeBlocking)}.Apply(org)

	if next.Mode != ModeBlocking {
		t.Fatalf("expected mode updated, got %s", next.Mode)
	}
	if next.AwaitTimeoutMs != 2000 {
		t.Fatalf("expected timeout untouched, got %d", next.AwaitTimeoutMs)
	}
	if _, ok := next.APIKeysByName["admin"]; !ok {
		t.Fatal("expected api key to survive update")
	}
	if !next.RulesLastUpdated.Equal(org.RulesLastUpdated) {
		t.Fatal("rules version must not move when rules are untouched")
	}
	if org.Mode != DefaultMode {
		t.Fatal("apply must not mutate its input")
	}
}

func TestApplyBumpsRulesVersionStrictly(t *testing.T) {
	base := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	org := NewOrganization("acme", 0, base)

	next := OrganizationUpdate{
		Rules:            opt.Some(map[string]Rule{"r": {Priority: 1, Enabled: true}}),
		RulesLastUpdated: opt.Some(base),
	}.Apply(org)

	if !next.RulesLastUpdated.After(org.RulesLastUpdated) {
		t.Fatalf("expected version after %v, got %v", org.RulesLastUpdated, next.RulesLastUpdated)
	}
	if len(next.RulesByName) != 1 {
		t.Fatalf("expected one rule, got %d", len(next.RulesByName))
	}
}

func TestApplyRemovesAndClearsOptionalFields(t *testing.T) {
	src := "mapping"
	org := NewOrganization("acme", 0, time.Now())
	org.KeyMapperSource = &src
	org.CollectAdditionalHeaders = []string{"X-Forwarded-For"}
	org.APIKeysByName["old"] = APIKey{Value: "v"}

	next := OrganizationUpdate{
		KeyMapperSource:          opt.Some[*string](nil),
		CollectAdditionalHeaders: opt.Some([]string{}),
		RemoveAPIKeys:            []string{"old"},
	}.Apply(org)

	if next.KeyMapperSource != nil {
		t.Fatal("expected key mapper removed")
	}
	if next.CollectAdditionalHeaders != nil {
		t.Fatalf("expected headers cleared, got %v", next.CollectAdditionalHeaders)
	}
	if len(next.APIKeysByName) != 0 {
		t.Fatal("expected api key removed")
	}
}

func TestSatisfiedComparesVersion(t *testing.T) {
	base := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	org := NewOrganization("acme", 0, base)

	if !(OrganizationUpdate{}).Satisfied(org) {
		t.Fatal("unconditional update must be satisfied")
	}
	if !(OrganizationUpdate{ExpectRulesLastUpdated: opt.Some(base)}).Satisfied(org) {
		t.Fatal("matching version must be satisfied")
	}
	stale := base.Add(-time.Second)
	if (OrganizationUpdate{ExpectRulesLastUpdated: opt.Some(stale)}).Satisfied(org) {
		t.Fatal("stale version must not be satisfied")
	}
}

func TestDedupeNodeHealthKeepsLatest(t *testing.T) {
	base := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	rows := []NodeHealth{
		{OrganizationName: "a", ID: "n1", LastPing: base},
		{OrganizationName: "a", ID: "n1", LastPing: base.Add(time.Minute)},
		{OrganizationName: "a", ID: "n2", LastPing: base},
		{OrganizationName: "b", ID: "n1", LastPing: base},
		{OrganizationName: "a", ID: "n1", LastPing: base.Add(-time.Minute)},
	}

	out := DedupeNodeHealth(rows)

	if len(out) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(out))
	}
	if out[0].ID != "n1" || !out[0].LastPing.Equal(base.Add(time.Minute)) {
		t.Fatalf("expected latest ping for a/n1, got %+v", out[0])
	}
	if out[2].OrganizationName != "b" {
		t.Fatalf("expected ordering by organization, got %+v", out)
	}
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode(" blocking ")
	if err != nil || mode != ModeBlocking {
		t.Fatalf("expected BLOCKING, got %q (%v)", mode, err)
	}
	if _, err := ParseMode("loud"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
