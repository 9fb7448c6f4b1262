package crypto

import (
	"strings"
	"testing"
)

func TestGenerateAPIKeyIsPrefixedAndUnique(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 50; i++ {
		key, err := GenerateAPIKey()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if !strings.HasPrefix(key, APIKeyPrefix) {
			t.Fatalf("expected prefix %q, got %q", APIKeyPrefix, key)
		}
		if _, dup := seen[key]; dup {
			t.Fatalf("duplicate key %q", key)
		}
		seen[key] = struct{}{}
	}
}

func TestEqual(t *testing.T) {
	if !Equal("abc", "abc") {
		t.Fatal("expected equal")
	}
	if Equal("abc", "abd") || Equal("abc", "ab") {
		t.Fatal("expected unequal")
	}
}
