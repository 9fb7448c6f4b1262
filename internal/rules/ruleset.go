package rules

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/umbrellafw/umbrella/internal/cache"
	"github.com/umbrellafw/umbrella/internal/domain"
)

// CompiledRule is one entry of a RuleSet. Its source is compiled on first use.
type CompiledRule struct {
	Name       string
	Priority   int
	Enabled    bool
	EventTypes []string
	Source     string

	compiler  Compiler
	once      sync.Once
	transform Transform
	err       error
}

// AppliesTo reports whether the rule is enabled and handles eventType.
func (r *CompiledRule) AppliesTo(eventType string) bool {
	return r.Enabled && slices.Contains(r.EventTypes, eventType)
}

// Transform compiles the rule once and returns the memoized result.
func (r *CompiledRule) Transform() (Transform, error) {
	r.once.Do(func() {
		r.transform, r.err = r.compiler.Compile(r.Source)
	})
	return r.transform, r.err
}

// RuleSet is an organization's rules ordered by descending priority, ties
// broken by name. Disabled rules are kept so toggling them needs no rebuild.
type RuleSet struct {
	Organization string
	Version      time.Time
	Rules        []*CompiledRule
}

// NewRuleSet builds the ordered rule list for org without compiling anything.
func NewRuleSet(org *domain.Organization, compiler Compiler) *RuleSet {
	set := &RuleSet{
		Organization: org.Name,
		Version:      org.RulesLastUpdated,
		Rules:        make([]*CompiledRule, 0, len(org.RulesByName)),
	}
	for name, rule := range org.RulesByName {
		set.Rules = append(set.Rules, &CompiledRule{
			Name:       name,
			Priority:   rule.Priority,
			Enabled:    rule.Enabled,
			EventTypes: slices.Clone(rule.EventTypes),
			Source:     rule.Source,
			compiler:   compiler,
		})
	}
	slices.SortFunc(set.Rules, func(a, b *CompiledRule) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return set
}

// RuleSetCache keeps one RuleSet per organization, rebuilt whenever the
// organization's rule version moves. Concurrent rebuilds are harmless; the
// last one stored wins.
type RuleSetCache struct {
	compiler Compiler
	entries  *cache.Cache[*RuleSet]
}

// NewRuleSetCache constructs a cache whose entries expire after ttl without access.
func NewRuleSetCache(compiler Compiler, maxEntries int64, ttl time.Duration) (*RuleSetCache, error) {
	entries, err := cache.New[*RuleSet](maxEntries, ttl, cache.ExpireAfterAccess)
	if err != nil {
		return nil, err
	}
	return &RuleSetCache{compiler: compiler, entries: entries}, nil
}

// Compile returns the RuleSet for org's current rule version.
func (c *RuleSetCache) Compile(org *domain.Organization) *RuleSet {
	if set, ok := c.entries.Get(org.Name); ok && set.Version.Equal(org.RulesLastUpdated) {
		return set
	}
	set := NewRuleSet(org, c.compiler)
	c.entries.Set(org.Name, set)
	return set
}

// Purge drops the cached RuleSet for an organization.
func (c *RuleSetCache) Purge(orgName string) {
	c.entries.Delete(orgName)
}

// Close releases the underlying cache.
func (c *RuleSetCache) Close() {
	c.entries.Close()
}
