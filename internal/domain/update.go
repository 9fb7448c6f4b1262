package domain

import (
	"maps"
	"slices"
	"time"

	"github.com/umbrellafw/umbrella/pkg/opt"
)

// OrganizationUpdate is a targeted change to an organization record. Unset
// fields are left untouched. ExpectRulesLastUpdated turns the update into a
// conditional write on the rule-set version.
type OrganizationUpdate struct {
	Mode                     opt.Option[Mode]
	AwaitTimeoutMs           opt.Option[int64]
	CollectAdditionalHeaders opt.Option[[]string]
	KeyMapperSource          opt.Option[*string]
	EndpointMapperSource     opt.Option[*string]

	PutAPIKeys    map[string]APIKey
	RemoveAPIKeys []string

	Rules    opt.Option[map[string]Rule]
	PutRules map[string]Rule

	RulesLastUpdated       opt.Option[time.Time]
	ExpectRulesLastUpdated opt.Option[time.Time]
}

// Satisfied reports whether the update's condition holds against org.
func (u OrganizationUpdate) Satisfied(org *Organization) bool {
	expected, ok := u.ExpectRulesLastUpdated.Get()
	if !ok {
		return true
	}
	return Timestamp(expected).Equal(Timestamp(org.RulesLastUpdated))
}

// Apply returns a copy of org with the update applied. A new rule-set version
// is always strictly after the previous one, even on a coarse clock.
func (u OrganizationUpdate) Apply(org *Organization) *Organization {
	next := org.Clone()
	next.Normalize()
	if v, ok := u.Mode.Get(); ok {
		next.Mode = v
	}
	if v, ok := u.AwaitTimeoutMs.Get(); ok {
		next.AwaitTimeoutMs = v
	}
	if v, ok := u.CollectAdditionalHeaders.Get(); ok {
		if len(v) == 0 {
			next.CollectAdditionalHeaders = nil
		} else {
			next.CollectAdditionalHeaders = slices.Clone(v)
		}
	}
	if v, ok := u.KeyMapperSource.Get(); ok {
		next.KeyMapperSource = v
	}
	if v, ok := u.EndpointMapperSource.Get(); ok {
		next.EndpointMapperSource = v
	}
	maps.Copy(next.APIKeysByName, u.PutAPIKeys)
	for _, name := range u.RemoveAPIKeys {
		delete(next.APIKeysByName, name)
	}
	if v, ok := u.Rules.Get(); ok {
		next.RulesByName = maps.Clone(v)
		if next.RulesByName == nil {
			next.RulesByName = map[string]Rule{}
		}
	}
	maps.Copy(next.RulesByName, u.PutRules)
	if v, ok := u.RulesLastUpdated.Get(); ok {
		v = Timestamp(v)
		if !v.After(next.RulesLastUpdated) {
			v = next.RulesLastUpdated.Add(time.Microsecond)
		}
		next.RulesLastUpdated = v
	}
	return next
}

// Empty reports whether the update changes nothing.
func (u OrganizationUpdate) Empty() bool {
	return !u.Mode.IsSome() &&
		!u.AwaitTimeoutMs.IsSome() &&
		!u.CollectAdditionalHeaders.IsSome() &&
		!u.KeyMapperSource.IsSome() &&
		!u.EndpointMapperSource.IsSome() &&
		len(u.PutAPIKeys) == 0 &&
		len(u.RemoveAPIKeys) == 0 &&
		!u.Rules.IsSome() &&
		len(u.PutRules) == 0 &&
		!u.RulesLastUpdated.IsSome()
}
