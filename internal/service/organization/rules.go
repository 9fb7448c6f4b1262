package organization

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/umbrellafw/umbrella/internal/domain"
	"github.com/umbrellafw/umbrella/internal/repository"
	"github.com/umbrellafw/umbrella/pkg/opt"
)

// SetRules replaces the whole rule map. When expected is set the write only
// happens if it equals the stored rules version; otherwise a
// *VersionConflictError carrying the current version is returned.
func (s Service) SetRules(ctx context.Context, name string, rules map[string]domain.Rule, expected opt.Option[time.Time]) (*domain.Organization, error) {
	normalized := make(map[string]domain.Rule, len(rules))
	for ruleName, rule := range rules {
		ruleName = strings.TrimSpace(ruleName)
		if ruleName == "" {
			return nil, fmt.Errorf("%w: rule name is required", ErrInvalidArgument)
		}
		rule.EventTypes = normalizeSet(rule.EventTypes)
		normalized[ruleName] = rule
	}

	update := domain.OrganizationUpdate{
		Rules:            opt.Some(normalized),
		RulesLastUpdated: opt.Some(s.now()),
	}
	if v, ok := expected.Get(); ok {
		update.ExpectRulesLastUpdated = opt.Some(domain.Timestamp(v))
	}
	org, err := s.update(ctx, name, update)
	if err != nil {
		if errors.Is(err, repository.ErrConditionFailed) {
			return nil, s.versionConflict(ctx, name)
		}
		return nil, err
	}
	s.logger.Info("rules updated", "org", name, "rules", len(normalized), "version", org.RulesLastUpdated)
	return org, nil
}

func (s Service) versionConflict(ctx context.Context, name string) error {
	current, err := s.Get(ctx, name, false)
	if err != nil {
		return err
	}
	return &VersionConflictError{Current: current.RulesLastUpdated}
}

// SetRuleEnabled toggles one rule. Changing the flag moves the rules version;
// setting it to its current value writes nothing.
func (s Service) SetRuleEnabled(ctx context.Context, name, ruleName string, enabled bool) (*domain.Organization, error) {
	current, err := s.Get(ctx, name, false)
	if err != nil {
		return nil, err
	}
	rule, ok := current.RulesByName[ruleName]
	if !ok {
		return nil, fmt.Errorf("rule %q: %w", ruleName, repository.ErrNotFound)
	}
	if rule.Enabled == enabled {
		return current, nil
	}
	rule.Enabled = enabled
	org, err := s.update(ctx, name, domain.OrganizationUpdate{
		PutRules:         map[string]domain.Rule{ruleName: rule},
		RulesLastUpdated: opt.Some(nextVersion(current.RulesLastUpdated, s.now())),
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("rule toggled", "org", name, "rule", ruleName, "enabled", enabled)
	return org, nil
}

// Rules returns a copy of the organization's rules and their version.
func (s Service) Rules(ctx context.Context, name string) (map[string]domain.Rule, time.Time, error) {
	org, err := s.Get(ctx, name, false)
	if err != nil {
		return nil, time.Time{}, err
	}
	return maps.Clone(org.RulesByName), org.RulesLastUpdated, nil
}

func nextVersion(previous, now time.Time) time.Time {
	now = domain.Timestamp(now)
	if !now.After(previous) {
		return domain.Timestamp(previous).Add(time.Microsecond)
	}
	return now
}
