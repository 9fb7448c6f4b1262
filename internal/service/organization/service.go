// Package organization is the tenant store: it owns organization records,
// their API keys and rules, and answers credential checks for ingest and
// admin callers.
package organization

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/umbrellafw/umbrella/internal/domain"
	"github.com/umbrellafw/umbrella/internal/repository"
	"github.com/umbrellafw/umbrella/pkg/opt"
)

var (
	// ErrUnauthorized is returned for every failed credential check.
	ErrUnauthorized = errors.New("organization: unauthorized")
	// ErrInvalidArgument marks malformed input.
	ErrInvalidArgument = errors.New("organization: invalid argument")
)

// VersionConflictError is returned when SetRules is called with a stale version.
type VersionConflictError struct {
	Current time.Time
}

func (e *VersionConflictError) Error() string {
	return "organization: rules were modified concurrently; current version is " + e.Current.Format(time.RFC3339Nano)
}

// Cache holds organization lookups. A None value records a known absence.
type Cache interface {
	Get(name string) (opt.Option[*domain.Organization], bool)
	Set(name string, org opt.Option[*domain.Organization])
	Delete(name string)
}

// Purger drops derived per-organization state when an organization is deleted.
type Purger interface {
	Purge(orgName string)
}

// Config tunes the service.
type Config struct {
	DefaultAwaitTimeoutMs int64
	Purgers               []Purger
	Now                   func() time.Time
}

// Service manages organization records.
type Service struct {
	repo    repository.OrganizationRepository
	cache   Cache
	logger  *slog.Logger
	purgers []Purger
	await   int64
	now     func() time.Time
}

// New constructs a Service. Records returned by the service may be shared
// with the cache and must be treated as read-only.
func New(repo repository.OrganizationRepository, cache Cache, logger *slog.Logger, cfg Config) Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return Service{
		repo:    repo,
		cache:   cache,
		logger:  logger.With("component", "organization"),
		purgers: cfg.Purgers,
		await:   cfg.DefaultAwaitTimeoutMs,
		now:     now,
	}
}

var orgNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Create registers a new organization with default settings.
func (s Service) Create(ctx context.Context, name string) (*domain.Organization, error) {
	if !orgNamePattern.MatchString(name) {
		return nil, fmt.Errorf("%w: organization name %q", ErrInvalidArgument, name)
	}
	org := domain.NewOrganization(name, s.await, s.now())
	if err := s.repo.CreateOrganization(ctx, org); err != nil {
		return nil, err
	}
	s.cache.Set(name, opt.Some(org))
	s.logger.Info("organization created", "org", name)
	return org, nil
}

// Get returns the organization. With useCache the process cache is consulted
// first; a cached absence is reported as repository.ErrNotFound.
func (s Service) Get(ctx context.Context, name string, useCache bool) (*domain.Organization, error) {
	if useCache {
		if cached, ok := s.cache.Get(name); ok {
			if org, present := cached.Get(); present {
				return org, nil
			}
			return nil, repository.ErrNotFound
		}
	}
	org, err := s.repo.GetOrganization(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.cache.Set(name, opt.None[*domain.Organization]())
		}
		return nil, err
	}
	s.cache.Set(name, opt.Some(org))
	return org, nil
}

// Delete removes the organization and every cached artifact derived from it.
func (s Service) Delete(ctx context.Context, name string) error {
	if err := s.repo.DeleteOrganization(ctx, name); err != nil {
		return err
	}
	s.cache.Set(name, opt.None[*domain.Organization]())
	for _, p := range s.purgers {
		p.Purge(name)
	}
	s.logger.Info("organization deleted", "org", name)
	return nil
}

func (s Service) update(ctx context.Context, name string, update domain.OrganizationUpdate) (*domain.Organization, error) {
	org, err := s.repo.UpdateOrganization(ctx, name, update)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.cache.Set(name, opt.None[*domain.Organization]())
		}
		return nil, err
	}
	s.cache.Set(name, opt.Some(org))
	return org, nil
}

// SetMode changes the organization's operating mode.
func (s Service) SetMode(ctx context.Context, name string, mode domain.Mode) (*domain.Organization, error) {
	if _, err := domain.ParseMode(string(mode)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return s.update(ctx, name, domain.OrganizationUpdate{Mode: opt.Some(mode)})
}

// SetAwaitTimeoutMs changes how long integrations wait for a decision.
func (s Service) SetAwaitTimeoutMs(ctx context.Context, name string, timeoutMs int64) (*domain.Organization, error) {
	if timeoutMs < 0 {
		return nil, fmt.Errorf("%w: await timeout must not be negative", ErrInvalidArgument)
	}
	return s.update(ctx, name, domain.OrganizationUpdate{AwaitTimeoutMs: opt.Some(timeoutMs)})
}

// SetCollectAdditionalHeaders replaces the set of extra request headers
// integrations capture. An empty set collects none.
func (s Service) SetCollectAdditionalHeaders(ctx context.Context, name string, headers []string) (*domain.Organization, error) {
	return s.update(ctx, name, domain.OrganizationUpdate{CollectAdditionalHeaders: opt.Some(normalizeSet(headers))})
}

// SetKeyMapperSource sets or, with nil, removes the key mapper transform.
func (s Service) SetKeyMapperSource(ctx context.Context, name string, source *string) (*domain.Organization, error) {
	return s.update(ctx, name, domain.OrganizationUpdate{KeyMapperSource: opt.Some(blankToNil(source))})
}

// SetEndpointMapperSource sets or, with nil, removes the endpoint mapper transform.
func (s Service) SetEndpointMapperSource(ctx context.Context, name string, source *string) (*domain.Organization, error) {
	return s.update(ctx, name, domain.OrganizationUpdate{EndpointMapperSource: opt.Some(blankToNil(source))})
}

// normalizeSet trims, drops blanks and dedupes values into sorted order.
func normalizeSet(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}
