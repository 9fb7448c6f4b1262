// Package health records node liveness pings.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/umbrellafw/umbrella/internal/domain"
	"github.com/umbrellafw/umbrella/internal/repository"
	"github.com/umbrellafw/umbrella/pkg/opt"
)

// Config tunes the service.
type Config struct {
	// Shards is the current number of partitions of the fleet-wide index.
	Shards int
	TTL    time.Duration
	Now    func() time.Time
}

// Service records and lists node health.
type Service struct {
	repo   repository.HealthRepository
	logger *slog.Logger
	shards int
	ttl    time.Duration
	now    func() time.Time
}

// New constructs a Service.
func New(repo repository.HealthRepository, logger *slog.Logger, cfg Config) Service {
	if cfg.Shards < 1 {
		cfg.Shards = 1
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return Service{repo: repo, logger: logger.With("component", "health"), shards: cfg.Shards, ttl: cfg.TTL, now: cfg.Now}
}

// Ping records that nodeID of org is alive and returns the row it replaced.
func (s Service) Ping(ctx context.Context, org, nodeID string) (domain.PingResult, error) {
	nodeID = strings.TrimSpace(nodeID)
	if nodeID == "" {
		return domain.PingResult{}, fmt.Errorf("node id is required")
	}
	now := domain.Timestamp(s.now())
	row := domain.NodeHealth{
		OrganizationName: org,
		ID:               nodeID,
		LastPing:         now,
		TTLInEpochSec:    now.Add(s.ttl).Unix(),
	}
	previous, err := s.repo.PutNodeHealth(ctx, row, s.shards)
	if err != nil {
		return domain.PingResult{}, err
	}
	if previous == nil {
		return domain.PingResult{Current: row}, nil
	}
	// A coarse clock can repeat the previous timestamp; rewrite just past it.
	if !row.LastPing.After(previous.LastPing) {
		row.LastPing = domain.Timestamp(previous.LastPing).Add(time.Microsecond)
		if _, err := s.repo.PutNodeHealth(ctx, row, s.shards); err != nil {
			return domain.PingResult{}, err
		}
	}
	return domain.PingResult{Current: row, Previous: opt.Some(*previous)}, nil
}

// ListForOrg returns one row per node of org, most recent ping first wins.
func (s Service) ListForOrg(ctx context.Context, org string) ([]domain.NodeHealth, error) {
	rows, err := s.repo.ListNodeHealthByOrganization(ctx, org)
	if err != nil {
		return nil, err
	}
	return domain.DedupeNodeHealth(rows), nil
}

// ListAll returns one row per (organization, node) across the fleet.
func (s Service) ListAll(ctx context.Context) ([]domain.NodeHealth, error) {
	rows, err := s.repo.ListNodeHealth(ctx, s.shards)
	if err != nil {
		return nil, err
	}
	out := domain.DedupeNodeHealth(rows)
	s.logger.Debug("listed node health", "rows", len(rows), "nodes", len(out))
	return out, nil
}
