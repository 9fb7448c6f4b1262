package repository

import (
	"context"

	"github.com/umbrellafw/umbrella/internal/domain"
)

// OrganizationRepository persists tenant records.
type OrganizationRepository interface {
	CreateOrganization(ctx context.Context, org *domain.Organization) error
	GetOrganization(ctx context.Context, name string) (*domain.Organization, error)
	// UpdateOrganization applies update atomically and returns the stored result.
	// It fails with ErrConditionFailed when update carries an expected rule-set
	// version that does not match.
	UpdateOrganization(ctx context.Context, name string, update domain.OrganizationUpdate) (*domain.Organization, error)
	DeleteOrganization(ctx context.Context, name string) error
}

// HealthRepository persists node liveness rows. List results may repeat a
// logical row when the backing index is sharded; callers dedupe.
type HealthRepository interface {
	// PutNodeHealth overwrites the row for (org, id) and returns the row it replaced, if any.
	PutNodeHealth(ctx context.Context, row domain.NodeHealth, shards int) (*domain.NodeHealth, error)
	ListNodeHealthByOrganization(ctx context.Context, org string) ([]domain.NodeHealth, error)
	ListNodeHealth(ctx context.Context, shards int) ([]domain.NodeHealth, error)
}
