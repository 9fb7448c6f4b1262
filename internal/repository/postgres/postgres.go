package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/umbrellafw/umbrella/internal/domain"
	"github.com/umbrellafw/umbrella/internal/repository"
)

// DB is the part of *pgxpool.Pool the repository uses.
type DB interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool DB
}

// New constructs a Repository.
func New(pool DB) *Repository {
	return &Repository{pool: pool}
}

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// ensure Repository satisfies interfaces.
var (
	_ repository.OrganizationRepository = (*Repository)(nil)
	_ repository.HealthRepository       = (*Repository)(nil)
)

const organizationColumns = `name, mode, await_timeout_ms, collect_additional_headers, key_mapper_source,
	endpoint_mapper_source, api_keys, rules, rules_last_updated`

// CreateOrganization inserts a new organization.
func (r *Repository) CreateOrganization(ctx context.Context, org *domain.Organization) error {
	if org == nil {
		return fmt.Errorf("organization required")
	}
	org.Normalize()
	const query = `INSERT INTO organizations (` + organizationColumns + `, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())`
	_, err := r.pool.Exec(ctx, query,
		org.Name,
		string(org.Mode),
		org.AwaitTimeoutMs,
		org.CollectAdditionalHeaders,
		org.KeyMapperSource,
		org.EndpointMapperSource,
		org.APIKeysByName,
		org.RulesByName,
		org.RulesLastUpdated,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repository.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// GetOrganization fetches an organization by name.
func (r *Repository) GetOrganization(ctx context.Context, name string) (*domain.Organization, error) {
	const query = `SELECT ` + organizationColumns + ` FROM organizations WHERE name = $1`
	return scanOrganization(r.pool.QueryRow(ctx, query, name))
}

// UpdateOrganization locks the row, checks the update condition and writes the result.
func (r *Repository) UpdateOrganization(ctx context.Context, name string, update domain.OrganizationUpdate) (*domain.Organization, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const selectQuery = `SELECT ` + organizationColumns + ` FROM organizations WHERE name = $1 FOR UPDATE`
	current, err := scanOrganization(tx.QueryRow(ctx, selectQuery, name))
	if err != nil {
		return nil, err
	}
	if !update.Satisfied(current) {
		return nil, repository.ErrConditionFailed
	}
	next := update.Apply(current)

	const updateQuery = `UPDATE organizations
		SET mode = $2,
			await_timeout_ms = $3,
			collect_additional_headers = $4,
			key_mapper_source = $5,
			endpoint_mapper_source = $6,
			api_keys = $7,
			rules = $8,
			rules_last_updated = $9,
			updated_at = NOW()
		WHERE name = $1`
	if _, err := tx.Exec(ctx, updateQuery,
		next.Name,
		string(next.Mode),
		next.AwaitTimeoutMs,
		next.CollectAdditionalHeaders,
		next.KeyMapperSource,
		next.EndpointMapperSource,
		next.APIKeysByName,
		next.RulesByName,
		next.RulesLastUpdated,
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return next, nil
}

// DeleteOrganization removes an organization record.
func (r *Repository) DeleteOrganization(ctx context.Context, name string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM organizations WHERE name = $1`, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanOrganization(row pgx.Row) (*domain.Organization, error) {
	var (
		org  domain.Organization
		mode string
	)
	if err := row.Scan(
		&org.Name,
		&mode,
		&org.AwaitTimeoutMs,
		&org.CollectAdditionalHeaders,
		&org.KeyMapperSource,
		&org.EndpointMapperSource,
		&org.APIKeysByName,
		&org.RulesByName,
		&org.RulesLastUpdated,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	org.Mode = domain.Mode(mode)
	org.Normalize()
	return &org, nil
}

const nodeLockQuery = `SELECT pg_advisory_xact_lock(hashtextextended($1::text || '/' || $2::text, 0))`

// PutNodeHealth upserts a node row and returns the live row it replaced.
// Postgres has no sharded index, so shards is ignored.
func (r *Repository) PutNodeHealth(ctx context.Context, row domain.NodeHealth, _ int) (*domain.NodeHealth, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// FOR UPDATE locks nothing before the first insert, so concurrent first
	// pings serialize on a transaction-scoped lock for the node instead.
	if _, err := tx.Exec(ctx, nodeLockQuery, row.OrganizationName, row.ID); err != nil {
		return nil, fmt.Errorf("lock node health: %w", err)
	}

	const selectQuery = `SELECT organization_name, id, last_ping, ttl_epoch_sec
		FROM node_health WHERE organization_name = $1 AND id = $2`
	var (
		prev    domain.NodeHealth
		hasPrev = true
	)
	err = tx.QueryRow(ctx, selectQuery, row.OrganizationName, row.ID).
		Scan(&prev.OrganizationName, &prev.ID, &prev.LastPing, &prev.TTLInEpochSec)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		hasPrev = false
	}

	const upsertQuery = `INSERT INTO node_health (organization_name, id, last_ping, ttl_epoch_sec)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_name, id) DO UPDATE SET
			last_ping = EXCLUDED.last_ping,
			ttl_epoch_sec = EXCLUDED.ttl_epoch_sec`
	if _, err := tx.Exec(ctx, upsertQuery, row.OrganizationName, row.ID, row.LastPing, row.TTLInEpochSec); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	if !hasPrev || prev.Expired(row.LastPing) {
		return nil, nil
	}
	prev.LastPing = prev.LastPing.UTC()
	return &prev, nil
}

// ListNodeHealthByOrganization returns unexpired rows for one organization.
func (r *Repository) ListNodeHealthByOrganization(ctx context.Context, org string) ([]domain.NodeHealth, error) {
	const query = `SELECT organization_name, id, last_ping, ttl_epoch_sec
		FROM node_health WHERE organization_name = $1 AND ttl_epoch_sec > $2 ORDER BY id`
	return r.listNodeHealth(ctx, query, org, time.Now().Unix())
}

// ListNodeHealth returns unexpired rows across every organization.
func (r *Repository) ListNodeHealth(ctx context.Context, _ int) ([]domain.NodeHealth, error) {
	const query = `SELECT organization_name, id, last_ping, ttl_epoch_sec
		FROM node_health WHERE ttl_epoch_sec > $1 ORDER BY organization_name, id`
	return r.listNodeHealth(ctx, query, time.Now().Unix())
}

func (r *Repository) listNodeHealth(ctx context.Context, query string, args ...any) ([]domain.NodeHealth, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.NodeHealth
	for rows.Next() {
		var n domain.NodeHealth
		if err := rows.Scan(&n.OrganizationName, &n.ID, &n.LastPing, &n.TTLInEpochSec); err != nil {
			return nil, err
		}
		n.LastPing = n.LastPing.UTC()
		out = append(out, n)
	}
	return out, rows.Err()
}

// PurgeExpiredNodeHealth deletes rows past their TTL. Postgres has no native
// expiry, so the API server calls this periodically.
func (r *Repository) PurgeExpiredNodeHealth(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM node_health WHERE ttl_epoch_sec <= $1`, now.Unix())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
