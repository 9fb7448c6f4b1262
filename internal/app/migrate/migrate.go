// Package migrate applies the postgres schema with goose.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const commandTimeout = time.Minute

// Runner wraps a goose provider over the migrations directory.
type Runner struct {
	db       *sql.DB
	provider *goose.Provider
	dir      string
	log      *slog.Logger
}

// New opens dsn and prepares the migrations found in migrationsDir.
func New(dsn, migrationsDir string, log *slog.Logger) (*Runner, error) {
	if dsn == "" {
		return nil, errors.New("empty database dsn")
	}
	if migrationsDir == "" {
		return nil, errors.New("empty migrations directory")
	}
	if _, err := os.Stat(migrationsDir); err != nil {
		return nil, fmt.Errorf("locate migrations dir: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, os.DirFS(migrationsDir))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure goose: %w", err)
	}
	return &Runner{db: db, provider: provider, dir: migrationsDir, log: log.With("component", "migrate")}, nil
}

// Ensure applies pending migrations.
func (r *Runner) Ensure(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	r.log.Info("applying migrations", "dir", r.dir)
	results, err := r.provider.Up(ctx)
	r.logResults(results)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	r.log.Info("migrations applied", "count", len(results))
	return nil
}

// Status logs applied and pending migrations.
func (r *Runner) Status(ctx context.Context) error {
	statuses, err := r.provider.Status(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	for _, s := range statuses {
		fields := []any{"version", s.Source.Version, "path", s.Source.Path, "state", string(s.State)}
		if !s.AppliedAt.IsZero() {
			fields = append(fields, "applied_at", s.AppliedAt)
		}
		r.log.Info("migration", fields...)
	}
	return nil
}

// Down rolls back the latest migration, or every migration above targetVersion when it is positive.
func (r *Runner) Down(ctx context.Context, targetVersion int64) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if targetVersion > 0 {
		r.log.Info("rolling back migrations", "target", targetVersion)
		results, err := r.provider.DownTo(ctx, targetVersion)
		r.logResults(results)
		if err != nil {
			return fmt.Errorf("rollback to version %d: %w", targetVersion, err)
		}
		return nil
	}
	r.log.Info("rolling back latest migration")
	result, err := r.provider.Down(ctx)
	if result != nil {
		r.logResults([]*goose.MigrationResult{result})
	}
	if err != nil {
		return fmt.Errorf("rollback latest migration: %w", err)
	}
	return nil
}

// Ping ensures the database connection is alive.
func (r *Runner) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close releases the provider and its connection.
func (r *Runner) Close() error {
	return errors.Join(r.provider.Close(), r.db.Close())
}

func (r *Runner) logResults(results []*goose.MigrationResult) {
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		r.log.Info("migration applied",
			"version", res.Source.Version,
			"direction", res.Direction,
			"duration_ms", res.Duration.Milliseconds(),
		)
	}
}
