package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/umbrellafw/umbrella/internal/domain"
	"github.com/umbrellafw/umbrella/internal/repository"
)

const (
	orgPrefix     = "org/"
	nodePrefix    = "node/"
	maxTxnRetries = 16
)

// Repository implements persistence interfaces on badger.
type Repository struct {
	db     *badger.DB
	log    *slog.Logger
	gcStop chan struct{}
	gcDone chan struct{}
}

var (
	_ repository.OrganizationRepository = (*Repository)(nil)
	_ repository.HealthRepository       = (*Repository)(nil)
)

// Open opens the database described by cfg.
func Open(cfg Config) (*Repository, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Repository{db: db, log: log}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		r.gcStop = make(chan struct{})
		r.gcDone = make(chan struct{})
		go r.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return r, nil
}

// OpenInMemory opens a database that lives only as long as the process.
func OpenInMemory() (*Repository, error) {
	return Open(InMemoryConfig())
}

// Close stops background GC and closes the database.
func (r *Repository) Close() error {
	if r.gcStop != nil {
		close(r.gcStop)
		<-r.gcDone
	}
	return r.db.Close()
}

// Ping reports whether the database is still open.
func (r *Repository) Ping(context.Context) error {
	if r.db.IsClosed() {
		return errors.New("badger: database closed")
	}
	return nil
}

func orgKey(name string) []byte {
	return []byte(orgPrefix + name)
}

func nodeKey(org, id string) []byte {
	return []byte(nodePrefix + org + "/" + id)
}

// update runs fn in a read-write transaction, retrying when a concurrent
// commit touched the same keys.
func (r *Repository) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) || attempt >= maxTxnRetries {
			return err
		}
	}
}

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return repository.ErrNotFound
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

// CreateOrganization stores org unless a record with the same name exists.
func (r *Repository) CreateOrganization(ctx context.Context, org *domain.Organization) error {
	if org == nil {
		return fmt.Errorf("organization required")
	}
	org.Normalize()
	payload, err := json.Marshal(org)
	if err != nil {
		return fmt.Errorf("encode organization: %w", err)
	}
	return r.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(orgKey(org.Name))
		switch {
		case err == nil:
			return repository.ErrAlreadyExists
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.Set(orgKey(org.Name), payload)
	})
}

// GetOrganization fetches an organization by name.
func (r *Repository) GetOrganization(ctx context.Context, name string) (*domain.Organization, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var org domain.Organization
	err := r.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, orgKey(name), &org)
	})
	if err != nil {
		return nil, err
	}
	org.Normalize()
	return &org, nil
}

// UpdateOrganization applies update inside a transaction. Badger aborts the
// commit if another writer changed the record, and the read-check-write cycle
// is repeated.
func (r *Repository) UpdateOrganization(ctx context.Context, name string, update domain.OrganizationUpdate) (*domain.Organization, error) {
	var next *domain.Organization
	err := r.update(ctx, func(txn *badger.Txn) error {
		var current domain.Organization
		if err := getJSON(txn, orgKey(name), &current); err != nil {
			return err
		}
		current.Normalize()
		if !update.Satisfied(&current) {
			return repository.ErrConditionFailed
		}
		next = update.Apply(&current)
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode organization: %w", err)
		}
		return txn.Set(orgKey(name), payload)
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// DeleteOrganization removes an organization record.
func (r *Repository) DeleteOrganization(ctx context.Context, name string) error {
	return r.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(orgKey(name)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return repository.ErrNotFound
			}
			return err
		}
		return txn.Delete(orgKey(name))
	})
}

// PutNodeHealth overwrites the node row and returns the unexpired row it
// replaced. The entry carries a badger TTL matching TTLInEpochSec.
func (r *Repository) PutNodeHealth(ctx context.Context, row domain.NodeHealth, _ int) (*domain.NodeHealth, error) {
	payload, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encode node health: %w", err)
	}
	ttl := time.Until(time.Unix(row.TTLInEpochSec, 0))
	if ttl <= 0 {
		return nil, fmt.Errorf("node health ttl already elapsed")
	}

	var previous *domain.NodeHealth
	err = r.update(ctx, func(txn *badger.Txn) error {
		previous = nil
		var prev domain.NodeHealth
		switch err := getJSON(txn, nodeKey(row.OrganizationName, row.ID), &prev); {
		case err == nil:
			if !prev.Expired(row.LastPing) {
				previous = &prev
			}
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}
		entry := badger.NewEntry(nodeKey(row.OrganizationName, row.ID), payload).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return nil, err
	}
	return previous, nil
}

// ListNodeHealthByOrganization returns live rows for one organization.
func (r *Repository) ListNodeHealthByOrganization(ctx context.Context, org string) ([]domain.NodeHealth, error) {
	return r.scanNodes(ctx, []byte(nodePrefix+org+"/"))
}

// ListNodeHealth returns live rows for every organization.
func (r *Repository) ListNodeHealth(ctx context.Context, _ int) ([]domain.NodeHealth, error) {
	return r.scanNodes(ctx, []byte(nodePrefix))
}

func (r *Repository) scanNodes(ctx context.Context, prefix []byte) ([]domain.NodeHealth, error) {
	now := time.Now()
	var out []domain.NodeHealth
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var row domain.NodeHealth
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			}); err != nil {
				return err
			}
			if row.Expired(now) {
				continue
			}
			out = append(out, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
