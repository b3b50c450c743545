// Package sqlite provides a durable L2 cache tier on SQLite. It satisfies the
// same store contract as the in-memory tiers, so cached responses survive
// restarts without the orchestrator knowing the difference.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/makaronz/animatize/internal/cache"
	"github.com/makaronz/animatize/pkg/schema"
)

//go:embed migrations/*.sql
var fs embed.FS

type row struct {
	Key         string    `db:"key"`
	Payload     []byte    `db:"payload"`
	Provider    string    `db:"provider"`
	Model       string    `db:"model"`
	CreatedAt   time.Time `db:"created_at"`
	ExpiresAt   time.Time `db:"expires_at"`
	LastAccess  time.Time `db:"last_access"`
	AccessCount uint64    `db:"access_count"`
}

// Store is a cache.Store backed by a SQLite table.
type Store struct {
	db        *sqlx.DB
	evictions atomic.Uint64
	clock     func() time.Time
}

// New opens (or creates) the cache database and applies migrations.
// A DSN like "file:cache.db?_journal_mode=WAL&_busy_timeout=5000" works well.
func New(dsn string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache migration failed: %w", err)
	}
	return &Store{db: db, clock: time.Now}, nil
}

func runMigrations(db *sqlx.DB) error {
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return err
	}
	d, err := iofs.New(fs, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", d, "sqlite3", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (*cache.Entry, bool, error) {
	var r row
	err := s.db.GetContext(ctx, &r,
		`SELECT key, payload, provider, model, created_at, expires_at, last_access, access_count
		 FROM cache_entries WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	now := s.clock()
	if now.After(r.ExpiresAt) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		return nil, false, nil
	}

	var value schema.UnifiedResponse
	if err := json.Unmarshal(r.Payload, &value); err != nil {
		return nil, false, fmt.Errorf("corrupt cache payload for %s: %w", key, err)
	}

	_, _ = s.db.ExecContext(ctx,
		`UPDATE cache_entries SET access_count = access_count + 1, last_access = ? WHERE key = ?`,
		now, key)

	return &cache.Entry{
		Key:         r.Key,
		Value:       &value,
		Provider:    r.Provider,
		Model:       r.Model,
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
		LastAccess:  now,
		AccessCount: r.AccessCount + 1,
		Tier:        cache.TierL2,
	}, true, nil
}

func (s *Store) Put(ctx context.Context, entry *cache.Entry) error {
	payload, err := json.Marshal(entry.Value)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, payload, provider, model, created_at, expires_at, last_access, access_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   payload = excluded.payload,
		   provider = excluded.provider,
		   model = excluded.model,
		   created_at = excluded.created_at,
		   expires_at = excluded.expires_at,
		   last_access = excluded.last_access,
		   access_count = excluded.access_count`,
		entry.Key, payload, entry.Provider, entry.Model,
		entry.CreatedAt, entry.ExpiresAt, entry.LastAccess, entry.AccessCount)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	return err
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.db.SelectContext(ctx, &keys, `SELECT key FROM cache_entries`)
	return keys, err
}

func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM cache_entries`)
	return n, err
}

func (s *Store) Evictions() uint64 {
	return s.evictions.Load()
}

func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at < ?`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) Close() error {
	return s.db.Close()
}
