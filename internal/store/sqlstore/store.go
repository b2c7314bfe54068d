// Package sqlstore is the relational notification store. One implementation
// serves PostgreSQL (through the pgx stdlib adapter) and SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/store"
)

// Config tunes a Store.
type Config struct {
	Dialect       Dialect
	Limits        store.Limits
	TypeCacheSize int
	Clock         func() time.Time
}

// Store implements store.Store on database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	limits  store.Limits
	types   *store.TypeCache
	now     func() time.Time
	logger  *zap.Logger
}

var _ store.Store = (*Store)(nil)

// New creates a store over an already migrated database.
func New(db *sql.DB, cfg Config, logger *zap.Logger) (*Store, error) {
	defaults := store.DefaultLimits()
	if cfg.Limits.MaxListSize <= 0 {
		cfg.Limits.MaxListSize = defaults.MaxListSize
	}
	if cfg.Limits.BulkChunkSize <= 0 {
		cfg.Limits.BulkChunkSize = defaults.BulkChunkSize
	}
	if cfg.Limits.PreferenceMaxListSize <= 0 {
		cfg.Limits.PreferenceMaxListSize = defaults.PreferenceMaxListSize
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	types, err := store.NewTypeCache(cfg.TypeCacheSize)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:      db,
		dialect: cfg.Dialect,
		limits:  cfg.Limits,
		types:   types,
		now:     func() time.Time { return truncate(cfg.Clock()) },
		logger:  logger,
	}, nil
}

// TypeCache exposes the notification type cache for instrumentation.
func (s *Store) TypeCache() *store.TypeCache {
	return s.types
}

func (s *Store) exec(ctx context.Context, q execer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, q execer, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, q execer, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func notFound(kind string, key any) error {
	return fmt.Errorf("%w: %s %v", store.ErrNotFound, kind, key)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrInvalid, fmt.Sprintf(format, args...))
}
