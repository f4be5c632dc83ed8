// Package postgres implements store.Store on PostgreSQL through a pgx pool.
package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/livepoll/classroom/internal/store"
)

const uniqueViolation = "23505"

// Store handles classroom persistence on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store on an existing pool. Closing the Store closes the pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ store.Store = (*Store)(nil)

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// mapErr translates driver errors into store sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return store.ErrConflict
	}
	return err
}
