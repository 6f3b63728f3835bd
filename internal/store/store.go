// Package store persists pipeline events, fix pipeline runs, webhook
// deliveries, GitHub App installations, and the durable job queue on
// Postgres. Every mutation that must be atomic with another one runs
// through WithTx; single mutations go straight through the Store.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

var (
	// ErrNotFound reports a lookup that matched no row.
	ErrNotFound = errors.New("store: not found")

	// ErrStatusConflict reports a conditional update that matched no row
	// because another worker moved the run first. Callers re-read the run
	// and re-decide; the update did not happen.
	ErrStatusConflict = errors.New("store: status conflict")

	// ErrInvalidTransition reports a status transition that goes backwards
	// or leaves a terminal state. It is rejected before touching the
	// database.
	ErrInvalidTransition = errors.New("store: invalid status transition")
)

// querier is the subset of sqlx shared by *sqlx.DB and *sqlx.Tx, so every
// operation works both standalone and inside a transaction.
type querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Queries carries every persistence operation. Store and Tx embed it, so
// the same method set is available with and without a transaction.
type Queries struct {
	q querier
}

type Store struct {
	Queries
	db *sqlx.DB
}

// Tx is an open transaction. It is only valid inside the WithTx callback.
type Tx struct {
	Queries
}

// Open connects to Postgres through the pgx stdlib driver and verifies
// the connection before returning.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(db), nil
}

// New wraps an existing pool. Tests pass a sqlmock-backed pool.
func New(db *sqlx.DB) *Store {
	return &Store{Queries: Queries{q: db}, db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// nullJSON maps empty blobs to NULL so jsonb columns never hold an
// empty string.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// WithTx runs fn inside a single transaction, committing when fn returns
// nil and rolling back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	txx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&Tx{Queries: Queries{q: txx}}); err != nil {
		_ = txx.Rollback()
		return err
	}
	if err := txx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
