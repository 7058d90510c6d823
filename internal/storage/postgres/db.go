// Package postgres implements resources.Store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prism-data/prism/internal/domain/resources"
)

type Store struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func NewStore(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("postgres store: pool is nil")
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Resources() resources.ResourceRepository {
	return &ResourceRepository{pool: s.pool, tx: s.tx}
}

func (s *Store) Sources() resources.SourceRepository {
	return &SourceRepository{pool: s.pool, tx: s.tx}
}

func (s *Store) Links() resources.LinkRepository {
	return &LinkRepository{pool: s.pool, tx: s.tx}
}

func (s *Store) Identifiers() resources.IdentifierRepository {
	return &IdentifierRepository{pool: s.pool, tx: s.tx}
}

func (s *Store) Changesets() resources.ChangesetRepository {
	return &ChangesetRepository{pool: s.pool, tx: s.tx}
}

// WithTx runs fn inside a transaction. Nested calls join the outer
// transaction rather than opening a savepoint.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, resources.Store) error) error {
	if s.tx != nil {
		return fn(ctx, s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	wrapped := &Store{pool: s.pool, tx: tx}
	if err := fn(ctx, wrapped); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
