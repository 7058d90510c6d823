package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prism-data/prism/internal/domain/resources"
)

type IdentifierRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func (r *IdentifierRepository) queryer() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

func (r *IdentifierRepository) DeleteForResource(ctx context.Context, resourceHref string) error {
	if _, err := r.queryer().Exec(ctx, `DELETE FROM identifiers WHERE resource_href = $1`, resourceHref); err != nil {
		return fmt.Errorf("delete identifiers for %s: %w", resourceHref, err)
	}
	return nil
}

// Insert adds one identifier row. Inside a transaction the statement runs
// under a savepoint so a unique violation leaves the transaction usable;
// callers rely on that to isolate the offending row after a bulk failure.
func (r *IdentifierRepository) Insert(ctx context.Context, identifier resources.Identifier) error {
	err := r.withSavepoint(ctx, func(q querier) error {
		_, err := q.Exec(ctx, `
			INSERT INTO identifiers (scheme, value, resource_href)
			VALUES ($1, $2, $3)`,
			identifier.Scheme, identifier.Value, identifier.ResourceHref)
		return err
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("identifier %s:%s: %w", identifier.Scheme, identifier.Value, resources.ErrUniqueViolation)
	}
	if err != nil {
		return fmt.Errorf("insert identifier %s:%s: %w", identifier.Scheme, identifier.Value, err)
	}
	return nil
}

func (r *IdentifierRepository) InsertMany(ctx context.Context, identifiers []resources.Identifier) error {
	if len(identifiers) == 0 {
		return nil
	}
	schemes := make([]string, len(identifiers))
	values := make([]string, len(identifiers))
	hrefs := make([]string, len(identifiers))
	for i, identifier := range identifiers {
		schemes[i] = identifier.Scheme
		values[i] = identifier.Value
		hrefs[i] = identifier.ResourceHref
	}
	err := r.withSavepoint(ctx, func(q querier) error {
		_, err := q.Exec(ctx, `
			INSERT INTO identifiers (scheme, value, resource_href)
			SELECT unnest($1::text[]), unnest($2::text[]), unnest($3::text[])`,
			schemes, values, hrefs)
		return err
	})
	if isUniqueViolation(err) {
		return resources.ErrUniqueViolation
	}
	if err != nil {
		return fmt.Errorf("insert identifiers: %w", err)
	}
	return nil
}

// Lookup resolves values within a scheme. An empty values slice returns
// every identifier registered under the scheme.
func (r *IdentifierRepository) Lookup(ctx context.Context, scheme string, values []string) (map[string]string, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(values) == 0 {
		rows, err = r.queryer().Query(ctx, `
			SELECT value, resource_href FROM identifiers WHERE scheme = $1`, scheme)
	} else {
		rows, err = r.queryer().Query(ctx, `
			SELECT value, resource_href FROM identifiers WHERE scheme = $1 AND value = ANY($2)`, scheme, values)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup identifiers in %s: %w", scheme, err)
	}
	defer rows.Close()

	result := map[string]string{}
	for rows.Next() {
		var value, href string
		if err := rows.Scan(&value, &href); err != nil {
			return nil, fmt.Errorf("scan identifier: %w", err)
		}
		result[value] = href
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identifiers: %w", err)
	}
	return result, nil
}

// withSavepoint runs fn under a nested transaction when already inside one,
// so a failed statement does not abort the enclosing transaction.
func (r *IdentifierRepository) withSavepoint(ctx context.Context, fn func(querier) error) error {
	if r.tx == nil {
		return fn(r.pool)
	}
	nested, err := r.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin savepoint: %w", err)
	}
	if err := fn(nested); err != nil {
		_ = nested.Rollback(ctx)
		return err
	}
	if err := nested.Commit(ctx); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}
