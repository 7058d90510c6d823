package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prism-data/prism/internal/domain/resources"
)

type SourceRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func (r *SourceRepository) queryer() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

const sourceColumns = `href, resource_href, type, data, version, deleted, author, committer, created, modified`

func (r *SourceRepository) Get(ctx context.Context, href string) (*resources.Source, error) {
	row := r.queryer().QueryRow(ctx, `
		SELECT `+sourceColumns+`
		FROM sources
		WHERE href = $1`, href)
	source, err := scanSource(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", href, resources.ErrSourceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get source %s: %w", href, err)
	}
	return source, nil
}

func (r *SourceRepository) ListForResource(ctx context.Context, resourceHref string) ([]*resources.Source, error) {
	rows, err := r.queryer().Query(ctx, `
		SELECT `+sourceColumns+`
		FROM sources
		WHERE resource_href = $1
		ORDER BY type`, resourceHref)
	if err != nil {
		return nil, fmt.Errorf("list sources for %s: %w", resourceHref, err)
	}
	defer rows.Close()

	var result []*resources.Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		result = append(result, source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return result, nil
}

func (r *SourceRepository) Upsert(ctx context.Context, source *resources.Source) error {
	_, err := r.queryer().Exec(ctx, `
		INSERT INTO sources (href, resource_href, type, data, version, deleted, author, committer, created, modified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (href) DO UPDATE
		SET data = EXCLUDED.data, version = EXCLUDED.version, deleted = EXCLUDED.deleted,
			author = EXCLUDED.author, committer = EXCLUDED.committer, modified = EXCLUDED.modified`,
		source.Href, source.ResourceHref, source.Type, source.Data,
		source.Version, source.Deleted, source.Author, source.Committer,
		source.Created, source.Modified)
	if err != nil {
		return fmt.Errorf("upsert source %s: %w", source.Href, err)
	}
	return nil
}

// Lock serializes concurrent changesets on their shared targets. Hrefs must
// already be sorted so concurrent callers acquire in the same order. The
// advisory lock also covers sources that have no row yet.
func (r *SourceRepository) Lock(ctx context.Context, hrefs []string) error {
	q := r.queryer()
	for _, href := range hrefs {
		if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, href); err != nil {
			return fmt.Errorf("advisory lock %s: %w", href, err)
		}
	}
	if len(hrefs) == 0 {
		return nil
	}
	rows, err := q.Query(ctx, `
		SELECT href FROM sources
		WHERE href = ANY($1)
		ORDER BY href
		FOR UPDATE`, hrefs)
	if err != nil {
		return fmt.Errorf("lock sources: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var href string
		if err := rows.Scan(&href); err != nil {
			return fmt.Errorf("lock sources: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("lock sources: %w", err)
	}
	return nil
}

func scanSource(row pgx.Row) (*resources.Source, error) {
	var source resources.Source
	err := row.Scan(&source.Href, &source.ResourceHref, &source.Type, &source.Data,
		&source.Version, &source.Deleted, &source.Author, &source.Committer,
		&source.Created, &source.Modified)
	if err != nil {
		return nil, err
	}
	return &source, nil
}
