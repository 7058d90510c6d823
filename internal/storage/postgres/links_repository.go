package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prism-data/prism/internal/domain/resources"
)

type LinkRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func (r *LinkRepository) queryer() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

// Replace swaps the full outbound link set of a resource in one statement
// pair. The rows always mirror the current document exactly.
func (r *LinkRepository) Replace(ctx context.Context, resourceHref string, links []resources.Link) error {
	q := r.queryer()
	if _, err := q.Exec(ctx, `DELETE FROM links WHERE resource_href = $1`, resourceHref); err != nil {
		return fmt.Errorf("clear links for %s: %w", resourceHref, err)
	}
	if len(links) == 0 {
		return nil
	}

	targets := make([]string, len(links))
	types := make([]string, len(links))
	for i, link := range links {
		targets[i] = link.TargetHref
		types[i] = link.Type
	}
	_, err := q.Exec(ctx, `
		INSERT INTO links (resource_href, target_href, type)
		SELECT $1, unnest($2::text[]), unnest($3::text[])`,
		resourceHref, targets, types)
	if err != nil {
		return fmt.Errorf("insert links for %s: %w", resourceHref, err)
	}
	return nil
}

func (r *LinkRepository) ListInbound(ctx context.Context, targetHref string) ([]resources.Link, error) {
	rows, err := r.queryer().Query(ctx, `
		SELECT resource_href, target_href, type
		FROM links
		WHERE target_href = $1
		ORDER BY resource_href, type`, targetHref)
	if err != nil {
		return nil, fmt.Errorf("list inbound links for %s: %w", targetHref, err)
	}
	defer rows.Close()

	var result []resources.Link
	for rows.Next() {
		var link resources.Link
		if err := rows.Scan(&link.ResourceHref, &link.TargetHref, &link.Type); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		result = append(result, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return result, nil
}
