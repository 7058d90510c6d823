package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prism-data/prism/internal/domain/resources"
)

type ResourceRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func (r *ResourceRepository) queryer() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

const resourceColumns = `href, type, identifier, uri, data, version, deleted, extant,
	start_date, end_date, point_lat, point_lon, created, modified`

func (r *ResourceRepository) Get(ctx context.Context, href string) (*resources.Resource, error) {
	row := r.queryer().QueryRow(ctx, `
		SELECT `+resourceColumns+`
		FROM resources
		WHERE href = $1`, href)
	resource, err := scanResource(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", href, resources.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get resource %s: %w", href, err)
	}
	return resource, nil
}

func (r *ResourceRepository) Create(ctx context.Context, resource *resources.Resource) error {
	lat, lon := pointColumns(resource.Point)
	_, err := r.queryer().Exec(ctx, `
		INSERT INTO resources (href, type, identifier, uri, data, version, deleted, extant,
			start_date, end_date, point_lat, point_lon, created, modified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		resource.Href, resource.Type, resource.Identifier, resource.URI, resource.Data,
		resource.Version, resource.Deleted, resource.Extant,
		timestamptz(resource.StartDate), timestamptz(resource.EndDate), lat, lon,
		resource.Created, resource.Modified)
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", resource.Href, resources.ErrResourceExists)
	}
	if err != nil {
		return fmt.Errorf("create resource %s: %w", resource.Href, err)
	}
	return nil
}

func (r *ResourceRepository) Update(ctx context.Context, resource *resources.Resource) error {
	lat, lon := pointColumns(resource.Point)
	tag, err := r.queryer().Exec(ctx, `
		UPDATE resources
		SET uri = $2, data = $3, version = $4, deleted = $5, extant = $6,
			start_date = $7, end_date = $8, point_lat = $9, point_lon = $10, modified = $11
		WHERE href = $1`,
		resource.Href, resource.URI, resource.Data, resource.Version,
		resource.Deleted, resource.Extant,
		timestamptz(resource.StartDate), timestamptz(resource.EndDate), lat, lon,
		resource.Modified)
	if err != nil {
		return fmt.Errorf("update resource %s: %w", resource.Href, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", resource.Href, resources.ErrNotFound)
	}
	return nil
}

func (r *ResourceRepository) ListHrefs(ctx context.Context) ([]string, error) {
	rows, err := r.queryer().Query(ctx, `SELECT href FROM resources ORDER BY href`)
	if err != nil {
		return nil, fmt.Errorf("list resource hrefs: %w", err)
	}
	defer rows.Close()

	var hrefs []string
	for rows.Next() {
		var href string
		if err := rows.Scan(&href); err != nil {
			return nil, fmt.Errorf("list resource hrefs: %w", err)
		}
		hrefs = append(hrefs, href)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list resource hrefs: %w", err)
	}
	return hrefs, nil
}

func scanResource(row pgx.Row) (*resources.Resource, error) {
	var (
		resource resources.Resource
		start    pgtype.Timestamptz
		end      pgtype.Timestamptz
		lat, lon pgtype.Float8
	)
	err := row.Scan(&resource.Href, &resource.Type, &resource.Identifier, &resource.URI,
		&resource.Data, &resource.Version, &resource.Deleted, &resource.Extant,
		&start, &end, &lat, &lon, &resource.Created, &resource.Modified)
	if err != nil {
		return nil, err
	}
	if start.Valid {
		value := start.Time
		resource.StartDate = &value
	}
	if end.Valid {
		value := end.Time
		resource.EndDate = &value
	}
	if lat.Valid && lon.Valid {
		resource.Point = &resources.Point{Lat: lat.Float64, Lon: lon.Float64}
	}
	return &resource, nil
}

func pointColumns(point *resources.Point) (pgtype.Float8, pgtype.Float8) {
	if point == nil {
		return pgtype.Float8{}, pgtype.Float8{}
	}
	return pgtype.Float8{Float64: point.Lat, Valid: true}, pgtype.Float8{Float64: point.Lon, Valid: true}
}

func timestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}
