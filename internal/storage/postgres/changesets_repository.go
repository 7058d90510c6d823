package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prism-data/prism/internal/domain/resources"
)

type ChangesetRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func (r *ChangesetRepository) queryer() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

func (r *ChangesetRepository) Create(ctx context.Context, changeset *resources.Changeset) error {
	operations, err := json.Marshal(changeset.Operations)
	if err != nil {
		return fmt.Errorf("encode operations: %w", err)
	}
	changeset.Version = 1
	_, err = r.queryer().Exec(ctx, `
		INSERT INTO changesets (id, base_href, author, committer, state, operations, version, created, modified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		changeset.ID, changeset.BaseHref, changeset.Author, changeset.Committer,
		string(changeset.State), operations, changeset.Version,
		changeset.Created, changeset.Modified)
	if isUniqueViolation(err) {
		return fmt.Errorf("changeset %s: %w", changeset.ID, resources.ErrResourceExists)
	}
	if err != nil {
		return fmt.Errorf("create changeset %s: %w", changeset.ID, err)
	}
	return nil
}

func (r *ChangesetRepository) Get(ctx context.Context, id string) (*resources.Changeset, error) {
	var (
		changeset  resources.Changeset
		state      string
		operations []byte
	)
	err := r.queryer().QueryRow(ctx, `
		SELECT id, base_href, author, committer, state, operations, version, created, modified
		FROM changesets
		WHERE id = $1`, id).
		Scan(&changeset.ID, &changeset.BaseHref, &changeset.Author, &changeset.Committer,
			&state, &operations, &changeset.Version, &changeset.Created, &changeset.Modified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("changeset %s: %w", id, resources.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get changeset %s: %w", id, err)
	}
	changeset.State = resources.ChangesetState(state)
	if err := json.Unmarshal(operations, &changeset.Operations); err != nil {
		return nil, fmt.Errorf("decode operations for %s: %w", id, err)
	}
	return &changeset, nil
}

// UpdateState advances the lifecycle state with optimistic concurrency. The
// update only lands when the stored version still matches expectedVersion.
func (r *ChangesetRepository) UpdateState(ctx context.Context, id string, state resources.ChangesetState, expectedVersion int64) (int64, error) {
	var version int64
	err := r.queryer().QueryRow(ctx, `
		UPDATE changesets
		SET state = $2, version = version + 1, modified = now()
		WHERE id = $1 AND version = $3
		RETURNING version`,
		id, string(state), expectedVersion).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("changeset %s: %w", id, resources.ErrVersionConflict)
	}
	if err != nil {
		return 0, fmt.Errorf("update changeset %s: %w", id, err)
	}
	return version, nil
}
