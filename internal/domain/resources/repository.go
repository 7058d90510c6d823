package resources

import "context"

// ResourceRepository persists resource rows. Resources are never
// hard-deleted; the row survives so hrefs and identifiers stay stable.
type ResourceRepository interface {
	// Get returns ErrNotFound when no row exists for href.
	Get(ctx context.Context, href string) (*Resource, error)

	// Create returns ErrResourceExists when the href is taken.
	Create(ctx context.Context, resource *Resource) error

	// Update persists data, version and the denormalized scalar fields.
	Update(ctx context.Context, resource *Resource) error

	// ListHrefs returns every resource href, ordered, for operator-driven
	// full reconvergence.
	ListHrefs(ctx context.Context) ([]string, error)
}

// SourceRepository persists source rows.
type SourceRepository interface {
	// Get returns ErrSourceNotFound when no row exists for href.
	Get(ctx context.Context, href string) (*Source, error)

	// ListForResource returns every source row of the resource, deleted
	// ones included, ordered by source type.
	ListForResource(ctx context.Context, resourceHref string) ([]*Source, error)

	Upsert(ctx context.Context, source *Source) error

	// Lock serializes concurrent writers on the given source hrefs for the
	// duration of the enclosing transaction, covering rows that do not
	// exist yet. Hrefs must be pre-sorted by the caller so lock order is
	// deterministic across competing transactions.
	Lock(ctx context.Context, hrefs []string) error
}

// LinkRepository maintains the materialized edge table.
type LinkRepository interface {
	// Replace swaps the full outbound link set of a resource.
	Replace(ctx context.Context, resourceHref string, links []Link) error

	// ListInbound returns the stored links targeting href.
	ListInbound(ctx context.Context, targetHref string) ([]Link, error)
}

// IdentifierRepository maintains the unique (scheme, value) index.
type IdentifierRepository interface {
	DeleteForResource(ctx context.Context, resourceHref string) error

	// Insert returns ErrUniqueViolation on a (scheme, value) clash. The
	// implementation must leave the enclosing transaction usable after a
	// failure (savepoint or equivalent) so the maintainer can retry
	// row-by-row.
	Insert(ctx context.Context, identifier Identifier) error

	// InsertMany behaves like Insert for a batch; a clash anywhere returns
	// ErrUniqueViolation without identifying the row.
	InsertMany(ctx context.Context, identifiers []Identifier) error

	// Lookup maps values to resource hrefs within a scheme. An empty
	// values slice returns every identifier in the scheme.
	Lookup(ctx context.Context, scheme string, values []string) (map[string]string, error)
}

// ChangesetRepository persists changeset records.
type ChangesetRepository interface {
	Create(ctx context.Context, changeset *Changeset) error

	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*Changeset, error)

	// UpdateState transitions the changeset, guarded by an optimistic
	// version check; ErrVersionConflict when expectedVersion is stale.
	// Returns the new version.
	UpdateState(ctx context.Context, id string, state ChangesetState, expectedVersion int64) (int64, error)
}

// Store groups the repositories behind one transactional boundary.
type Store interface {
	Resources() ResourceRepository
	Sources() SourceRepository
	Links() LinkRepository
	Identifiers() IdentifierRepository
	Changesets() ChangesetRepository

	// WithTx runs fn inside a transaction; fn's Store routes all access
	// through it. Nested calls join the outer transaction.
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
}
