// Package memory is an in-memory resources.Store used by unit tests and
// local tooling. Transactions are emulated with whole-state snapshots; row
// locks are no-ops since access is serialized by a single mutex.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/prism-data/prism/internal/domain/resources"
)

type Store struct {
	mu sync.Mutex

	resourceRows  map[string]*resources.Resource
	sourceRows    map[string]*resources.Source
	linkRows      map[string][]resources.Link
	identifierMap map[identifierKey]string // (scheme, value) -> resource href
	changesetRows map[string]*resources.Changeset

	inTx bool
}

type identifierKey struct {
	Scheme string
	Value  string
}

func New() *Store {
	return &Store{
		resourceRows:  map[string]*resources.Resource{},
		sourceRows:    map[string]*resources.Source{},
		linkRows:      map[string][]resources.Link{},
		identifierMap: map[identifierKey]string{},
		changesetRows: map[string]*resources.Changeset{},
	}
}

func (s *Store) Resources() resources.ResourceRepository     { return (*resourceRepo)(s) }
func (s *Store) Sources() resources.SourceRepository         { return (*sourceRepo)(s) }
func (s *Store) Links() resources.LinkRepository             { return (*linkRepo)(s) }
func (s *Store) Identifiers() resources.IdentifierRepository { return (*identifierRepo)(s) }
func (s *Store) Changesets() resources.ChangesetRepository   { return (*changesetRepo)(s) }

// WithTx snapshots the whole state and restores it when fn fails. Nested
// calls join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, resources.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	snapshot := s.snapshot()
	s.inTx = true
	err := fn(ctx, s)
	s.inTx = false
	if err != nil {
		s.restore(snapshot)
		return err
	}
	return nil
}

type state struct {
	resourceRows  map[string]*resources.Resource
	sourceRows    map[string]*resources.Source
	linkRows      map[string][]resources.Link
	identifierMap map[identifierKey]string
	changesetRows map[string]*resources.Changeset
}

func (s *Store) snapshot() state {
	snap := state{
		resourceRows:  make(map[string]*resources.Resource, len(s.resourceRows)),
		sourceRows:    make(map[string]*resources.Source, len(s.sourceRows)),
		linkRows:      make(map[string][]resources.Link, len(s.linkRows)),
		identifierMap: make(map[identifierKey]string, len(s.identifierMap)),
		changesetRows: make(map[string]*resources.Changeset, len(s.changesetRows)),
	}
	for k, v := range s.resourceRows {
		snap.resourceRows[k] = copyResource(v)
	}
	for k, v := range s.sourceRows {
		snap.sourceRows[k] = copySource(v)
	}
	for k, v := range s.linkRows {
		snap.linkRows[k] = append([]resources.Link(nil), v...)
	}
	for k, v := range s.identifierMap {
		snap.identifierMap[k] = v
	}
	for k, v := range s.changesetRows {
		snap.changesetRows[k] = copyChangeset(v)
	}
	return snap
}

func (s *Store) restore(snap state) {
	s.resourceRows = snap.resourceRows
	s.sourceRows = snap.sourceRows
	s.linkRows = snap.linkRows
	s.identifierMap = snap.identifierMap
	s.changesetRows = snap.changesetRows
}

type resourceRepo Store

func (r *resourceRepo) Get(_ context.Context, href string) (*resources.Resource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.resourceRows[href]
	if !ok {
		return nil, fmt.Errorf("%s: %w", href, resources.ErrNotFound)
	}
	return copyResource(row), nil
}

func (r *resourceRepo) Create(_ context.Context, resource *resources.Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.resourceRows[resource.Href]; exists {
		return fmt.Errorf("%s: %w", resource.Href, resources.ErrResourceExists)
	}
	r.resourceRows[resource.Href] = copyResource(resource)
	return nil
}

func (r *resourceRepo) Update(_ context.Context, resource *resources.Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.resourceRows[resource.Href]; !exists {
		return fmt.Errorf("%s: %w", resource.Href, resources.ErrNotFound)
	}
	r.resourceRows[resource.Href] = copyResource(resource)
	return nil
}

func (r *resourceRepo) ListHrefs(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hrefs := make([]string, 0, len(r.resourceRows))
	for href := range r.resourceRows {
		hrefs = append(hrefs, href)
	}
	sort.Strings(hrefs)
	return hrefs, nil
}

type sourceRepo Store

func (r *sourceRepo) Get(_ context.Context, href string) (*resources.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.sourceRows[href]
	if !ok {
		return nil, fmt.Errorf("%s: %w", href, resources.ErrSourceNotFound)
	}
	return copySource(row), nil
}

func (r *sourceRepo) ListForResource(_ context.Context, resourceHref string) ([]*resources.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var rows []*resources.Source
	for _, row := range r.sourceRows {
		if row.ResourceHref == resourceHref {
			rows = append(rows, copySource(row))
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Type < rows[j].Type })
	return rows, nil
}

func (r *sourceRepo) Upsert(_ context.Context, source *resources.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sourceRows[source.Href] = copySource(source)
	return nil
}

func (r *sourceRepo) Lock(context.Context, []string) error { return nil }

type linkRepo Store

func (r *linkRepo) Replace(_ context.Context, resourceHref string, links []resources.Link) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(links) == 0 {
		delete(r.linkRows, resourceHref)
		return nil
	}
	r.linkRows[resourceHref] = append([]resources.Link(nil), links...)
	return nil
}

func (r *linkRepo) ListInbound(_ context.Context, targetHref string) ([]resources.Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var inbound []resources.Link
	for _, links := range r.linkRows {
		for _, link := range links {
			if link.TargetHref == targetHref {
				inbound = append(inbound, link)
			}
		}
	}
	sort.Slice(inbound, func(i, j int) bool {
		if inbound[i].ResourceHref != inbound[j].ResourceHref {
			return inbound[i].ResourceHref < inbound[j].ResourceHref
		}
		return inbound[i].Type < inbound[j].Type
	})
	return inbound, nil
}

type identifierRepo Store

func (r *identifierRepo) DeleteForResource(_ context.Context, resourceHref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, href := range r.identifierMap {
		if href == resourceHref {
			delete(r.identifierMap, key)
		}
	}
	return nil
}

func (r *identifierRepo) Insert(_ context.Context, identifier resources.Identifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(identifier)
}

func (r *identifierRepo) InsertMany(_ context.Context, identifiers []resources.Identifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inserted := make([]identifierKey, 0, len(identifiers))
	for _, identifier := range identifiers {
		if err := r.insertLocked(identifier); err != nil {
			// Statement-level rollback, like a savepoint.
			for _, key := range inserted {
				delete(r.identifierMap, key)
			}
			return err
		}
		inserted = append(inserted, identifierKey{Scheme: identifier.Scheme, Value: identifier.Value})
	}
	return nil
}

func (r *identifierRepo) insertLocked(identifier resources.Identifier) error {
	key := identifierKey{Scheme: identifier.Scheme, Value: identifier.Value}
	if owner, taken := r.identifierMap[key]; taken && owner != identifier.ResourceHref {
		return fmt.Errorf("identifier %s:%s: %w", identifier.Scheme, identifier.Value, resources.ErrUniqueViolation)
	}
	r.identifierMap[key] = identifier.ResourceHref
	return nil
}

func (r *identifierRepo) Lookup(_ context.Context, scheme string, values []string) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := map[string]string{}
	if len(values) == 0 {
		for key, href := range r.identifierMap {
			if key.Scheme == scheme {
				result[key.Value] = href
			}
		}
		return result, nil
	}
	for _, value := range values {
		if href, ok := r.identifierMap[identifierKey{Scheme: scheme, Value: value}]; ok {
			result[value] = href
		}
	}
	return result, nil
}

type changesetRepo Store

func (r *changesetRepo) Create(_ context.Context, changeset *resources.Changeset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.changesetRows[changeset.ID]; exists {
		return fmt.Errorf("changeset %s: %w", changeset.ID, resources.ErrResourceExists)
	}
	changeset.Version = 1
	r.changesetRows[changeset.ID] = copyChangeset(changeset)
	return nil
}

func (r *changesetRepo) Get(_ context.Context, id string) (*resources.Changeset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.changesetRows[id]
	if !ok {
		return nil, fmt.Errorf("changeset %s: %w", id, resources.ErrNotFound)
	}
	return copyChangeset(row), nil
}

func (r *changesetRepo) UpdateState(_ context.Context, id string, state resources.ChangesetState, expectedVersion int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.changesetRows[id]
	if !ok {
		return 0, fmt.Errorf("changeset %s: %w", id, resources.ErrNotFound)
	}
	if row.Version != expectedVersion {
		return 0, fmt.Errorf("changeset %s: %w", id, resources.ErrVersionConflict)
	}
	row.State = state
	row.Version++
	return row.Version, nil
}

func copyResource(in *resources.Resource) *resources.Resource {
	out := *in
	out.Data = copyMap(in.Data)
	if in.Point != nil {
		point := *in.Point
		out.Point = &point
	}
	return &out
}

func copySource(in *resources.Source) *resources.Source {
	out := *in
	out.Data = copyMap(in.Data)
	return &out
}

func copyChangeset(in *resources.Changeset) *resources.Changeset {
	out := *in
	out.Operations = append([]resources.Operation(nil), in.Operations...)
	return &out
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		panic(fmt.Sprintf("memory store: unmarshalable document: %v", err))
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("memory store: %v", err))
	}
	return out
}
