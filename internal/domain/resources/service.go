package resources

import (
	"context"
	"fmt"
	"time"
)

// PermissionChecker answers whether user may perform action on object.
// Object is a resource type name, a *Resource or a *Source depending on the
// action.
type PermissionChecker func(ctx context.Context, user, action string, object any) bool

// AllowAll is the permissive default used by tooling that runs with
// operator authority.
func AllowAll(context.Context, string, string, any) bool { return true }

const (
	ActionCreateResource   = "create_resource"
	ActionAssignIdentifier = "assign_identifier"
	ActionChangeSource     = "change_source"
	ActionDeleteSource     = "delete_source"
)

// Service is the core surface exposed to the boundary layer.
type Service struct {
	store Store
	regen *Regenerator
	perm  PermissionChecker
	now   func() time.Time
}

func NewService(store Store, regen *Regenerator, perm PermissionChecker) *Service {
	if perm == nil {
		perm = AllowAll
	}
	return &Service{store: store, regen: regen, perm: perm, now: time.Now}
}

// Regenerator exposes the engine for collaborators that drive saves inside
// their own transactions.
func (s *Service) Regenerator() *Regenerator { return s.regen }

// Create mints a new resource. The identifier is client-supplied when the
// type permits it, generated otherwise. The initial document is computed
// before the row is inserted so even an empty resource carries a valid @id,
// and the row starts at version 0: creation is not a client-visible
// regeneration, the first source edit is version 1.
func (s *Service) Create(ctx context.Context, creator, resourceType, identifier string) (*Resource, error) {
	rt, ok := s.regen.registry.Type(resourceType)
	if !ok {
		return nil, NoSuchResourceTypeError{Type: resourceType}
	}
	if !s.perm(ctx, creator, ActionCreateResource, resourceType) {
		return nil, fmt.Errorf("create %s: %w", resourceType, ErrForbidden)
	}

	if identifier != "" {
		if !rt.ClientAssignedIdentifiers {
			return nil, fmt.Errorf("type %s does not accept client identifiers: %w", resourceType, ErrCannotAssignIdentifier)
		}
		if !s.perm(ctx, creator, ActionAssignIdentifier, resourceType) {
			return nil, fmt.Errorf("assign identifier on %s: %w", resourceType, ErrForbidden)
		}
		if err := ValidateIdentifier(identifier); err != nil {
			return nil, err
		}
	} else {
		minted, err := NewIdentifier()
		if err != nil {
			return nil, err
		}
		identifier = minted
	}

	res := &Resource{
		Href:       ResourceHref(resourceType, identifier),
		Type:       resourceType,
		Identifier: identifier,
		Data:       map[string]any{},
		Created:    s.now().UTC(),
		Modified:   s.now().UTC(),
	}

	err := s.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		out, err := s.regen.Regenerate(ctx, tx, res)
		if err != nil {
			return err
		}
		res.Data = out.Document().Map()
		if _, err := s.regen.refreshDenormalized(res, out.Document()); err != nil {
			return err
		}
		return tx.Resources().Create(ctx, res)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Get fetches a resource by canonical href.
func (s *Service) Get(ctx context.Context, href string) (*Resource, error) {
	return s.store.Resources().Get(ctx, href)
}

// GetSource fetches a source row by href.
func (s *Service) GetSource(ctx context.Context, href string) (*Source, error) {
	return s.store.Sources().Get(ctx, href)
}

// LookupByIdentifier maps values within a scheme to their resources. A
// missing value maps to nil. An empty values slice returns every identifier
// in the scheme.
func (s *Service) LookupByIdentifier(ctx context.Context, scheme string, values []string) (map[string]*Resource, error) {
	hrefs, err := s.store.Identifiers().Lookup(ctx, scheme, values)
	if err != nil {
		return nil, fmt.Errorf("lookup scheme %s: %w", scheme, err)
	}

	result := make(map[string]*Resource, len(values))
	for _, value := range values {
		result[value] = nil
	}
	for value, href := range hrefs {
		res, err := s.store.Resources().Get(ctx, href)
		if err != nil {
			return nil, fmt.Errorf("lookup %s:%s: %w", scheme, value, err)
		}
		result[value] = res
	}
	return result, nil
}

// Save regenerates one resource inside its own transaction, cascading as
// needed. Used by operator tooling and the scheduled re-save worker.
func (s *Service) Save(ctx context.Context, href string) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		res, err := tx.Resources().Get(ctx, href)
		if err != nil {
			return err
		}
		return s.regen.Save(ctx, tx, res)
	})
}
