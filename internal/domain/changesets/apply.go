package changesets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/wI2L/jsondiff"

	"github.com/prism-data/prism/internal/domain/resources"
	"github.com/prism-data/prism/internal/registry"
)

// opResult records what an applied operation did to its source.
const (
	resultCreated  = "created"
	resultModified = "modified"
	resultDeleted  = "deleted"
	resultNoop     = "noop"
)

// target is a resolved operation: the source row it addresses (possibly
// absent) and the registry records governing it.
type target struct {
	index int
	op    resources.Operation

	resourceHref string
	sourceType   string
	sourceHref   string

	resource *resources.Resource
	st       *registry.SourceType

	// source is the current row, nil when it does not exist yet.
	source *resources.Source

	mutated bool
	result  string
}

// resolveTarget locates the operation's source row, validating the
// referenced resource and source type. Hrefs resolve against the
// changeset's base href.
func (s *Service) resolveTarget(ctx context.Context, tx resources.Store, baseHref string, index int, op resources.Operation) (*target, error) {
	var resourceHref, sourceType string

	if op.Href != "" {
		resolved, err := resources.ResolveHref(baseHref, op.Href)
		if err != nil {
			return nil, err
		}
		resourceHref, sourceType, err = resources.ParseSourceHref(resolved)
		if err != nil {
			return nil, err
		}
	} else {
		resolved, err := resources.ResolveHref(baseHref, op.ResourceHref)
		if err != nil {
			return nil, err
		}
		resourceHref = resolved
		sourceType = op.SourceType
	}

	res, err := tx.Resources().Get(ctx, resourceHref)
	if err != nil {
		if errors.Is(err, resources.ErrNotFound) {
			return nil, SourceDataWithoutResourceError{ResourceHref: resourceHref}
		}
		return nil, err
	}

	rt, ok := s.registry.Type(res.Type)
	if !ok {
		return nil, resources.NoSuchResourceTypeError{Type: res.Type}
	}
	st, ok := rt.SourceType(sourceType)
	if !ok {
		if s.registry.KnowsSourceType(sourceType) {
			return nil, IncompatibleSourceTypeError{ResourceType: res.Type, SourceType: sourceType}
		}
		return nil, NoSuchSourceTypeError{SourceType: sourceType}
	}

	return &target{
		index:        index,
		op:           op,
		resourceHref: resourceHref,
		sourceType:   sourceType,
		sourceHref:   resources.SourceHref(resourceHref, sourceType),
		resource:     res,
		st:           st,
	}, nil
}

// loadSource fetches the current row after its lock has been taken.
func loadSource(ctx context.Context, tx resources.Store, t *target) error {
	src, err := tx.Sources().Get(ctx, t.sourceHref)
	if err != nil {
		if errors.Is(err, resources.ErrSourceNotFound) {
			t.source = nil
			return nil
		}
		return err
	}
	t.source = src
	return nil
}

// apply dispatches one operation. The target's source row is mutated in
// memory; persistence happens after all operations succeed.
func (s *Service) apply(ctx context.Context, cs *resources.Changeset, t *target) error {
	switch t.op.Op {
	case resources.OpPut:
		return s.applyPut(ctx, cs, t)
	case resources.OpPatch:
		return s.applyPatch(ctx, cs, t)
	case resources.OpDelete:
		return s.applyDelete(ctx, cs, t)
	case resources.OpMove:
		// Declared in the update schema, no implemented semantics.
		return fmt.Errorf("%w: move", ErrUnsupportedOperation)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedOperation, t.op.Op)
	}
}

// applyPut replaces the source's data wholesale. A null body is a DELETE.
// Internally PUT is a diff: the patch from the committer-filtered current
// data to the submitted data goes through the same acceptance gates as an
// explicit PATCH, so a PUT cannot bypass filter rules either.
func (s *Service) applyPut(ctx context.Context, cs *resources.Changeset, t *target) error {
	if t.op.Data == nil {
		return s.applyDelete(ctx, cs, t)
	}

	creating := t.source == nil || t.source.Deleted

	current := map[string]any{}
	if !creating && t.source.Data != nil {
		current = t.source.Data
	}
	filtered := t.st.ApplyFilter(committer(cs), current)

	diff, err := jsondiff.Compare(filtered, t.op.Data)
	if err != nil {
		return fmt.Errorf("compute put diff for %s: %w", t.sourceHref, err)
	}
	if len(diff) == 0 && !creating {
		t.result = resultNoop
		return nil
	}
	raw := []byte("[]")
	if len(diff) > 0 {
		if raw, err = json.Marshal(diff); err != nil {
			return fmt.Errorf("encode put diff for %s: %w", t.sourceHref, err)
		}
	}

	if err := s.patchSource(ctx, cs, t, raw, true); err != nil {
		return err
	}
	// A resurrected or new source is a creation event, not a modification.
	if creating && t.mutated {
		t.result = resultCreated
	}
	return nil
}

// applyPatch applies an author-supplied RFC 6902 patch.
func (s *Service) applyPatch(ctx context.Context, cs *resources.Changeset, t *target) error {
	if t.source != nil && t.source.Deleted {
		return CantPatchDeletedSourceError{Href: t.sourceHref}
	}
	if isEmptyPatch(t.op.Patch) {
		if t.source == nil && t.op.CreateEmptyIfMissing {
			t.createSource(cs, map[string]any{})
			t.result = resultCreated
			return nil
		}
		t.result = resultNoop
		return nil
	}
	if t.source == nil && !t.op.CreateEmptyIfMissing {
		return fmt.Errorf("%s: %w", t.sourceHref, resources.ErrSourceNotFound)
	}
	created := t.source == nil
	if err := s.patchSource(ctx, cs, t, t.op.Patch, false); err != nil {
		return err
	}
	if created && t.mutated {
		t.result = resultCreated
	}
	return nil
}

// patchSource runs the shared PATCH gates: permission, patch predicate,
// filter commutativity, schema validation. resurrect permits patching a
// deleted source (the PUT path), treating its data as empty.
func (s *Service) patchSource(ctx context.Context, cs *resources.Changeset, t *target, rawPatch []byte, resurrect bool) error {
	if isEmptyPatch(rawPatch) && t.source != nil && !t.source.Deleted {
		t.result = resultNoop
		return nil
	}

	if !s.perm(ctx, committer(cs), resources.ActionChangeSource, t.sourceHref) {
		return fmt.Errorf("change %s: %w", t.sourceHref, resources.ErrForbidden)
	}
	if !t.st.AcceptsPatch(rawPatch) {
		return PatchUnacceptableError{Href: t.sourceHref, Reason: "rejected by source type"}
	}

	patch, err := jsonpatch.DecodePatch(rawPatch)
	if err != nil {
		return PatchUnacceptableError{Href: t.sourceHref, Reason: fmt.Sprintf("malformed patch: %v", err)}
	}

	current := map[string]any{}
	if t.source != nil && !t.source.Deleted && t.source.Data != nil {
		current = t.source.Data
	} else if t.source != nil && t.source.Deleted && !resurrect {
		return CantPatchDeletedSourceError{Href: t.sourceHref}
	}

	commutes, err := commutesWithFilter(t.st, committer(cs), current, patch)
	if err != nil {
		return PatchUnacceptableError{Href: t.sourceHref, Reason: fmt.Sprintf("patch does not apply: %v", err)}
	}
	if !commutes {
		return PatchUnacceptableError{Href: t.sourceHref, Reason: "patch does not commute with the viewer filter"}
	}

	patched, err := applyPatch(patch, current)
	if err != nil {
		return PatchUnacceptableError{Href: t.sourceHref, Reason: fmt.Sprintf("patch does not apply: %v", err)}
	}
	if err := t.st.ValidateData(patched); err != nil {
		return SchemaValidationError{Href: t.sourceHref, Err: err}
	}

	if t.source == nil || t.source.Deleted {
		t.createSource(cs, patched)
		t.result = resultCreated
		return nil
	}
	if jsonEqual(t.source.Data, patched) {
		t.result = resultNoop
		return nil
	}
	t.source.Data = patched
	t.source.Committer = committer(cs)
	t.mutated = true
	t.result = resultModified
	return nil
}

// applyDelete tombstones the source: data cleared, row kept so history and
// links survive. Idempotent on an already-deleted or absent source.
func (s *Service) applyDelete(ctx context.Context, cs *resources.Changeset, t *target) error {
	if t.source == nil || t.source.Deleted {
		t.result = resultNoop
		return nil
	}
	if !s.perm(ctx, committer(cs), resources.ActionDeleteSource, t.sourceHref) {
		return fmt.Errorf("delete %s: %w", t.sourceHref, resources.ErrForbidden)
	}
	t.source.Deleted = true
	t.source.Data = nil
	t.source.Committer = committer(cs)
	t.mutated = true
	t.result = resultDeleted
	return nil
}

// createSource populates a fresh (or resurrected) row in memory.
func (t *target) createSource(cs *resources.Changeset, data map[string]any) {
	now := time.Now().UTC()
	if t.source == nil {
		t.source = &resources.Source{
			Href:         t.sourceHref,
			ResourceHref: t.resourceHref,
			Type:         t.sourceType,
			Created:      now,
		}
	}
	t.source.Data = data
	t.source.Deleted = false
	t.source.Author = cs.Author
	t.source.Committer = committer(cs)
	t.source.Modified = now
	t.mutated = true
}

func committer(cs *resources.Changeset) string {
	if cs.Committer != "" {
		return cs.Committer
	}
	return cs.Author
}
