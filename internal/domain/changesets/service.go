package changesets

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/prism-data/prism/internal/domain/resources"
	"github.com/prism-data/prism/internal/metrics"
	"github.com/prism-data/prism/internal/registry"
)

// PerformScheduler enqueues a deferred perform of a persisted changeset.
type PerformScheduler interface {
	SchedulePerform(ctx context.Context, id string, at time.Time) error
}

// Service validates and applies changesets.
type Service struct {
	store     resources.Store
	registry  *registry.Registry
	regen     *resources.Regenerator
	perm      resources.PermissionChecker
	notifier  resources.Notifier
	scheduler PerformScheduler
	validate  *validator.Validate
	now       func() time.Time
}

func NewService(store resources.Store, reg *registry.Registry, regen *resources.Regenerator, perm resources.PermissionChecker, notifier resources.Notifier, scheduler PerformScheduler) *Service {
	if perm == nil {
		perm = resources.AllowAll
	}
	return &Service{
		store:     store,
		registry:  reg,
		regen:     regen,
		perm:      perm,
		notifier:  notifier,
		scheduler: scheduler,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// PerformParams names a new changeset to build and perform immediately.
type PerformParams struct {
	BaseHref   string
	Author     string
	Committer  string
	Operations []resources.Operation
}

// Perform persists a new changeset record and performs it. The returned
// changeset reflects the final state (performed or failed).
func (s *Service) Perform(ctx context.Context, params PerformParams) (*resources.Changeset, error) {
	cs := &resources.Changeset{
		ID:         uuid.NewString(),
		BaseHref:   params.BaseHref,
		Author:     params.Author,
		Committer:  params.Committer,
		State:      resources.StatePendingApproval,
		Operations: params.Operations,
		Created:    s.now().UTC(),
		Modified:   s.now().UTC(),
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx resources.Store) error {
		return tx.Changesets().Create(ctx, cs)
	})
	if err != nil {
		return nil, fmt.Errorf("persist changeset: %w", err)
	}
	return cs, s.perform(ctx, cs)
}

// Schedule validates and persists a changeset in the scheduled state, then
// enqueues a deferred perform at the given instant. The worker drives the
// actual perform through PerformByID.
func (s *Service) Schedule(ctx context.Context, params PerformParams, at time.Time) (*resources.Changeset, error) {
	if s.scheduler == nil {
		return nil, errors.New("no scheduler configured for deferred perform")
	}
	cs := &resources.Changeset{
		ID:         uuid.NewString(),
		BaseHref:   params.BaseHref,
		Author:     params.Author,
		Committer:  params.Committer,
		State:      resources.StateScheduled,
		Operations: params.Operations,
		Created:    s.now().UTC(),
		Modified:   s.now().UTC(),
	}
	if err := s.validateEnvelope(cs); err != nil {
		return nil, err
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx resources.Store) error {
		return tx.Changesets().Create(ctx, cs)
	})
	if err != nil {
		return nil, fmt.Errorf("persist changeset: %w", err)
	}
	if err := s.scheduler.SchedulePerform(ctx, cs.ID, at); err != nil {
		return nil, fmt.Errorf("schedule perform for changeset %s: %w", cs.ID, err)
	}
	return cs, nil
}

// Get fetches a changeset record by id.
func (s *Service) Get(ctx context.Context, id string) (*resources.Changeset, error) {
	return s.store.Changesets().Get(ctx, id)
}

// PerformByID performs a previously persisted changeset, the deferred path
// behind the scheduled state.
func (s *Service) PerformByID(ctx context.Context, id string) error {
	cs, err := s.store.Changesets().Get(ctx, id)
	if err != nil {
		return err
	}
	switch cs.State {
	case resources.StatePendingApproval, resources.StateScheduled:
	default:
		return ChangesetConflictError{ID: cs.ID, ExpectedVersion: cs.Version}
	}
	return s.perform(ctx, cs)
}

var tracer = otel.Tracer("github.com/prism-data/prism/internal/domain/changesets")

// perform runs the state machine: validate the envelope, apply all
// operations atomically, regenerate touched resources, and transition to
// performed — or failed on any error. Perform succeeds at most once: the
// state transition is optimistically version-checked inside the same
// transaction as the edits.
func (s *Service) perform(ctx context.Context, cs *resources.Changeset) error {
	ctx, span := tracer.Start(ctx, "Changeset.Perform",
		trace.WithAttributes(
			attribute.String("changeset.id", cs.ID),
			attribute.Int("changeset.operations", len(cs.Operations)),
		))
	defer span.End()

	err := s.validateEnvelope(cs)
	if err == nil {
		err = s.store.WithTx(ctx, func(ctx context.Context, tx resources.Store) error {
			return s.performTx(ctx, tx, cs)
		})
	}
	if err != nil {
		s.markFailed(ctx, cs)
		metrics.ChangesetsPerformed.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	cs.State = resources.StatePerformed
	metrics.ChangesetsPerformed.WithLabelValues("performed").Inc()
	if s.notifier != nil {
		s.notifier.NotifyChange(ctx, "changeset", cs.ID, cs.Version)
	}
	return nil
}

func (s *Service) validateEnvelope(cs *resources.Changeset) error {
	var errs []error
	if len(cs.Operations) == 0 {
		errs = append(errs, errors.New("changeset has no operations"))
	}
	for i, op := range cs.Operations {
		if err := s.validate.Struct(op); err != nil {
			errs = append(errs, EnvelopeError{Index: i, Field: "operation", Err: err})
		}
	}
	if len(errs) > 0 {
		return MultipleErrors{Errors: errs}
	}
	return nil
}

func (s *Service) performTx(ctx context.Context, tx resources.Store, cs *resources.Changeset) error {
	// Concurrency guard for the batch record itself, independent of the
	// per-source row locks below.
	stored, err := tx.Changesets().Get(ctx, cs.ID)
	if err != nil {
		return err
	}
	if stored.Version != cs.Version || stored.State == resources.StatePerformed {
		return ChangesetConflictError{ID: cs.ID, ExpectedVersion: cs.Version}
	}

	targets, err := s.resolveTargets(ctx, tx, cs)
	if err != nil {
		return err
	}

	// Serialize competing changesets touching overlapping sources. Sorted
	// hrefs keep lock order deterministic across transactions.
	hrefs := make([]string, 0, len(targets))
	seen := map[string]bool{}
	for _, t := range targets {
		if !seen[t.sourceHref] {
			seen[t.sourceHref] = true
			hrefs = append(hrefs, t.sourceHref)
		}
	}
	sort.Strings(hrefs)
	if err := tx.Sources().Lock(ctx, hrefs); err != nil {
		return fmt.Errorf("lock sources: %w", err)
	}

	// Re-read rows under the lock; shared targets alias one row.
	byHref := map[string]*target{}
	for _, t := range targets {
		if prior, ok := byHref[t.sourceHref]; ok {
			t.source = prior.source
			continue
		}
		if err := loadSource(ctx, tx, t); err != nil {
			return err
		}
		byHref[t.sourceHref] = t
	}

	var opErrs []error
	for _, t := range targets {
		if prior := byHref[t.sourceHref]; prior != t {
			t.source = prior.source
		}
		if err := s.apply(ctx, cs, t); err != nil {
			opErrs = append(opErrs, OperationError{Index: t.index, Err: err})
			continue
		}
		if t.source != nil {
			byHref[t.sourceHref].source = t.source
		}
		metrics.ChangesetOperations.WithLabelValues(t.op.Op, t.result).Inc()
	}
	if len(opErrs) > 0 {
		return MultipleErrors{Errors: opErrs}
	}

	// Persist every mutated source, without per-source cascading.
	now := s.now().UTC()
	savedSources := map[string]bool{}
	touchedResources := map[string]bool{}
	var resourceOrder []string
	for _, t := range targets {
		if !t.mutated {
			continue
		}
		if !touchedResources[t.resourceHref] {
			touchedResources[t.resourceHref] = true
			resourceOrder = append(resourceOrder, t.resourceHref)
		}
		if savedSources[t.sourceHref] {
			continue
		}
		src := byHref[t.sourceHref].source
		src.Version++
		src.Modified = now
		if err := tx.Sources().Upsert(ctx, src); err != nil {
			return fmt.Errorf("save source %s: %w", src.Href, err)
		}
		savedSources[t.sourceHref] = true
		if s.notifier != nil {
			s.notifier.NotifyChange(ctx, "source", src.Href, src.Version)
		}
	}

	// Saving the distinct owning resources is what triggers regeneration
	// and cascades.
	for _, resourceHref := range resourceOrder {
		res, err := tx.Resources().Get(ctx, resourceHref)
		if err != nil {
			return err
		}
		if err := s.regen.Save(ctx, tx, res); err != nil {
			return err
		}
	}

	version, err := tx.Changesets().UpdateState(ctx, cs.ID, resources.StatePerformed, cs.Version)
	if err != nil {
		if errors.Is(err, resources.ErrVersionConflict) {
			return ChangesetConflictError{ID: cs.ID, ExpectedVersion: cs.Version}
		}
		return err
	}
	cs.Version = version
	return nil
}

func (s *Service) resolveTargets(ctx context.Context, tx resources.Store, cs *resources.Changeset) ([]*target, error) {
	targets := make([]*target, 0, len(cs.Operations))
	var errs []error
	for i, op := range cs.Operations {
		t, err := s.resolveTarget(ctx, tx, cs.BaseHref, i, op)
		if err != nil {
			errs = append(errs, OperationError{Index: i, Err: err})
			continue
		}
		targets = append(targets, t)
	}
	if len(errs) > 0 {
		return nil, MultipleErrors{Errors: errs}
	}
	return targets, nil
}

// markFailed records the failed state best-effort; the original error is
// what callers see.
func (s *Service) markFailed(ctx context.Context, cs *resources.Changeset) {
	err := s.store.WithTx(ctx, func(ctx context.Context, tx resources.Store) error {
		version, err := tx.Changesets().UpdateState(ctx, cs.ID, resources.StateFailed, cs.Version)
		if err != nil {
			return err
		}
		cs.Version = version
		return nil
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("changeset", cs.ID).Msg("could not record failed state")
		return
	}
	cs.State = resources.StateFailed
}
