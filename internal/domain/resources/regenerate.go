package resources

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/prism-data/prism/internal/document"
	"github.com/prism-data/prism/internal/metrics"
	"github.com/prism-data/prism/internal/pipeline"
	"github.com/prism-data/prism/internal/registry"
)

// Notifier receives change events after successful mutations. Delivery is
// fire-and-forget: implementations must never fail the calling transaction.
type Notifier interface {
	NotifyChange(ctx context.Context, kind, href string, version int64)
}

// Scheduler requests a future re-save, used when a resource's extancy flips
// at a known instant.
type Scheduler interface {
	ScheduleResave(ctx context.Context, href string, at time.Time) error
}

// Regenerator recomputes derived documents and drives cascades.
type Regenerator struct {
	registry  *registry.Registry
	notifier  Notifier
	scheduler Scheduler
	now       func() time.Time
}

func NewRegenerator(reg *registry.Registry, notifier Notifier, scheduler Scheduler) *Regenerator {
	return &Regenerator{
		registry:  reg,
		notifier:  notifier,
		scheduler: scheduler,
		now:       time.Now,
	}
}

// Outcome is the result of recomputing one document.
type Outcome struct {
	doc     *document.Document
	changed bool
	cascade []string
}

// Changed reports whether the recomputed document differs byte-for-byte
// from the stored one.
func (o Outcome) Changed() bool { return o.changed }

// Document is the recomputed derived document.
func (o Outcome) Document() *document.Document { return o.doc }

// CascadeCandidates are the hrefs whose inbound-link view of this resource
// may have changed.
func (o Outcome) CascadeCandidates() []string { return o.cascade }

// Regenerate recomputes the resource's document per the type's pipeline.
// It does not persist anything; Save drives persistence and cascades.
func (r *Regenerator) Regenerate(ctx context.Context, store Store, res *Resource) (Outcome, error) {
	rt, ok := r.registry.Type(res.Type)
	if !ok {
		return Outcome{}, NoSuchResourceTypeError{Type: res.Type}
	}

	srcs, err := store.Sources().ListForResource(ctx, res.Href)
	if err != nil {
		return Outcome{}, fmt.Errorf("list sources for %s: %w", res.Href, err)
	}

	inboundRows, err := store.Links().ListInbound(ctx, res.Href)
	if err != nil {
		return Outcome{}, fmt.Errorf("list inbound links for %s: %w", res.Href, err)
	}

	working := document.New()
	for _, src := range srcs {
		if src.Deleted || src.Data == nil {
			continue
		}
		contribution := document.FromMap(src.Data).Clone().Map()
		if err := working.Set("/@source/"+escapePointerSegment(src.Type), contribution); err != nil {
			return Outcome{}, err
		}
	}

	pctx := &pipeline.Context{
		Href:    res.Href,
		Inbound: toInbound(inboundRows),
	}
	specs := r.registry.LinkSpecs()
	steps := make([]pipeline.Step, 0, len(rt.Inference)+4)
	steps = append(steps, rt.Inference...)
	steps = append(steps,
		pipeline.NormalizeLinks{Specs: specs},
		pipeline.InjectInbound{Specs: specs},
		pipeline.SortLinkLists{Specs: specs},
		pipeline.NormalizeDates{Fields: rt.DateFields},
	)
	if err := pipeline.Run(pctx, working, steps); err != nil {
		return Outcome{}, fmt.Errorf("regenerate %s: %w", res.Href, err)
	}
	if err := pipeline.Finalize(working, pipeline.FinalizeOptions{
		Type:           res.Type,
		Identifier:     res.Identifier,
		AllowClientID:  rt.AllowClientID,
		URITemplates:   rt.URITemplates,
		IDRedirectBase: r.registry.IDRedirectBase(),
	}); err != nil {
		return Outcome{}, fmt.Errorf("finalize %s: %w", res.Href, err)
	}

	previous := document.FromMap(res.Data)
	changed := !document.Equal(previous, working)

	out := Outcome{doc: working, changed: changed}
	if changed {
		before := outboundHrefs(res.Href, previous, specs)
		after := outboundHrefs(res.Href, working, specs)
		out.cascade = unionWithout(before, after, res.Href)
	}
	return out, nil
}

var tracer = otel.Tracer("github.com/prism-data/prism/internal/domain/resources")

// Save persists a regeneration and cascades to every resource whose inbound
// link view may have changed. The cascade is an explicit worklist with a
// per-branch visited path: a href already on the path of the current branch
// is never regenerated again in the same save, which guarantees termination
// on cyclic link graphs.
func (r *Regenerator) Save(ctx context.Context, store Store, res *Resource) error {
	ctx, span := tracer.Start(ctx, "Regenerator.Save",
		trace.WithAttributes(attribute.String("resource.href", res.Href)))
	defer span.End()

	if err := r.save(ctx, store, res); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (r *Regenerator) save(ctx context.Context, store Store, res *Resource) error {
	logger := zerolog.Ctx(ctx)

	type workItem struct {
		href string
		path map[string]bool
	}
	queue := []workItem{{href: res.Href, path: map[string]bool{}}}
	visits := 0

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		visits++

		current, err := store.Resources().Get(ctx, item.href)
		if err != nil {
			// Documents may link to resources that do not exist yet.
			if errors.Is(err, ErrNotFound) && item.href != res.Href {
				logger.Debug().Str("href", item.href).Msg("cascade target does not exist, skipping")
				continue
			}
			return fmt.Errorf("fetch %s for regeneration: %w", item.href, err)
		}

		out, err := r.Regenerate(ctx, store, current)
		if err != nil {
			return err
		}

		staleScalars, err := r.refreshDenormalized(current, out.doc)
		if err != nil {
			return err
		}

		if !out.changed && !staleScalars {
			continue
		}

		current.Data = out.doc.Map()
		current.Version++
		current.Modified = r.now().UTC()
		if err := store.Resources().Update(ctx, current); err != nil {
			return fmt.Errorf("save %s: %w", current.Href, err)
		}
		if err := syncLinks(ctx, store, current, r.registry.LinkSpecs()); err != nil {
			return err
		}
		if err := syncIdentifiers(ctx, store, current); err != nil {
			return err
		}
		metrics.Regenerations.Inc()
		if r.notifier != nil {
			r.notifier.NotifyChange(ctx, "resource", current.Href, current.Version)
		}
		r.scheduleExtancyFlip(ctx, current)

		path := make(map[string]bool, len(item.path)+1)
		for href := range item.path {
			path[href] = true
		}
		path[current.Href] = true

		for _, candidate := range out.cascade {
			if path[candidate] {
				// Accepted staleness window: the next independent edit
				// anywhere in the cycle re-triggers convergence.
				continue
			}
			queue = append(queue, workItem{href: candidate, path: path})
		}
	}

	if visits > 1 {
		metrics.CascadeSize.Observe(float64(visits - 1))
		logger.Debug().Str("href", res.Href).Int("cascaded", visits-1).Msg("regeneration cascade complete")
	}
	return nil
}

// refreshDenormalized updates the scalar columns derived from the document
// and reports whether any of them moved while the document itself was
// byte-identical (e.g. extancy flipped with time).
func (r *Regenerator) refreshDenormalized(res *Resource, doc *document.Document) (bool, error) {
	changed := false

	uri := doc.GetString("/@id")
	if res.URI != uri {
		res.URI = uri
		changed = true
	}

	startDate, err := dateField(doc, "/start_date")
	if err != nil {
		return false, fmt.Errorf("%s: %w", res.Href, err)
	}
	endDate, err := dateField(doc, "/end_date")
	if err != nil {
		return false, fmt.Errorf("%s: %w", res.Href, err)
	}
	if !equalTime(res.StartDate, startDate) {
		res.StartDate = startDate
		changed = true
	}
	if !equalTime(res.EndDate, endDate) {
		res.EndDate = endDate
		changed = true
	}

	deleted := isLogicallyDeleted(doc)
	if res.Deleted != deleted {
		res.Deleted = deleted
		changed = true
	}

	extant := !deleted && withinDates(r.now().UTC(), startDate, endDate)
	if res.Extant != extant {
		res.Extant = extant
		changed = true
	}

	point := pointField(doc)
	if !equalPoint(res.Point, point) {
		res.Point = point
		changed = true
	}

	return changed, nil
}

// scheduleExtancyFlip asks the external scheduler for a re-save at the next
// future date boundary. Scheduling failures are logged, never fatal.
func (r *Regenerator) scheduleExtancyFlip(ctx context.Context, res *Resource) {
	if r.scheduler == nil {
		return
	}
	now := r.now().UTC()
	var at *time.Time
	if res.StartDate != nil && res.StartDate.After(now) {
		at = res.StartDate
	}
	if res.EndDate != nil && res.EndDate.After(now) && (at == nil || res.EndDate.Before(*at)) {
		at = res.EndDate
	}
	if at == nil {
		return
	}
	if err := r.scheduler.ScheduleResave(ctx, res.Href, *at); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("href", res.Href).Time("at", *at).Msg("resave scheduling failed")
	}
}

// isLogicallyDeleted reports whether the document carries no source
// contribution at all. The regeneration seeds @source before inference and
// Finalize strips it, so emptiness of the final document minus bookkeeping
// fields is the signal.
func isLogicallyDeleted(doc *document.Document) bool {
	for key := range doc.Map() {
		switch key {
		case "@id", "identifier", "stableIdentifier":
			continue
		}
		if value, ok := doc.Get("/" + escapePointerSegment(key)); ok {
			if list, isList := value.([]any); isList && len(list) == 0 {
				continue
			}
			return false
		}
	}
	return true
}

func withinDates(now time.Time, start, end *time.Time) bool {
	if start != nil && now.Before(*start) {
		return false
	}
	if end != nil && !now.Before(*end) {
		return false
	}
	return true
}

func dateField(doc *document.Document, pointer string) (*time.Time, error) {
	raw := doc.GetString(pointer)
	if raw == "" {
		return nil, nil
	}
	parsed, err := pipeline.ParseDate(raw)
	if err != nil {
		return nil, err
	}
	utc := parsed.UTC()
	return &utc, nil
}

func pointField(doc *document.Document) *Point {
	raw, ok := doc.Get("/point")
	if !ok {
		return nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	lat, latOK := obj["lat"].(float64)
	lon, lonOK := obj["lon"].(float64)
	if !latOK || !lonOK {
		return nil
	}
	return &Point{Lat: lat, Lon: lon}
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func equalPoint(a, b *Point) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// outboundHrefs extracts every href appearing in a declared link field,
// skipping injected inbound entries.
func outboundHrefs(selfHref string, doc *document.Document, specs []pipeline.LinkSpec) []string {
	seen := map[string]bool{}
	for _, link := range extractLinks(selfHref, doc, specs) {
		seen[link.TargetHref] = true
	}
	hrefs := make([]string, 0, len(seen))
	for href := range seen {
		hrefs = append(hrefs, href)
	}
	sort.Strings(hrefs)
	return hrefs
}

func unionWithout(a, b []string, excluded string) []string {
	seen := map[string]bool{}
	for _, href := range a {
		seen[href] = true
	}
	for _, href := range b {
		seen[href] = true
	}
	delete(seen, excluded)
	out := make([]string, 0, len(seen))
	for href := range seen {
		out = append(out, href)
	}
	sort.Strings(out)
	return out
}

func toInbound(rows []Link) []pipeline.InboundLink {
	inbound := make([]pipeline.InboundLink, 0, len(rows))
	for _, row := range rows {
		inbound = append(inbound, pipeline.InboundLink{Type: row.Type, Href: row.ResourceHref})
	}
	return inbound
}
