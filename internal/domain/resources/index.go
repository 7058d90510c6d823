package resources

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/prism-data/prism/internal/document"
	"github.com/prism-data/prism/internal/metrics"
	"github.com/prism-data/prism/internal/pipeline"
)

// syncLinks replaces the resource's stored outbound link rows with the link
// set of its current document. Wholesale replacement: correctness over
// incremental diffing.
func syncLinks(ctx context.Context, store Store, res *Resource, specs []pipeline.LinkSpec) error {
	links := extractLinks(res.Href, document.FromMap(res.Data), specs)
	if err := store.Links().Replace(ctx, res.Href, links); err != nil {
		return fmt.Errorf("sync links for %s: %w", res.Href, err)
	}
	return nil
}

// extractLinks collects one Link per (href, type) pair found in the
// non-inbound entries of declared link fields.
func extractLinks(resourceHref string, doc *document.Document, specs []pipeline.LinkSpec) []Link {
	seen := map[Link]bool{}
	var links []Link
	for _, spec := range specs {
		raw, ok := doc.Get("/" + escapePointerSegment(spec.Name))
		if !ok {
			continue
		}
		entries, ok := raw.([]any)
		if !ok {
			continue
		}
		for _, entry := range entries {
			obj, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			if inbound, _ := obj["inbound"].(bool); inbound {
				continue
			}
			href, _ := obj["href"].(string)
			if href == "" {
				continue
			}
			link := Link{ResourceHref: resourceHref, TargetHref: href, Type: spec.Name}
			if !seen[link] {
				seen[link] = true
				links = append(links, link)
			}
		}
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].Type != links[j].Type {
			return links[i].Type < links[j].Type
		}
		return links[i].TargetHref < links[j].TargetHref
	})
	return links
}

// syncIdentifiers replaces the resource's identifier rows. Extant resources
// publish the full identifier map; non-extant ones only their stable
// identifiers. On a uniqueness clash the batch is retried row-by-row to
// name the offending (scheme, value) pair.
func syncIdentifiers(ctx context.Context, store Store, res *Resource) error {
	if err := store.Identifiers().DeleteForResource(ctx, res.Href); err != nil {
		return fmt.Errorf("clear identifiers for %s: %w", res.Href, err)
	}

	rows := collectIdentifiers(res)
	if len(rows) == 0 {
		return nil
	}

	err := store.Identifiers().InsertMany(ctx, rows)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrUniqueViolation) {
		return fmt.Errorf("sync identifiers for %s: %w", res.Href, err)
	}

	// Isolate the offender.
	for _, row := range rows {
		if insertErr := store.Identifiers().Insert(ctx, row); insertErr != nil {
			if errors.Is(insertErr, ErrUniqueViolation) {
				metrics.IdentifierConflicts.Inc()
				return DuplicatedIdentifierError{Scheme: row.Scheme, Value: row.Value, Href: res.Href}
			}
			return fmt.Errorf("sync identifiers for %s: %w", res.Href, insertErr)
		}
	}
	// Row-by-row succeeded after a batch failure; treat the original error
	// as transient.
	return nil
}

// collectIdentifiers flattens the document's identifier (or
// stableIdentifier) map into rows, adding the resource's own
// (type, identifier) pair when extant.
func collectIdentifiers(res *Resource) []Identifier {
	doc := document.FromMap(res.Data)
	field := "/stableIdentifier"
	if res.Extant {
		field = "/identifier"
	}

	rows := map[Identifier]bool{}
	if raw, ok := doc.Get(field); ok {
		if byScheme, ok := raw.(map[string]any); ok {
			for scheme, value := range byScheme {
				for _, v := range identifierValues(value) {
					rows[Identifier{ResourceHref: res.Href, Scheme: scheme, Value: v}] = true
				}
			}
		}
	}
	if res.Extant {
		rows[Identifier{ResourceHref: res.Href, Scheme: res.Type, Value: res.Identifier}] = true
	}

	out := make([]Identifier, 0, len(rows))
	for row := range rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Scheme != out[j].Scheme {
			return out[i].Scheme < out[j].Scheme
		}
		return out[i].Value < out[j].Value
	})
	return out
}

func identifierValues(value any) []string {
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		var values []string
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				values = append(values, s)
			}
		}
		return values
	default:
		return nil
	}
}

func escapePointerSegment(segment string) string {
	segment = strings.ReplaceAll(segment, "~", "~0")
	return strings.ReplaceAll(segment, "/", "~1")
}
