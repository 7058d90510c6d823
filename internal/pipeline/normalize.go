package pipeline

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// LinkSpec describes one link type as the normalization passes need it.
type LinkSpec struct {
	Name       string
	Inverse    string
	Functional bool
}

// NormalizeLinks rewrites every declared link field into a list of
// {href, ...} objects, resolving relative hrefs against baseHref. String
// entries become {href}; objects keep their extra keys. Inbound entries
// injected by a previous regeneration never appear here: link fields are
// rebuilt from sources each round.
type NormalizeLinks struct {
	Specs []LinkSpec
}

func (s NormalizeLinks) Apply(ctx *Context, doc Doc) error {
	base, err := url.Parse(ctx.Href)
	if err != nil {
		return fmt.Errorf("parse base href %q: %w", ctx.Href, err)
	}
	for _, spec := range s.Specs {
		raw, ok := doc.Get("/" + escapeSegment(spec.Name))
		if !ok {
			continue
		}
		entries := asList(raw)
		normalized := make([]any, 0, len(entries))
		for _, entry := range entries {
			obj, err := normalizeLinkEntry(base, entry)
			if err != nil {
				return fmt.Errorf("link field %q: %w", spec.Name, err)
			}
			if obj != nil {
				normalized = append(normalized, obj)
			}
		}
		if err := doc.Set("/"+escapeSegment(spec.Name), normalized); err != nil {
			return err
		}
	}
	return nil
}

func normalizeLinkEntry(base *url.URL, entry any) (map[string]any, error) {
	switch v := entry.(type) {
	case string:
		href := strings.TrimSpace(v)
		if href == "" {
			return nil, nil
		}
		return map[string]any{"href": resolveHref(base, href)}, nil
	case map[string]any:
		href, _ := v["href"].(string)
		href = strings.TrimSpace(href)
		if href == "" {
			return nil, fmt.Errorf("link object missing href")
		}
		v["href"] = resolveHref(base, href)
		return v, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported link value %T", entry)
	}
}

func resolveHref(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// InjectInbound inverts every stored link row targeting this resource and
// appends {href, inbound: true} entries under the inverse link-type name.
type InjectInbound struct {
	Specs []LinkSpec
}

func (s InjectInbound) Apply(ctx *Context, doc Doc) error {
	inverseByName := make(map[string]string, len(s.Specs))
	for _, spec := range s.Specs {
		if spec.Inverse != "" {
			inverseByName[spec.Name] = spec.Inverse
		}
	}
	for _, link := range ctx.Inbound {
		inverse, ok := inverseByName[link.Type]
		if !ok {
			continue
		}
		field := "/" + escapeSegment(inverse)
		existing, _ := doc.Get(field)
		entries := []any{}
		if existing != nil {
			entries = asList(existing)
		}
		entries = append(entries, map[string]any{"href": link.Href, "inbound": true})
		if err := doc.Set(field, entries); err != nil {
			return err
		}
	}
	return nil
}

// SortLinkLists orders every link list (declared fields and their inverses)
// by href so regeneration output is deterministic.
type SortLinkLists struct {
	Specs []LinkSpec
}

func (s SortLinkLists) Apply(_ *Context, doc Doc) error {
	fields := make([]string, 0, len(s.Specs)*2)
	for _, spec := range s.Specs {
		fields = append(fields, spec.Name)
		if spec.Inverse != "" {
			fields = append(fields, spec.Inverse)
		}
	}
	for _, field := range fields {
		raw, ok := doc.Get("/" + escapeSegment(field))
		if !ok {
			continue
		}
		list, ok := raw.([]any)
		if !ok {
			continue
		}
		sort.SliceStable(list, func(i, j int) bool {
			return linkHref(list[i]) < linkHref(list[j])
		})
	}
	return nil
}

func linkHref(entry any) string {
	if obj, ok := entry.(map[string]any); ok {
		if href, ok := obj["href"].(string); ok {
			return href
		}
	}
	return ""
}

// NormalizeDates canonicalizes date-like string fields: datetimes become UTC
// RFC 3339, date-only values stay date-only. Unparseable values pass through
// untouched so schema validation can report them.
type NormalizeDates struct {
	Fields []string
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func (s NormalizeDates) Apply(_ *Context, doc Doc) error {
	for _, field := range s.Fields {
		pointer := "/" + escapeSegment(field)
		raw, ok := doc.Get(pointer)
		if !ok {
			continue
		}
		value, ok := raw.(string)
		if !ok {
			continue
		}
		if normalized, ok := normalizeDateValue(value); ok {
			if err := doc.Set(pointer, normalized); err != nil {
				return err
			}
		}
	}
	return nil
}

func normalizeDateValue(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", false
	}
	if _, err := time.Parse("2006-01-02", trimmed); err == nil {
		return trimmed, true
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed.UTC().Format(time.RFC3339), true
		}
	}
	return "", false
}

// ParseDate parses a normalized date or datetime field value.
func ParseDate(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if parsed, err := time.Parse("2006-01-02", trimmed); err == nil {
		return parsed, nil
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", value)
}

func escapeSegment(segment string) string {
	segment = strings.ReplaceAll(segment, "~", "~0")
	return strings.ReplaceAll(segment, "/", "~1")
}
