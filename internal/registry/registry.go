// Package registry holds the process-wide catalog of resource, source and
// link type definitions. A Registry is built once at startup and read-only
// thereafter; every component receives it by reference, never through a
// global lookup.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/prism-data/prism/internal/pipeline"
)

var (
	ErrNoSuchResourceType = errors.New("no such resource type")
	ErrNoSuchSourceType   = errors.New("no such source type")
	ErrNoSuchLinkType     = errors.New("no such link type")
)

// FilterFunc produces the viewer-specific projection of source data. The
// returned map must be freshly allocated; callers rely on the input staying
// untouched.
type FilterFunc func(viewer string, data map[string]any) map[string]any

// PatchPredicate approves or rejects a raw RFC 6902 patch for a source type
// before any other validation runs.
type PatchPredicate func(patch []byte) bool

// Registry is the immutable type catalog.
type Registry struct {
	resourceTypes  map[string]*ResourceType
	linkTypes      map[string]*LinkType
	linkSpecs      []pipeline.LinkSpec
	idRedirectBase string
}

// ResourceType is a data-driven type record; inference order is part of the
// definition and is preserved exactly as declared.
type ResourceType struct {
	Name                      string
	ClientAssignedIdentifiers bool
	AllowClientID             bool
	URITemplates              []string
	DateFields                []string
	Inference                 []pipeline.Step

	sourceTypes map[string]*SourceType
}

// SourceType describes one independently editable contribution to a
// resource type.
type SourceType struct {
	Name            string
	PatchAcceptable PatchPredicate
	Filter          FilterFunc

	schema *jsonschema.Schema
}

// LinkType is a link-type record. Inverse names another LinkType when the
// catalog declares one; otherwise InverseOf synthesizes the inverse record.
type LinkType struct {
	Name        string
	Inverse     string
	Functional  bool
	Embed       bool
	Subresource bool
}

// Type looks up a resource type by name.
func (r *Registry) Type(name string) (*ResourceType, bool) {
	rt, ok := r.resourceTypes[name]
	return rt, ok
}

// Types returns every resource type, ordered by name.
func (r *Registry) Types() []*ResourceType {
	names := make([]string, 0, len(r.resourceTypes))
	for name := range r.resourceTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	types := make([]*ResourceType, len(names))
	for i, name := range names {
		types[i] = r.resourceTypes[name]
	}
	return types
}

// KnowsSourceType reports whether any resource type declares the source
// type name.
func (r *Registry) KnowsSourceType(name string) bool {
	for _, rt := range r.resourceTypes {
		if _, ok := rt.sourceTypes[name]; ok {
			return true
		}
	}
	return false
}

// Link looks up a link type by name.
func (r *Registry) Link(name string) (*LinkType, bool) {
	lt, ok := r.linkTypes[name]
	return lt, ok
}

// InverseOf derives the inverse link-type record. It is a pure function
// over the catalog: a declared inverse record wins, otherwise a synthetic
// record is returned.
func (r *Registry) InverseOf(name string) (*LinkType, bool) {
	lt, ok := r.linkTypes[name]
	if !ok || lt.Inverse == "" {
		return nil, false
	}
	if declared, ok := r.linkTypes[lt.Inverse]; ok {
		return declared, true
	}
	return &LinkType{Name: lt.Inverse, Inverse: lt.Name}, true
}

// LinkSpecs returns the normalization view of every link type, ordered by
// name for reproducible pipelines.
func (r *Registry) LinkSpecs() []pipeline.LinkSpec {
	return r.linkSpecs
}

// IDRedirectBase is the prefix for fallback id-redirect URLs.
func (r *Registry) IDRedirectBase() string {
	return r.idRedirectBase
}

// SourceType looks up a source type within the resource type.
func (rt *ResourceType) SourceType(name string) (*SourceType, bool) {
	st, ok := rt.sourceTypes[name]
	return st, ok
}

// SourceTypeNames returns the declared source type names, sorted.
func (rt *ResourceType) SourceTypeNames() []string {
	names := make([]string, 0, len(rt.sourceTypes))
	for name := range rt.sourceTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateData validates author-supplied source data against the source
// type's schema. A nil schema accepts everything.
func (st *SourceType) ValidateData(data map[string]any) error {
	if st.schema == nil {
		return nil
	}
	if err := st.schema.Validate(toJSONValue(data)); err != nil {
		return fmt.Errorf("source type %q schema: %w", st.Name, err)
	}
	return nil
}

// AcceptsPatch runs the type's patch predicate; absent predicate accepts.
func (st *SourceType) AcceptsPatch(patch []byte) bool {
	if st.PatchAcceptable == nil {
		return true
	}
	return st.PatchAcceptable(patch)
}

// ApplyFilter projects data for viewer. Absent filter is identity (a copy,
// so callers can mutate the result safely).
func (st *SourceType) ApplyFilter(viewer string, data map[string]any) map[string]any {
	if st.Filter == nil {
		copied := make(map[string]any, len(data))
		for key, value := range data {
			copied[key] = value
		}
		return copied
	}
	return st.Filter(viewer, data)
}

// toJSONValue rewrites yaml-decoded values into the shapes
// jsonschema.Validate expects (json.Unmarshal-equivalent trees).
func toJSONValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, inner := range v {
			out[key] = toJSONValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = toJSONValue(inner)
		}
		return out
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return v
	}
}
