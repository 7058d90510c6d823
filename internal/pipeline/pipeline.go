// Package pipeline implements the inference and normalization steps that
// derive a resource document from its source contributions and link
// neighborhood. Steps are pure: they read and write the working document and
// never touch storage.
package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Context carries the per-regeneration inputs a step may read.
type Context struct {
	// Href is the canonical address of the resource being regenerated,
	// used to resolve relative link targets.
	Href string

	// Inbound holds the link rows that target this resource, as stored.
	Inbound []InboundLink
}

// InboundLink is a stored link row pointing at the resource under
// regeneration. Type is the forward link-type name; the normalization pass
// inverts it before injection.
type InboundLink struct {
	Type string
	Href string
}

// Step transforms the working document in place.
type Step interface {
	Apply(ctx *Context, doc Doc) error
}

// Doc is the subset of document.Document the pipeline needs. Declared here
// so steps stay decoupled from the concrete tree type.
type Doc interface {
	Get(pointer string) (any, bool)
	Set(pointer string, value any) error
	Delete(pointer string)
	Map() map[string]any
}

// FirstOf copies the first resolvable source pointer's value to Target.
// With Update set, an object source is shallow-merged into an existing
// object target instead of replacing it.
type FirstOf struct {
	Target  string
	Sources []string
	Update  bool
}

func (s FirstOf) Apply(_ *Context, doc Doc) error {
	for _, src := range s.Sources {
		value, ok := doc.Get(src)
		if !ok {
			continue
		}
		if s.Update {
			srcObj, srcIsObj := value.(map[string]any)
			existing, hasTarget := doc.Get(s.Target)
			targetObj, targetIsObj := existing.(map[string]any)
			if srcIsObj && hasTarget && targetIsObj {
				for key, v := range srcObj {
					targetObj[key] = v
				}
				return nil
			}
		}
		return doc.Set(s.Target, value)
	}
	return nil
}

// Union gathers the values of all resolvable source pointers, wraps
// non-list values in a singleton, deduplicates, and writes a
// lexicographically sorted list to Target. With Append set, the
// pre-existing target value is included among the sources.
type Union struct {
	Target  string
	Sources []string
	Append  bool
}

func (s Union) Apply(_ *Context, doc Doc) error {
	var gathered []any
	if s.Append {
		if existing, ok := doc.Get(s.Target); ok {
			gathered = append(gathered, asList(existing)...)
		}
	}
	for _, src := range s.Sources {
		value, ok := doc.Get(src)
		if !ok {
			continue
		}
		gathered = append(gathered, asList(value)...)
	}
	if len(gathered) == 0 {
		return nil
	}
	return doc.Set(s.Target, dedupSorted(gathered))
}

func asList(value any) []any {
	if list, ok := value.([]any); ok {
		return list
	}
	return []any{value}
}

// dedupSorted orders values by their canonical JSON encoding, which gives a
// stable lexicographic order for strings and a deterministic one for
// everything else.
func dedupSorted(values []any) []any {
	type keyed struct {
		key   string
		value any
	}
	seen := make(map[string]struct{}, len(values))
	items := make([]keyed, 0, len(values))
	for _, v := range values {
		key := sortKey(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		items = append(items, keyed{key: key, value: v})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].key < items[j].key })
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item.value
	}
	return out
}

func sortKey(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}

// Run applies steps in declared order. Order is part of the type
// definition; callers must not reorder.
func Run(ctx *Context, doc Doc, steps []Step) error {
	for i, step := range steps {
		if err := step.Apply(ctx, doc); err != nil {
			return fmt.Errorf("pipeline step %d: %w", i, err)
		}
	}
	return nil
}
