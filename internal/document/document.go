// Package document implements a pointer-addressed JSON tree.
//
// Documents are map-backed and addressed by RFC 6901 JSON Pointers
// ("/label", "/location/0/href"). Set auto-vivifies intermediate objects so
// pipeline steps can write to deep targets without pre-building the shape.
package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidPointer = errors.New("invalid JSON pointer")
	ErrNotAnObject    = errors.New("intermediate value is not an object")
)

// Document is a mutable JSON-like tree rooted at an object.
type Document struct {
	root map[string]any
}

func New() *Document {
	return &Document{root: map[string]any{}}
}

// FromMap wraps an existing map without copying. Callers that need isolation
// should Clone first.
func FromMap(m map[string]any) *Document {
	if m == nil {
		m = map[string]any{}
	}
	return &Document{root: m}
}

// Parse decodes a JSON object into a Document.
func Parse(data []byte) (*Document, error) {
	if len(data) == 0 {
		return New(), nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return FromMap(m), nil
}

// Map returns the underlying root object.
func (d *Document) Map() map[string]any {
	return d.root
}

// Clone returns a deep copy via JSON round-trip.
func (d *Document) Clone() *Document {
	copied, err := deepCopy(d.root)
	if err != nil {
		// root is always JSON-representable; a failure here means a caller
		// stored a non-JSON value, which Set forbids.
		panic(fmt.Sprintf("document clone: %v", err))
	}
	return FromMap(copied.(map[string]any))
}

// Canonical returns the deterministic JSON encoding of the document.
// encoding/json writes object keys in sorted order, so two documents with
// equal trees produce byte-equal output.
func (d *Document) Canonical() ([]byte, error) {
	return json.Marshal(d.root)
}

// Get resolves a pointer. The empty pointer returns the root object.
func (d *Document) Get(pointer string) (any, bool) {
	segments, err := splitPointer(pointer)
	if err != nil {
		return nil, false
	}
	var current any = d.root
	for _, seg := range segments {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// GetString resolves a pointer to a string, or "" when absent or non-string.
func (d *Document) GetString(pointer string) string {
	value, ok := d.Get(pointer)
	if !ok {
		return ""
	}
	s, _ := value.(string)
	return s
}

// Set writes value at pointer, creating intermediate objects as needed.
// Numeric segments index into existing slices; Set never grows a slice.
func (d *Document) Set(pointer string, value any) error {
	segments, err := splitPointer(pointer)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return fmt.Errorf("%w: cannot set document root", ErrInvalidPointer)
	}
	parent, err := d.vivify(segments[:len(segments)-1])
	if err != nil {
		return err
	}
	last := segments[len(segments)-1]
	switch node := parent.(type) {
	case map[string]any:
		node[last] = value
		return nil
	case []any:
		idx, err := strconv.Atoi(last)
		if err != nil || idx < 0 || idx >= len(node) {
			return fmt.Errorf("%w: array index %q out of range", ErrInvalidPointer, last)
		}
		node[idx] = value
		return nil
	default:
		return fmt.Errorf("%w at %q", ErrNotAnObject, pointer)
	}
}

// SetDefault writes value at pointer only when nothing resolves there.
func (d *Document) SetDefault(pointer string, value any) error {
	if _, ok := d.Get(pointer); ok {
		return nil
	}
	return d.Set(pointer, value)
}

// Delete removes the value at pointer. Missing paths are a no-op.
func (d *Document) Delete(pointer string) {
	segments, err := splitPointer(pointer)
	if err != nil || len(segments) == 0 {
		return
	}
	parentPtr := joinPointer(segments[:len(segments)-1])
	parent, ok := d.Get(parentPtr)
	if !ok {
		return
	}
	if node, ok := parent.(map[string]any); ok {
		delete(node, segments[len(segments)-1])
	}
}

// vivify walks segments from the root, creating empty objects for missing
// map keys, and returns the final container.
func (d *Document) vivify(segments []string) (any, error) {
	var current any = d.root
	for _, seg := range segments {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				created := map[string]any{}
				node[seg] = created
				current = created
				continue
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("%w: array index %q out of range", ErrInvalidPointer, seg)
			}
			current = node[idx]
		default:
			return nil, fmt.Errorf("%w at segment %q", ErrNotAnObject, seg)
		}
	}
	return current, nil
}

func splitPointer(pointer string) ([]string, error) {
	if pointer == "" {
		return nil, nil
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil, fmt.Errorf("%w: %q must start with '/'", ErrInvalidPointer, pointer)
	}
	raw := strings.Split(pointer[1:], "/")
	segments := make([]string, len(raw))
	for i, seg := range raw {
		seg = strings.ReplaceAll(seg, "~1", "/")
		seg = strings.ReplaceAll(seg, "~0", "~")
		segments[i] = seg
	}
	return segments, nil
}

func joinPointer(segments []string) string {
	if len(segments) == 0 {
		return ""
	}
	var b strings.Builder
	for _, seg := range segments {
		seg = strings.ReplaceAll(seg, "~", "~0")
		seg = strings.ReplaceAll(seg, "/", "~1")
		b.WriteString("/")
		b.WriteString(seg)
	}
	return b.String()
}

func deepCopy(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Merge shallow-merges src into the object at pointer. A missing target is
// created; a non-object target is replaced by src.
func (d *Document) Merge(pointer string, src map[string]any) error {
	existing, ok := d.Get(pointer)
	if !ok {
		return d.Set(pointer, src)
	}
	target, ok := existing.(map[string]any)
	if !ok {
		return d.Set(pointer, src)
	}
	for key, value := range src {
		target[key] = value
	}
	return nil
}

// Equal reports whether two documents have byte-equal canonical encodings.
func Equal(a, b *Document) bool {
	if a == nil || b == nil {
		return a == b
	}
	ab, errA := a.Canonical()
	bb, errB := b.Canonical()
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}
