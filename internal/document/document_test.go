package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	doc, err := Parse([]byte(`{"label":"Python","taxon":{"class":"Reptilia"},"eats":[{"href":"/snake/adder"}]}`))
	require.NoError(t, err)

	tests := []struct {
		name    string
		pointer string
		want    any
		found   bool
	}{
		{"top level string", "/label", "Python", true},
		{"nested object field", "/taxon/class", "Reptilia", true},
		{"array element field", "/eats/0/href", "/snake/adder", true},
		{"missing key", "/missing", nil, false},
		{"missing nested", "/taxon/order", nil, false},
		{"index out of range", "/eats/3", nil, false},
		{"index into scalar", "/label/0", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := doc.Get(tt.pointer)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestSetAutoVivifies(t *testing.T) {
	doc := New()
	require.NoError(t, doc.Set("/taxon/class", "Reptilia"))
	require.NoError(t, doc.Set("/taxon/order", "Squamata"))

	got, ok := doc.Get("/taxon/class")
	require.True(t, ok)
	assert.Equal(t, "Reptilia", got)

	got, ok = doc.Get("/taxon/order")
	require.True(t, ok)
	assert.Equal(t, "Squamata", got)
}

func TestSetArrayIndex(t *testing.T) {
	doc, err := Parse([]byte(`{"eats":[{"href":"/a"},{"href":"/b"}]}`))
	require.NoError(t, err)

	require.NoError(t, doc.Set("/eats/1/href", "/c"))
	assert.Equal(t, "/c", doc.GetString("/eats/1/href"))

	// Set never grows a slice.
	assert.Error(t, doc.Set("/eats/2", map[string]any{"href": "/d"}))
}

func TestSetRootRejected(t *testing.T) {
	doc := New()
	assert.Error(t, doc.Set("", "value"))
}

func TestSetDefault(t *testing.T) {
	doc, err := Parse([]byte(`{"label":"Python"}`))
	require.NoError(t, err)

	require.NoError(t, doc.SetDefault("/label", "Cobra"))
	assert.Equal(t, "Python", doc.GetString("/label"))

	require.NoError(t, doc.SetDefault("/family", "Pythonidae"))
	assert.Equal(t, "Pythonidae", doc.GetString("/family"))
}

func TestDelete(t *testing.T) {
	doc, err := Parse([]byte(`{"@source":{"science":{"label":"Python"}},"label":"Python"}`))
	require.NoError(t, err)

	doc.Delete("/@source")
	_, ok := doc.Get("/@source")
	assert.False(t, ok)

	// Deleting a missing path is a no-op.
	doc.Delete("/nope/deeper")
	assert.Equal(t, "Python", doc.GetString("/label"))
}

func TestEscapedSegments(t *testing.T) {
	doc := New()
	require.NoError(t, doc.Set("/a~1b", 1))
	require.NoError(t, doc.Set("/m~0n", 2))

	got, ok := doc.Get("/a~1b")
	require.True(t, ok)
	assert.Equal(t, 1, got)

	got, ok = doc.Get("/m~0n")
	require.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestCloneIsolation(t *testing.T) {
	doc, err := Parse([]byte(`{"taxon":{"class":"Reptilia"}}`))
	require.NoError(t, err)

	clone := doc.Clone()
	require.NoError(t, clone.Set("/taxon/class", "Aves"))

	assert.Equal(t, "Reptilia", doc.GetString("/taxon/class"))
	assert.Equal(t, "Aves", clone.GetString("/taxon/class"))
}

func TestCanonicalDeterministic(t *testing.T) {
	a, err := Parse([]byte(`{"b":1,"a":{"y":2,"x":3}}`))
	require.NoError(t, err)
	b, err := Parse([]byte(`{"a":{"x":3,"y":2},"b":1}`))
	require.NoError(t, err)

	ab, err := a.Canonical()
	require.NoError(t, err)
	bb, err := b.Canonical()
	require.NoError(t, err)
	assert.Equal(t, string(ab), string(bb))
	assert.True(t, Equal(a, b))
}

func TestMerge(t *testing.T) {
	doc, err := Parse([]byte(`{"taxon":{"class":"Reptilia"}}`))
	require.NoError(t, err)

	require.NoError(t, doc.Merge("/taxon", map[string]any{"order": "Squamata"}))
	assert.Equal(t, "Reptilia", doc.GetString("/taxon/class"))
	assert.Equal(t, "Squamata", doc.GetString("/taxon/order"))

	// Non-object target is replaced.
	require.NoError(t, doc.Set("/label", "Python"))
	require.NoError(t, doc.Merge("/label", map[string]any{"en": "Python"}))
	assert.Equal(t, "Python", doc.GetString("/label/en"))
}
