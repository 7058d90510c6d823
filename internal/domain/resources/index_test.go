package resources_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prism-data/prism/internal/domain/resources"
)

func TestIdentifierRowsFollowDocument(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.service.Create(ctx, "tester", "snake", "python")
	require.NoError(t, err)
	e.putSource(t, res.Href, "science", map[string]any{
		"name":       "Python regius",
		"identifier": map[string]any{"taxon": "PY-1"},
	})
	require.NoError(t, e.service.Save(ctx, res.Href))

	hrefs, err := e.store.Identifiers().Lookup(ctx, "taxon", []string{"PY-1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"PY-1": res.Href}, hrefs)

	// Re-saving with a changed identifier drops the old row.
	e.putSource(t, res.Href, "science", map[string]any{
		"name":       "Python regius",
		"identifier": map[string]any{"taxon": "PY-2"},
	})
	require.NoError(t, e.service.Save(ctx, res.Href))

	hrefs, err = e.store.Identifiers().Lookup(ctx, "taxon", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"PY-2": res.Href}, hrefs)
}

func TestIdentifierUniquenessAbortsSave(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, err := e.service.Create(ctx, "tester", "snake", "python")
	require.NoError(t, err)
	e.putSource(t, first.Href, "science", map[string]any{
		"name":       "Python regius",
		"identifier": map[string]any{"taxon": "PY-1"},
	})
	require.NoError(t, e.service.Save(ctx, first.Href))

	second, err := e.service.Create(ctx, "tester", "snake", "impostor")
	require.NoError(t, err)
	e.putSource(t, second.Href, "science", map[string]any{
		"name":       "Impostor",
		"identifier": map[string]any{"taxon": "PY-1"},
	})

	err = e.service.Save(ctx, second.Href)
	var dup resources.DuplicatedIdentifierError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "taxon", dup.Scheme)
	assert.Equal(t, "PY-1", dup.Value)

	// The failed save rolled back entirely: the impostor document is
	// unchanged and the identifier still names the original holder.
	got, err := e.service.Get(ctx, second.Href)
	require.NoError(t, err)
	assert.True(t, got.Deleted)

	hrefs, err := e.store.Identifiers().Lookup(ctx, "taxon", []string{"PY-1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"PY-1": first.Href}, hrefs)
}

func TestStableIdentifiersSurviveNonExtancy(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.service.Create(ctx, "tester", "snake", "python")
	require.NoError(t, err)
	e.putSource(t, res.Href, "science", map[string]any{
		"name":             "Python regius",
		"end_date":         "2001-01-01",
		"identifier":       map[string]any{"taxon": "PY-1"},
		"stableIdentifier": map[string]any{"museum": "M-77"},
	})
	require.NoError(t, e.service.Save(ctx, res.Href))

	got, err := e.service.Get(ctx, res.Href)
	require.NoError(t, err)
	require.False(t, got.Deleted)
	require.False(t, got.Extant)

	// Past its window the resource publishes only stable identifiers: no
	// own-pair row, no ephemeral schemes.
	own, err := e.store.Identifiers().Lookup(ctx, "snake", []string{"python"})
	require.NoError(t, err)
	assert.Empty(t, own)

	ephemeral, err := e.store.Identifiers().Lookup(ctx, "taxon", []string{"PY-1"})
	require.NoError(t, err)
	assert.Empty(t, ephemeral)

	stable, err := e.store.Identifiers().Lookup(ctx, "museum", []string{"M-77"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"M-77": res.Href}, stable)
}

func TestLinkRowsMatchDocument(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.service.Create(ctx, "tester", "snake", "python")
	require.NoError(t, err)
	e.putSource(t, "/snake/python", "science", map[string]any{
		"name": "Python regius",
		"eats": []any{"/snake/mouse", "/snake/frog", "/snake/mouse"},
	})
	require.NoError(t, e.service.Save(ctx, "/snake/python"))

	mouse, err := e.store.Links().ListInbound(ctx, "/snake/mouse")
	require.NoError(t, err)
	assert.Equal(t, []resources.Link{
		{ResourceHref: "/snake/python", TargetHref: "/snake/mouse", Type: "eats"},
	}, mouse)

	// Dropping a target from the document drops its row.
	e.putSource(t, "/snake/python", "science", map[string]any{
		"name": "Python regius",
		"eats": []any{"/snake/frog"},
	})
	require.NoError(t, e.service.Save(ctx, "/snake/python"))

	mouse, err = e.store.Links().ListInbound(ctx, "/snake/mouse")
	require.NoError(t, err)
	assert.Empty(t, mouse)

	frog, err := e.store.Links().ListInbound(ctx, "/snake/frog")
	require.NoError(t, err)
	assert.Equal(t, []resources.Link{
		{ResourceHref: "/snake/python", TargetHref: "/snake/frog", Type: "eats"},
	}, frog)
}
