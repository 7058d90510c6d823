package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prism-data/prism/internal/document"
	"github.com/prism-data/prism/internal/pipeline"
)

func TestFirstOfPicksFirstResolvable(t *testing.T) {
	doc := document.FromMap(map[string]any{
		"@source": map[string]any{
			"feed":   map[string]any{"name": "from feed"},
			"manual": map[string]any{"name": "from manual"},
		},
	})

	step := pipeline.FirstOf{
		Target:  "/name",
		Sources: []string{"/@source/manual/name", "/@source/feed/name"},
	}
	require.NoError(t, step.Apply(&pipeline.Context{}, doc))

	assert.Equal(t, "from manual", doc.GetString("/name"))
}

func TestFirstOfSkipsMissingSources(t *testing.T) {
	doc := document.FromMap(map[string]any{
		"@source": map[string]any{
			"feed": map[string]any{"name": "fallback"},
		},
	})

	step := pipeline.FirstOf{
		Target:  "/name",
		Sources: []string{"/@source/manual/name", "/@source/feed/name"},
	}
	require.NoError(t, step.Apply(&pipeline.Context{}, doc))

	assert.Equal(t, "fallback", doc.GetString("/name"))
}

func TestFirstOfUpdateMergesObjects(t *testing.T) {
	doc := document.FromMap(map[string]any{
		"identifier": map[string]any{"isbn": "111"},
		"@source": map[string]any{
			"feed": map[string]any{"identifier": map[string]any{"doi": "10.1/x"}},
		},
	})

	step := pipeline.FirstOf{
		Target:  "/identifier",
		Sources: []string{"/@source/feed/identifier"},
		Update:  true,
	}
	require.NoError(t, step.Apply(&pipeline.Context{}, doc))

	merged, ok := doc.Get("/identifier")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"isbn": "111", "doi": "10.1/x"}, merged)
}

func TestUnionDeduplicatesAndSorts(t *testing.T) {
	doc := document.FromMap(map[string]any{
		"@source": map[string]any{
			"a": map[string]any{"tags": []any{"zebra", "apple"}},
			"b": map[string]any{"tags": []any{"apple", "mango"}},
		},
	})

	step := pipeline.Union{
		Target:  "/tags",
		Sources: []string{"/@source/a/tags", "/@source/b/tags"},
	}
	require.NoError(t, step.Apply(&pipeline.Context{}, doc))

	tags, ok := doc.Get("/tags")
	require.True(t, ok)
	assert.Equal(t, []any{"apple", "mango", "zebra"}, tags)
}

func TestUnionWrapsScalars(t *testing.T) {
	doc := document.FromMap(map[string]any{
		"@source": map[string]any{
			"a": map[string]any{"tag": "solo"},
		},
	})

	step := pipeline.Union{Target: "/tags", Sources: []string{"/@source/a/tag"}}
	require.NoError(t, step.Apply(&pipeline.Context{}, doc))

	tags, ok := doc.Get("/tags")
	require.True(t, ok)
	assert.Equal(t, []any{"solo"}, tags)
}

func TestUnionAppendKeepsExistingTarget(t *testing.T) {
	doc := document.FromMap(map[string]any{
		"tags": []any{"existing"},
		"@source": map[string]any{
			"a": map[string]any{"tags": []any{"new"}},
		},
	})

	step := pipeline.Union{Target: "/tags", Sources: []string{"/@source/a/tags"}, Append: true}
	require.NoError(t, step.Apply(&pipeline.Context{}, doc))

	tags, ok := doc.Get("/tags")
	require.True(t, ok)
	assert.Equal(t, []any{"existing", "new"}, tags)
}

func TestUnionLeavesTargetAbsentWhenNothingResolves(t *testing.T) {
	doc := document.New()

	step := pipeline.Union{Target: "/tags", Sources: []string{"/@source/a/tags"}}
	require.NoError(t, step.Apply(&pipeline.Context{}, doc))

	_, ok := doc.Get("/tags")
	assert.False(t, ok)
}

func TestNormalizeLinksCoercesAndResolves(t *testing.T) {
	doc := document.FromMap(map[string]any{
		"eats": []any{
			"/snake/mouse",
			map[string]any{"href": "rat", "note": "preferred"},
		},
	})

	step := pipeline.NormalizeLinks{Specs: []pipeline.LinkSpec{{Name: "eats", Inverse: "eatenBy"}}}
	ctx := &pipeline.Context{Href: "/snake/python"}
	require.NoError(t, step.Apply(ctx, doc))

	links, ok := doc.Get("/eats")
	require.True(t, ok)
	assert.Equal(t, []any{
		map[string]any{"href": "/snake/mouse"},
		map[string]any{"href": "/snake/rat", "note": "preferred"},
	}, links)
}

func TestNormalizeLinksWrapsSingleValue(t *testing.T) {
	doc := document.FromMap(map[string]any{"eats": "/snake/mouse"})

	step := pipeline.NormalizeLinks{Specs: []pipeline.LinkSpec{{Name: "eats"}}}
	require.NoError(t, step.Apply(&pipeline.Context{Href: "/snake/python"}, doc))

	links, ok := doc.Get("/eats")
	require.True(t, ok)
	assert.Equal(t, []any{map[string]any{"href": "/snake/mouse"}}, links)
}

func TestNormalizeLinksRejectsObjectWithoutHref(t *testing.T) {
	doc := document.FromMap(map[string]any{
		"eats": []any{map[string]any{"note": "no href"}},
	})

	step := pipeline.NormalizeLinks{Specs: []pipeline.LinkSpec{{Name: "eats"}}}
	err := step.Apply(&pipeline.Context{Href: "/snake/python"}, doc)
	assert.Error(t, err)
}

func TestInjectInboundInvertsStoredLinks(t *testing.T) {
	doc := document.New()

	step := pipeline.InjectInbound{Specs: []pipeline.LinkSpec{{Name: "eats", Inverse: "eatenBy"}}}
	ctx := &pipeline.Context{
		Href: "/snake/mouse",
		Inbound: []pipeline.InboundLink{
			{Type: "eats", Href: "/snake/python"},
		},
	}
	require.NoError(t, step.Apply(ctx, doc))

	links, ok := doc.Get("/eatenBy")
	require.True(t, ok)
	assert.Equal(t, []any{map[string]any{"href": "/snake/python", "inbound": true}}, links)
}

func TestInjectInboundIgnoresTypesWithoutInverse(t *testing.T) {
	doc := document.New()

	step := pipeline.InjectInbound{Specs: []pipeline.LinkSpec{{Name: "cites"}}}
	ctx := &pipeline.Context{
		Href:    "/paper/a",
		Inbound: []pipeline.InboundLink{{Type: "cites", Href: "/paper/b"}},
	}
	require.NoError(t, step.Apply(ctx, doc))

	assert.Empty(t, doc.Map())
}

func TestSortLinkListsOrdersByHref(t *testing.T) {
	doc := document.FromMap(map[string]any{
		"eats": []any{
			map[string]any{"href": "/snake/rat"},
			map[string]any{"href": "/snake/mouse"},
		},
	})

	step := pipeline.SortLinkLists{Specs: []pipeline.LinkSpec{{Name: "eats", Inverse: "eatenBy"}}}
	require.NoError(t, step.Apply(&pipeline.Context{}, doc))

	links, _ := doc.Get("/eats")
	assert.Equal(t, []any{
		map[string]any{"href": "/snake/mouse"},
		map[string]any{"href": "/snake/rat"},
	}, links)
}

func TestNormalizeDates(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{name: "date only stays date only", value: "2026-03-01", want: "2026-03-01"},
		{name: "naive datetime becomes utc", value: "2026-03-01T10:00:00", want: "2026-03-01T10:00:00Z"},
		{name: "offset datetime converted to utc", value: "2026-03-01T10:00:00+02:00", want: "2026-03-01T08:00:00Z"},
		{name: "garbage passes through", value: "not a date", want: "not a date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := document.FromMap(map[string]any{"start_date": tt.value})
			step := pipeline.NormalizeDates{Fields: []string{"start_date"}}
			require.NoError(t, step.Apply(&pipeline.Context{}, doc))
			assert.Equal(t, tt.want, doc.GetString("/start_date"))
		})
	}
}

func TestFinalizeStripsSourceAndDerivesID(t *testing.T) {
	doc := document.FromMap(map[string]any{
		"@source": map[string]any{"feed": map[string]any{"name": "x"}},
		"name":    "x",
	})

	err := pipeline.Finalize(doc, pipeline.FinalizeOptions{
		Type:           "snake",
		Identifier:     "python",
		IDRedirectBase: "https://prism.example",
	})
	require.NoError(t, err)

	_, hasSource := doc.Get("/@source")
	assert.False(t, hasSource)
	assert.Equal(t, "https://prism.example/id/snake/python", doc.GetString("/@id"))
}

func TestFinalizePrefersExpandableTemplate(t *testing.T) {
	doc := document.FromMap(map[string]any{"slug": "ball-python"})

	err := pipeline.Finalize(doc, pipeline.FinalizeOptions{
		Type:       "snake",
		Identifier: "python",
		URITemplates: []string{
			"https://prism.example/missing/{nope}",
			"https://prism.example/{type}/{slug}",
		},
		IDRedirectBase: "https://prism.example",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://prism.example/snake/ball-python", doc.GetString("/@id"))
}

func TestFinalizeMergesStableIdentifierOverInferred(t *testing.T) {
	doc := document.FromMap(map[string]any{
		"identifier":       map[string]any{"isbn": "inferred", "doi": "kept"},
		"stableIdentifier": map[string]any{"isbn": "stable"},
	})

	err := pipeline.Finalize(doc, pipeline.FinalizeOptions{Type: "book", Identifier: "b1"})
	require.NoError(t, err)

	identifier, _ := doc.Get("/identifier")
	assert.Equal(t, map[string]any{"isbn": "stable", "doi": "kept"}, identifier)
}

func TestFinalizeClientIDOnlyWhenAllowed(t *testing.T) {
	doc := document.FromMap(map[string]any{"@id": "https://client.example/me"})
	require.NoError(t, pipeline.Finalize(doc, pipeline.FinalizeOptions{
		Type: "snake", Identifier: "x", AllowClientID: true,
	}))
	assert.Equal(t, "https://client.example/me", doc.GetString("/@id"))

	doc = document.FromMap(map[string]any{"@id": "https://client.example/me"})
	require.NoError(t, pipeline.Finalize(doc, pipeline.FinalizeOptions{
		Type: "snake", Identifier: "x", IDRedirectBase: "https://prism.example",
	}))
	assert.Equal(t, "https://prism.example/id/snake/x", doc.GetString("/@id"))
}
