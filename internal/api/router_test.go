package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prism-data/prism/internal/api"
	"github.com/prism-data/prism/internal/domain/changesets"
	"github.com/prism-data/prism/internal/domain/resources"
	"github.com/prism-data/prism/internal/registry"
	"github.com/prism-data/prism/internal/storage/memory"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	reg, err := registry.Load(registry.Catalog{
		IDRedirectBase: "https://prism.example",
		ResourceTypes: []registry.ResourceTypeDef{
			{
				Name:                      "snake",
				ClientAssignedIdentifiers: true,
				SourceTypes:               []registry.SourceTypeDef{{Name: "science"}},
				Inference: []registry.InferenceDef{
					{Op: "firstOf", Target: "/name", Sources: []string{"/@source/science/name"}},
					{Op: "firstOf", Target: "/identifier", Sources: []string{"/@source/science/identifier"}},
				},
			},
		},
	}, registry.Hooks{})
	require.NoError(t, err)

	store := memory.New()
	regen := resources.NewRegenerator(reg, nil, nil)
	return api.NewRouter(api.Deps{
		Resources:   resources.NewService(store, regen, nil),
		Changesets:  changesets.NewService(store, reg, regen, nil, nil, nil),
		Environment: "test",
	}, zerolog.Nop())
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndGetResource(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/resources",
		`{"type":"snake","identifier":"python"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Href    string `json:"href"`
		Deleted bool   `json:"deleted"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "/snake/python", created.Href)
	assert.True(t, created.Deleted)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/resources/snake/python", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Type       string         `json:"type"`
		Identifier string         `json:"identifier"`
		Data       map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "snake", got.Type)
	assert.Equal(t, "python", got.Identifier)
	assert.Equal(t, "https://prism.example/id/snake/python", got.Data["@id"])
}

func TestGetMissingResourceIsProblem(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/resources/snake/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/problem+json")
}

func TestCreateResourceRequiresType(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/resources", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChangesetLifecycleOverHTTP(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/resources",
		`{"type":"snake","identifier":"python"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/changesets", `{
		"baseHref": "/",
		"author": "alice",
		"operations": [
			{"op":"put","resourceHref":"/snake/python","sourceType":"science",
			 "data":{"name":"Python regius"}}
		]
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var performed struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &performed))
	assert.Equal(t, "performed", performed.State)
	require.NotEmpty(t, performed.ID)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/changesets/"+performed.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/resources/snake/python/source/science", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var src struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &src))
	assert.Equal(t, "Python regius", src.Data["name"])

	rec = doJSON(t, router, http.MethodGet, "/api/v1/resources/snake/python", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "Python regius", res.Data["name"])
}

func TestMoveOperationRejected(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/resources",
		`{"type":"snake","identifier":"python"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/changesets", `{
		"author": "alice",
		"operations": [{"op":"move","href":"/snake/python/source/science"}]
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/problem+json")
}

func TestIdentifierLookup(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/resources",
		`{"type":"snake","identifier":"python"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/changesets", `{
		"author": "alice",
		"operations": [
			{"op":"put","resourceHref":"/snake/python","sourceType":"science",
			 "data":{"name":"Python regius","identifier":{"taxon":"PY-1"}}}
		]
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/identifiers/taxon?value=PY-1&value=missing", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var lookup struct {
		Scheme    string                     `json:"scheme"`
		Resources map[string]*map[string]any `json:"resources"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lookup))
	assert.Equal(t, "taxon", lookup.Scheme)
	require.Contains(t, lookup.Resources, "PY-1")
	require.NotNil(t, lookup.Resources["PY-1"])
	assert.Equal(t, "/snake/python", (*lookup.Resources["PY-1"])["href"])
	require.Contains(t, lookup.Resources, "missing")
	assert.Nil(t, lookup.Resources["missing"])
}

func TestMethodNotAllowed(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodDelete, "/api/v1/resources", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "POST", rec.Header().Get("Allow"))
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDPropagation(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-Id"))
}
