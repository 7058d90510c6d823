package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prism-data/prism/internal/api/problem"
	"github.com/prism-data/prism/internal/domain/resources"
)

type ResourcesHandler struct {
	service *resources.Service
	env     string
}

func NewResourcesHandler(service *resources.Service, env string) *ResourcesHandler {
	return &ResourcesHandler{service: service, env: env}
}

type createResourceRequest struct {
	Type       string `json:"type"`
	Identifier string `json:"identifier,omitempty"`
}

type resourceView struct {
	Href       string         `json:"href"`
	Type       string         `json:"type"`
	Identifier string         `json:"identifier"`
	URI        string         `json:"uri,omitempty"`
	Data       map[string]any `json:"data"`
	Version    int64          `json:"version"`
	Deleted    bool           `json:"deleted"`
	Extant     bool           `json:"extant"`
	Created    time.Time      `json:"created"`
	Modified   time.Time      `json:"modified"`
}

func viewOf(res *resources.Resource) resourceView {
	return resourceView{
		Href:       res.Href,
		Type:       res.Type,
		Identifier: res.Identifier,
		URI:        res.URI,
		Data:       res.Data,
		Version:    res.Version,
		Deleted:    res.Deleted,
		Extant:     res.Extant,
		Created:    res.Created,
		Modified:   res.Modified,
	}
}

func (h *ResourcesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, "invalid-body", "Invalid request body", err, h.env)
		return
	}
	if req.Type == "" {
		problem.Write(w, r, http.StatusBadRequest, "invalid-body", "Missing resource type", nil, h.env,
			problem.WithDetail("field type is required"))
		return
	}

	res, err := h.service.Create(r.Context(), actor(r), req.Type, req.Identifier)
	if err != nil {
		writeDomainError(w, r, err, h.env)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(res))
}

func (h *ResourcesHandler) Get(w http.ResponseWriter, r *http.Request) {
	href := resources.ResourceHref(r.PathValue("type"), r.PathValue("identifier"))
	res, err := h.service.Get(r.Context(), href)
	if err != nil {
		writeDomainError(w, r, err, h.env)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(res))
}

type sourceView struct {
	Href         string         `json:"href"`
	ResourceHref string         `json:"resourceHref"`
	Type         string         `json:"type"`
	Data         map[string]any `json:"data"`
	Version      int64          `json:"version"`
	Deleted      bool           `json:"deleted"`
	Author       string         `json:"author,omitempty"`
	Committer    string         `json:"committer,omitempty"`
	Created      time.Time      `json:"created"`
	Modified     time.Time      `json:"modified"`
}

func (h *ResourcesHandler) GetSource(w http.ResponseWriter, r *http.Request) {
	resourceHref := resources.ResourceHref(r.PathValue("type"), r.PathValue("identifier"))
	href := resources.SourceHref(resourceHref, r.PathValue("sourceType"))
	src, err := h.service.GetSource(r.Context(), href)
	if err != nil {
		writeDomainError(w, r, err, h.env)
		return
	}
	writeJSON(w, http.StatusOK, sourceView{
		Href:         src.Href,
		ResourceHref: src.ResourceHref,
		Type:         src.Type,
		Data:         src.Data,
		Version:      src.Version,
		Deleted:      src.Deleted,
		Author:       src.Author,
		Committer:    src.Committer,
		Created:      src.Created,
		Modified:     src.Modified,
	})
}

// Lookup resolves identifier values inside a scheme. Without value
// parameters it returns the whole scheme.
func (h *ResourcesHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	scheme := r.PathValue("scheme")
	values := r.URL.Query()["value"]

	result, err := h.service.LookupByIdentifier(r.Context(), scheme, values)
	if err != nil {
		writeDomainError(w, r, err, h.env)
		return
	}

	out := make(map[string]*resourceView, len(result))
	for value, res := range result {
		if res == nil {
			out[value] = nil
			continue
		}
		view := viewOf(res)
		out[value] = &view
	}
	writeJSON(w, http.StatusOK, map[string]any{"scheme": scheme, "resources": out})
}

func actor(r *http.Request) string {
	if who := r.Header.Get("X-Actor"); who != "" {
		return who
	}
	return "anonymous"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
