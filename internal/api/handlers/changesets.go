package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prism-data/prism/internal/api/problem"
	"github.com/prism-data/prism/internal/domain/changesets"
	"github.com/prism-data/prism/internal/domain/resources"
)

type ChangesetsHandler struct {
	service *changesets.Service
	env     string
}

func NewChangesetsHandler(service *changesets.Service, env string) *ChangesetsHandler {
	return &ChangesetsHandler{service: service, env: env}
}

type performRequest struct {
	BaseHref   string                `json:"baseHref,omitempty"`
	Author     string                `json:"author,omitempty"`
	PerformAt  *time.Time            `json:"performAt,omitempty"`
	Operations []resources.Operation `json:"operations"`
}

type changesetView struct {
	ID      string `json:"id"`
	State   string `json:"state"`
	Version int64  `json:"version"`
}

// Perform creates a changeset from the request body and performs it
// immediately, or schedules a deferred perform when performAt is set. A
// failed changeset still exists under its id so the failure can be
// inspected later.
func (h *ChangesetsHandler) Perform(w http.ResponseWriter, r *http.Request) {
	var req performRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, "invalid-body", "Invalid request body", err, h.env)
		return
	}

	params := changesets.PerformParams{
		BaseHref:   req.BaseHref,
		Author:     req.Author,
		Committer:  actor(r),
		Operations: req.Operations,
	}

	var cs *resources.Changeset
	var err error
	if req.PerformAt != nil {
		cs, err = h.service.Schedule(r.Context(), params, *req.PerformAt)
	} else {
		cs, err = h.service.Perform(r.Context(), params)
	}
	if err != nil {
		writeDomainError(w, r, err, h.env)
		return
	}
	writeJSON(w, http.StatusOK, changesetView{ID: cs.ID, State: string(cs.State), Version: cs.Version})
}

// PerformByID performs a previously persisted changeset.
func (h *ChangesetsHandler) PerformByID(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.service.PerformByID(r.Context(), id); err != nil {
		writeDomainError(w, r, err, h.env)
		return
	}
	cs, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err, h.env)
		return
	}
	writeJSON(w, http.StatusOK, changesetView{ID: cs.ID, State: string(cs.State), Version: cs.Version})
}

func (h *ChangesetsHandler) Get(w http.ResponseWriter, r *http.Request) {
	cs, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err, h.env)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         cs.ID,
		"baseHref":   cs.BaseHref,
		"author":     cs.Author,
		"committer":  cs.Committer,
		"state":      string(cs.State),
		"operations": cs.Operations,
		"version":    cs.Version,
		"created":    cs.Created,
		"modified":   cs.Modified,
	})
}
