package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/treeops/internal/cleanup"
	"github.com/rflorenc/treeops/internal/models"
	"github.com/rflorenc/treeops/internal/platform"
)

// ListResourcesOfKind returns every project or environment of the {kind} in the URL.
func (s *Server) ListResourcesOfKind(w http.ResponseWriter, r *http.Request) {
	kind, err := platform.KindByName(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	resources, err := s.Client.GetAll(r.Context(), kind.APIPath, nil, s.PageSize)
	if err != nil {
		writeError(w, upstreamStatus(err), err.Error())
		return
	}
	// Ensure we return [] not null for empty results
	if resources == nil {
		resources = []models.Resource{}
	}
	writeJSON(w, http.StatusOK, resources)
}

// PlanDeletion returns the ordered deletion plan for ?match= without mutating anything.
func (s *Server) PlanDeletion(w http.ResponseWriter, r *http.Request) {
	kind, err := platform.KindByName(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	match := r.URL.Query().Get("match")
	if match == "" {
		writeError(w, http.StatusBadRequest, "match is required")
		return
	}
	opts := cleanup.Options{
		Kind:     kind,
		Filter:   match,
		Exact:    r.URL.Query().Get("exact") == "true",
		PageSize: s.PageSize,
	}
	d := cleanup.NewDeleter(s.Client, s.Executor, s.Waiter, s.logger())
	entries, err := d.Plan(r.Context(), opts)
	if err != nil {
		writeError(w, upstreamStatus(err), err.Error())
		return
	}
	if entries == nil {
		entries = []models.PlanEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// upstreamStatus maps a remote API failure to the status returned to our caller.
func upstreamStatus(err error) int {
	var ae *platform.AuthError
	if errors.As(err, &ae) {
		return http.StatusUnauthorized
	}
	return http.StatusBadGateway
}
