package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rflorenc/treeops/internal/cleanup"
	"github.com/rflorenc/treeops/internal/integrations"
	"github.com/rflorenc/treeops/internal/models"
	"github.com/rflorenc/treeops/internal/platform"
	"github.com/rflorenc/treeops/internal/populate"
)

type deleteTreeRequest struct {
	Kind        string `json:"kind"`
	Match       string `json:"match"`
	Exact       bool   `json:"exact"`
	All         bool   `json:"all"`
	StrictNames bool   `json:"strict_names"`
	DryRun      bool   `json:"dry_run"`
}

// RunDeleteTree starts an async delete-tree job.
func (s *Server) RunDeleteTree(w http.ResponseWriter, r *http.Request) {
	var req deleteTreeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	kind, err := platform.KindByName(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Match == "" && !req.All {
		writeError(w, http.StatusBadRequest, "match is required")
		return
	}

	opts := cleanup.Options{
		Kind:        kind,
		Filter:      req.Match,
		Exact:       req.Exact,
		All:         req.All,
		StrictNames: req.StrictNames,
		DryRun:      req.DryRun,
		PageSize:    s.PageSize,
	}
	job := s.startJob("delete-tree", req.Match, !req.DryRun, func(ctx context.Context, job *models.Job, logger *slog.Logger) (interface{}, error) {
		job.AppendLog(fmt.Sprintf("Deleting %s matching %q on %s", kind.Name, req.Match, s.Client.BaseURL()))
		d := cleanup.NewDeleter(s.Client, s.Executor, s.Waiter, logger)
		return d.Run(ctx, opts, job.AppendLog)
	})

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

type deleteParametersRequest struct {
	Project string `json:"project"`
	Match   string `json:"match"`
	Exact   bool   `json:"exact"`
	All     bool   `json:"all"`
	DryRun  bool   `json:"dry_run"`
}

// RunDeleteParameters starts an async job deleting matching parameters.
func (s *Server) RunDeleteParameters(w http.ResponseWriter, r *http.Request) {
	var req deleteParametersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Match == "" && !req.All {
		writeError(w, http.StatusBadRequest, "match is required")
		return
	}
	opts := cleanup.ParameterOptions{
		Project:  req.Project,
		Filter:   req.Match,
		Exact:    req.Exact,
		All:      req.All,
		DryRun:   req.DryRun,
		PageSize: s.PageSize,
	}
	job := s.startJob("delete-parameters", req.Match, !req.DryRun, func(ctx context.Context, job *models.Job, logger *slog.Logger) (interface{}, error) {
		d := cleanup.NewDeleter(s.Client, s.Executor, s.Waiter, logger)
		return d.RunParameters(ctx, opts, job.AppendLog)
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

type populateRequest struct {
	Projects         bool   `json:"projects"`
	Environments     bool   `json:"environments"`
	ProjectCount     int    `json:"project_count"`
	EnvironmentCount int    `json:"environment_count"`
	ParameterCount   int    `json:"parameter_count"`
	Levels           int    `json:"levels"`
	ProjectRoot      string `json:"project_root"`
	EnvironmentRoot  string `json:"environment_root"`
	DryRun           bool   `json:"dry_run"`
}

// RunPopulate starts an async job that seeds test resources.
func (s *Server) RunPopulate(w http.ResponseWriter, r *http.Request) {
	var req populateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	opts := populate.Options(req)
	if err := opts.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job := s.startJob("populate", "", !req.DryRun, func(ctx context.Context, job *models.Job, logger *slog.Logger) (interface{}, error) {
		p := populate.New(s.Client, s.Executor, s.Waiter, logger)
		return p.Run(ctx, opts, job.AppendLog)
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

type deleteIntegrationsRequest struct {
	Service string `json:"service"`
	Force   bool   `json:"force"`
	DryRun  bool   `json:"dry_run"`
}

// RunDeleteIntegrations starts an async job removing integrations.
func (s *Server) RunDeleteIntegrations(w http.ResponseWriter, r *http.Request) {
	var req deleteIntegrationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Service != "" {
		if _, err := integrations.ServiceByName(req.Service); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	opts := integrations.Options{Service: req.Service, Force: req.Force, DryRun: req.DryRun, PageSize: s.PageSize}
	job := s.startJob("delete-integrations", req.Service, !req.DryRun, func(ctx context.Context, job *models.Job, logger *slog.Logger) (interface{}, error) {
		rm := integrations.NewRemover(s.Client, s.Executor, s.Waiter, logger)
		return rm.Run(ctx, opts, job.AppendLog)
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}
