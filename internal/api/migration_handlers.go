package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rflorenc/treeops/internal/migration"
	"github.com/rflorenc/treeops/internal/models"
)

type moveRequest struct {
	Source         string `json:"source"`
	Target         string `json:"target"`
	Parent         string `json:"parent"`
	DryRun         bool   `json:"dry_run"`
	DeleteOriginal bool   `json:"delete_original"`
	Rename         bool   `json:"rename"`
	// Adopt allows copying into a target that already exists.
	Adopt bool `json:"adopt"`
}

// RunMove starts an async move job.
func (s *Server) RunMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	opts := migration.MoveOptions{
		Source:         req.Source,
		Target:         req.Target,
		Parent:         req.Parent,
		DryRun:         req.DryRun,
		DeleteOriginal: req.DeleteOriginal,
		Rename:         req.Rename,
		Adopt:          migration.FailClosed,
	}
	if req.Adopt {
		opts.Adopt = migration.AlwaysAdopt
	}
	if err := opts.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := s.startJob("move", req.Source, !req.DryRun, func(ctx context.Context, job *models.Job, logger *slog.Logger) (interface{}, error) {
		job.AppendLog(fmt.Sprintf("Moving %s to %s under %s on %s", req.Source, req.Target, req.Parent, s.Client.BaseURL()))
		m := migration.NewMover(s.Client, s.Executor, s.Waiter, logger, s.Metrics)
		return m.Run(ctx, opts, job.AppendLog)
	})

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}
