package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/treeops/internal/models"
)

// ListJobs returns every job, newest first.
func (s *Server) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.Jobs.List()
	writeJSON(w, http.StatusOK, jobs)
}

// GetJob returns one job with its status, result and log.
func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := s.Jobs.Get(id)
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob cancels a running job. The operation stops after its current mutation.
func (s *Server) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := s.Jobs.Get(id)
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Done() {
		writeError(w, http.StatusConflict, "job is not running")
		return
	}
	job.Cancel()
	job.AppendLog("CANCELLED: stopping after the current mutation")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// startJob runs fn in the background with a cancellable context and a logger
// that writes into the job output. Mutating jobs run one at a time; a job
// queued behind another can be cancelled before it starts.
func (s *Server) startJob(jobType, target string, mutates bool, fn func(ctx context.Context, job *models.Job, logger *slog.Logger) (interface{}, error)) *models.Job {
	job := s.Jobs.Create(jobType, target)
	ctx, cancel := context.WithCancel(context.Background())
	job.SetCancel(cancel)
	logger := slog.New(slog.NewTextHandler(job, &slog.HandlerOptions{Level: slog.LevelWarn})).With("job_id", job.ID)

	go func() {
		defer cancel()
		if mutates {
			slot := s.mutationSlot()
			select {
			case slot <- struct{}{}:
			default:
				job.AppendLog("Waiting for the running job to finish")
				select {
				case slot <- struct{}{}:
				case <-ctx.Done():
					job.MarkCancelled(nil)
					s.logger().Info("job cancelled while queued", "job_id", job.ID, "type", jobType)
					return
				}
			}
			defer func() { <-slot }()
		}
		result, err := fn(ctx, job, logger)
		switch {
		case err == nil:
			job.Complete(result)
		case errors.Is(err, context.Canceled):
			job.MarkCancelled(result)
		default:
			job.AppendLog("ERROR: " + err.Error())
			job.Fail(err.Error(), result)
		}
		s.logger().Info("job finished", "job_id", job.ID, "type", jobType, "status", job.CurrentStatus())
	}()
	return job
}
