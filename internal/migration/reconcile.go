package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/rflorenc/treeops/internal/metrics"
	"github.com/rflorenc/treeops/internal/models"
	"github.com/rflorenc/treeops/internal/platform"
)

// Reconcile outcomes, recorded per item.
const (
	ActionCreate      = "create"
	ActionMatches     = "skip_matches"
	ActionConflict    = "conflict"
	ActionFailed      = "failed"
	ActionWouldCreate = "would_create"
)

// ValueMismatchError reports a target value that differs from the source.
// The target value is left untouched.
type ValueMismatchError struct {
	Project     string
	Parameter   string
	Environment string
}

func (e *ValueMismatchError) Error() string {
	return fmt.Sprintf("%s/%s: target environment %s already holds a different value", e.Project, e.Parameter, e.Environment)
}

// Summary aggregates a reconcile run. The run succeeded only if Failed is zero.
type Summary struct {
	Processed int               `json:"processed"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Writes    int               `json:"writes"`
	Items     []models.MoveStep `json:"items"`
	Errors    []error           `json:"-"`
}

// OK reports whether every item succeeded.
func (s *Summary) OK() bool { return s.Failed == 0 }

// Err joins the per-item errors, or returns nil.
func (s *Summary) Err() error { return errors.Join(s.Errors...) }

func (s *Summary) record(step models.MoveStep, err error) {
	s.Processed++
	if err != nil {
		s.Failed++
		step.Error = err.Error()
		s.Errors = append(s.Errors, err)
	} else {
		s.Succeeded++
	}
	s.Items = append(s.Items, step)
}

// Reconciler copies override values into a target environment without ever
// overwriting a divergent value.
type Reconciler struct {
	client  *platform.Client
	exec    *platform.Executor
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// NewReconciler creates a Reconciler.
func NewReconciler(client *platform.Client, exec *platform.Executor, logger *slog.Logger, m *metrics.Recorder) *Reconciler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reconciler{client: client, exec: exec, logger: logger, metrics: m}
}

type projectLookup struct {
	id  string
	err error
}

// Reconcile applies the overrides recorded against sourceEnv in snap to the
// environment at targetURL. Candidates come from the snapshot; the target side
// is always read live. Lookup and write failures are counted per item; only
// an authorization failure or cancellation ends the run early. With dryRun no
// write is issued and missing values are reported as would_create. An empty
// targetURL means the target does not exist yet, so nothing is read for it.
func (r *Reconciler) Reconcile(ctx context.Context, snap *Snapshot, sourceEnv, targetURL string, dryRun bool, log func(string)) (*Summary, error) {
	if log == nil {
		log = func(string) {}
	}
	sum := &Summary{}
	targetID := models.RefID(targetURL)
	projects := make(map[string]projectLookup)

	candidates := snap.Overrides(sourceEnv)
	log(fmt.Sprintf("%d override value(s) recorded against %s", len(candidates), sourceEnv))

	for _, ov := range candidates {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		step := models.MoveStep{Project: ov.Project, Parameter: ov.Parameter, Environment: ov.Environment}

		action, err := r.reconcileOne(ctx, ov, targetID, targetURL, dryRun, projects, sum)
		var ae *platform.AuthError
		if errors.As(err, &ae) {
			return sum, err
		}
		step.Action = action
		sum.record(step, err)
		r.metrics.ReconcileOutcome(action)

		switch action {
		case ActionCreate:
			log(fmt.Sprintf("  CREATED %s/%s", ov.Project, ov.Parameter))
		case ActionWouldCreate:
			log(fmt.Sprintf("  WOULD CREATE %s/%s", ov.Project, ov.Parameter))
		case ActionMatches:
			log(fmt.Sprintf("  SKIP %s/%s (already matches)", ov.Project, ov.Parameter))
		case ActionConflict:
			log(fmt.Sprintf("  CONFLICT %s/%s: %v", ov.Project, ov.Parameter, err))
			r.logger.Warn("value mismatch, not overwriting", "project", ov.Project, "parameter", ov.Parameter, "environment", targetID)
		default:
			log(fmt.Sprintf("  FAIL %s/%s: %v", ov.Project, ov.Parameter, err))
			r.logger.Error("reconcile item failed", "project", ov.Project, "parameter", ov.Parameter, "error", err)
		}
	}

	log(fmt.Sprintf("Reconcile complete: %d processed, %d succeeded, %d failed, %d write(s)",
		sum.Processed, sum.Succeeded, sum.Failed, sum.Writes))
	return sum, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, ov Override, targetID, targetURL string, dryRun bool, projects map[string]projectLookup, sum *Summary) (string, error) {
	pl, ok := projects[ov.Project]
	if !ok {
		proj, err := r.client.FindProject(ctx, ov.Project)
		if err == nil {
			pl.id = proj.ID()
		}
		pl.err = err
		projects[ov.Project] = pl
	}
	if pl.err != nil {
		return ActionFailed, fmt.Errorf("project %s: %w", ov.Project, pl.err)
	}

	param, err := r.client.FindParameter(ctx, pl.id, ov.Parameter)
	if err != nil {
		return ActionFailed, fmt.Errorf("%s/%s: %w", ov.Project, ov.Parameter, err)
	}
	valuesPath := platform.ValuesPath(pl.id, param.ID())

	if targetID != "" {
		current, found, err := r.currentValue(ctx, valuesPath, targetID)
		if err != nil {
			return ActionFailed, fmt.Errorf("%s/%s: reading target value: %w", ov.Project, ov.Parameter, err)
		}
		if found {
			if current == ov.Value {
				return ActionMatches, nil
			}
			return ActionConflict, &ValueMismatchError{Project: ov.Project, Parameter: ov.Parameter, Environment: targetID}
		}
	}

	if dryRun {
		return ActionWouldCreate, nil
	}

	sum.Writes++
	_, err = r.exec.Execute(context.WithoutCancel(ctx), platform.Request{
		Method:  http.MethodPost,
		Target:  valuesPath,
		Payload: map[string]interface{}{"environment": targetURL, "internal_value": ov.Value},
	})
	if err != nil {
		return ActionFailed, fmt.Errorf("%s/%s: %w", ov.Project, ov.Parameter, err)
	}
	return ActionCreate, nil
}

// currentValue reads the value set directly on the target environment.
// Records belonging to other environments are ignored.
func (r *Reconciler) currentValue(ctx context.Context, valuesPath, targetID string) (string, bool, error) {
	params := url.Values{"environment": {targetID}, "mask_secrets": {"false"}}
	records, err := r.client.GetAll(ctx, valuesPath, params, platform.DefaultPageSize)
	if err != nil {
		return "", false, err
	}
	for _, rec := range records {
		if models.RefID(rec.String("environment")) != targetID {
			continue
		}
		v, ok := valueString(rec["internal_value"])
		if !ok {
			continue
		}
		return v, true, nil
	}
	return "", false, nil
}
