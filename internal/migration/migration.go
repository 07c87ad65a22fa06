// Package migration moves an environment under a new parent: it snapshots the
// organization, creates or adopts the target, copies the source's override
// values into it and optionally retires the original.
package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rflorenc/treeops/internal/metrics"
	"github.com/rflorenc/treeops/internal/models"
	"github.com/rflorenc/treeops/internal/platform"
)

// State is a step of a move.
type State string

const (
	StateBackup           State = "backup"
	StateVerifyRoots      State = "verify_roots"
	StateCreateOrAdopt    State = "create_or_adopt"
	StateAwaitTargetReady State = "await_target_ready"
	StateReconcile        State = "reconcile"
	StateFinalize         State = "finalize"
	StateCompleted        State = "completed"
	StateAborted          State = "aborted"
)

// AdoptDecision decides whether an already existing target environment may
// receive the copied values.
type AdoptDecision func(ctx context.Context, target models.Resource) (bool, error)

// FailClosed refuses to adopt an existing target.
func FailClosed(context.Context, models.Resource) (bool, error) { return false, nil }

// AlwaysAdopt accepts an existing target.
func AlwaysAdopt(context.Context, models.Resource) (bool, error) { return true, nil }

// MoveOptions describes one move.
type MoveOptions struct {
	Source string
	Target string
	Parent string
	DryRun bool

	// SnapshotFile replaces the live snapshot with a saved one.
	SnapshotFile string
	// SaveSnapshot keeps a copy of the live snapshot.
	SaveSnapshot string

	DeleteOriginal bool
	Rename         bool

	// Adopt is consulted when Target already exists. Nil means FailClosed.
	Adopt AdoptDecision
}

// Validate checks the options before anything is read.
func (o MoveOptions) Validate() error {
	switch {
	case o.Source == "" || o.Target == "" || o.Parent == "":
		return errors.New("source, target and parent are required")
	case o.Source == o.Target:
		return errors.New("target must differ from source")
	case o.Source == o.Parent:
		return errors.New("parent must differ from source")
	case o.Source == defaultEnvironment:
		return errors.New("the default environment cannot be moved")
	case o.Rename && !o.DeleteOriginal:
		return errors.New("rename requires delete-original")
	case o.SnapshotFile != "" && o.SaveSnapshot != "":
		return errors.New("snapshot and save-snapshot are mutually exclusive")
	}
	return nil
}

// MoveResult is the outcome of a move.
type MoveResult struct {
	State           State    `json:"state"`
	Reason          string   `json:"reason,omitempty"`
	Transitions     []State  `json:"transitions"`
	TargetID        string   `json:"target_id,omitempty"`
	TargetURL       string   `json:"target_url,omitempty"`
	Created         bool     `json:"created"`
	Adopted         bool     `json:"adopted"`
	Summary         *Summary `json:"summary,omitempty"`
	DeletedOriginal bool     `json:"deleted_original"`
	Renamed         bool     `json:"renamed"`
	Warnings        []string `json:"warnings,omitempty"`
}

// Mover runs moves. Every mutation goes through the executor.
type Mover struct {
	client     *platform.Client
	exec       *platform.Executor
	waiter     *platform.Waiter
	reconciler *Reconciler
	logger     *slog.Logger
}

// NewMover creates a Mover.
func NewMover(client *platform.Client, exec *platform.Executor, waiter *platform.Waiter, logger *slog.Logger, m *metrics.Recorder) *Mover {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Mover{
		client:     client,
		exec:       exec,
		waiter:     waiter,
		reconciler: NewReconciler(client, exec, logger, m),
		logger:     logger,
	}
}

type run struct {
	res *MoveResult
	log func(string)
}

func (r *run) enter(s State) {
	r.res.State = s
	r.res.Transitions = append(r.res.Transitions, s)
	r.log("")
	r.log(fmt.Sprintf("=== %s ===", s))
}

func (r *run) abort(err error) (*MoveResult, error) {
	r.res.State = StateAborted
	r.res.Transitions = append(r.res.Transitions, StateAborted)
	r.res.Reason = err.Error()
	r.log("Aborted: " + err.Error())
	return r.res, err
}

func (r *run) warn(msg string) {
	r.res.Warnings = append(r.res.Warnings, msg)
	r.log("  WARNING " + msg)
}

// Run executes the move: Backup, VerifyRoots, CreateOrAdopt, AwaitTargetReady,
// Reconcile and, when requested, Finalize. It ends in Completed or Aborted.
// Cancelling ctx aborts at the next step boundary; a mutation in flight is
// allowed to finish.
func (m *Mover) Run(ctx context.Context, opts MoveOptions, log func(string)) (*MoveResult, error) {
	if log == nil {
		log = func(string) {}
	}
	r := &run{res: &MoveResult{}, log: log}
	if err := opts.Validate(); err != nil {
		return r.abort(err)
	}
	adopt := opts.Adopt
	if adopt == nil {
		adopt = FailClosed
	}

	if !opts.DryRun {
		if _, err := m.client.CheckAccess(ctx); err != nil {
			return r.abort(fmt.Errorf("checking access: %w", err))
		}
	}

	r.enter(StateBackup)
	var snap *Snapshot
	var err error
	if opts.SnapshotFile != "" {
		log("Using snapshot " + opts.SnapshotFile)
		snap, err = LoadSnapshot(opts.SnapshotFile)
	} else {
		log("Requesting organization snapshot...")
		snap, err = FetchSnapshot(ctx, m.client, opts.SaveSnapshot, m.logger)
	}
	if err != nil {
		return r.abort(fmt.Errorf("snapshot: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return r.abort(err)
	}

	r.enter(StateVerifyRoots)
	roots, err := VerifyRoots(ctx, m.client, opts.Source, opts.Parent, opts.Target)
	if err != nil {
		return r.abort(err)
	}
	parentURL := m.client.ResourceURL(platform.Environments, roots.Parent)
	log(fmt.Sprintf("  source %s (id=%s)", opts.Source, roots.Source.ID()))
	log(fmt.Sprintf("  parent %s (id=%s)", opts.Parent, roots.Parent.ID()))
	if opts.DeleteOriginal {
		if children, _ := roots.Source[platform.Environments.ChildrenField].([]interface{}); len(children) > 0 {
			return r.abort(fmt.Errorf("source %s has %d child environment(s); move or delete them before deleting the original", opts.Source, len(children)))
		}
	}
	if err := ctx.Err(); err != nil {
		return r.abort(err)
	}

	r.enter(StateCreateOrAdopt)
	if roots.Target != nil {
		r.res.TargetID = roots.Target.ID()
		r.res.TargetURL = m.client.ResourceURL(platform.Environments, roots.Target)
		log(fmt.Sprintf("  target %s already exists (id=%s)", opts.Target, r.res.TargetID))
		if got := models.RefID(roots.Target.String(platform.Environments.ParentField)); got != roots.Parent.ID() {
			return r.abort(fmt.Errorf("target %s exists under a different parent", opts.Target))
		}
		ok, err := adopt(ctx, roots.Target)
		if err != nil {
			return r.abort(fmt.Errorf("adopt decision: %w", err))
		}
		switch {
		case ok:
			r.res.Adopted = true
			log("  adopting existing target")
		case opts.DryRun:
			r.warn(fmt.Sprintf("target %s exists and was not adopted; a real run would abort here (re-run with --yes to adopt). Previewing reconcile against it", opts.Target))
		default:
			return r.abort(fmt.Errorf("target %s already exists and was not adopted (re-run with --yes to adopt it)", opts.Target))
		}
	} else if opts.DryRun {
		log(fmt.Sprintf("  would create %s under %s", opts.Target, opts.Parent))
	} else {
		resp, err := m.exec.Execute(context.WithoutCancel(ctx), platform.Request{
			Method:  http.MethodPost,
			Target:  platform.Environments.APIPath,
			Payload: map[string]interface{}{"name": opts.Target, "parent": parentURL},
		})
		if err != nil {
			return r.abort(fmt.Errorf("creating target %s: %w", opts.Target, err))
		}
		var created models.Resource
		if err := json.Unmarshal(resp.Body, &created); err != nil || created.ID() == "" {
			return r.abort(fmt.Errorf("creating target %s: unexpected response %q", opts.Target, string(resp.Body)))
		}
		r.res.Created = true
		r.res.TargetID = created.ID()
		r.res.TargetURL = m.client.ResourceURL(platform.Environments, created)
		log(fmt.Sprintf("  CREATED %s (id=%s)", opts.Target, r.res.TargetID))
	}
	if err := ctx.Err(); err != nil {
		return r.abort(err)
	}

	r.enter(StateAwaitTargetReady)
	if r.res.Created {
		err := m.waiter.WaitForPresence(ctx, platform.Environments.DetailPath(r.res.TargetID))
		var te *platform.TimeoutError
		switch {
		case errors.As(err, &te):
			r.warn(err.Error())
		case err != nil:
			return r.abort(fmt.Errorf("waiting for target: %w", err))
		}
	}

	r.enter(StateReconcile)
	sum, err := m.reconciler.Reconcile(ctx, snap, opts.Source, r.res.TargetURL, opts.DryRun, log)
	r.res.Summary = sum
	if err != nil {
		return r.abort(fmt.Errorf("reconcile: %w", err))
	}
	if !sum.OK() {
		return r.abort(fmt.Errorf("reconcile: %d of %d value(s) failed: %w", sum.Failed, sum.Processed, sum.Err()))
	}

	if opts.DeleteOriginal {
		r.enter(StateFinalize)
		if err := m.finalize(ctx, r, opts, roots); err != nil {
			return r.abort(err)
		}
	}

	r.enter(StateCompleted)
	return r.res, nil
}

// finalize deletes the source and renames the target to the source name.
func (m *Mover) finalize(ctx context.Context, r *run, opts MoveOptions, roots *Roots) error {
	if opts.DryRun {
		r.log(fmt.Sprintf("  would delete %s (id=%s)", opts.Source, roots.Source.ID()))
		if opts.Rename {
			r.log(fmt.Sprintf("  would rename %s to %s", opts.Target, opts.Source))
		}
		return nil
	}

	target := platform.Environments.DetailPath(roots.Source.ID())
	if _, err := m.exec.Execute(context.WithoutCancel(ctx), platform.Request{Method: http.MethodDelete, Target: target}); err != nil {
		return fmt.Errorf("deleting original %s: %w", opts.Source, err)
	}
	r.res.DeletedOriginal = true
	r.log(fmt.Sprintf("  DELETED %s (id=%s)", opts.Source, roots.Source.ID()))

	parentTarget := ""
	if pid := models.RefID(roots.Source.String(platform.Environments.ParentField)); pid != "" {
		parentTarget = platform.Environments.DetailPath(pid)
	}
	err := m.waiter.WaitForDeletion(ctx, platform.Environments, target, parentTarget)
	var te *platform.TimeoutError
	switch {
	case errors.As(err, &te):
		r.warn(err.Error())
	case err != nil:
		return fmt.Errorf("confirming deletion of %s: %w", opts.Source, err)
	}

	if !opts.Rename {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err = m.exec.Execute(context.WithoutCancel(ctx), platform.Request{
		Method:  http.MethodPatch,
		Target:  platform.Environments.DetailPath(r.res.TargetID),
		Payload: map[string]string{"name": opts.Source},
	})
	if err != nil {
		return fmt.Errorf("renaming %s to %s: %w", opts.Target, opts.Source, err)
	}
	r.res.Renamed = true
	r.log(fmt.Sprintf("  RENAMED %s to %s", opts.Target, opts.Source))
	return nil
}
