// Package cleanup deletes whole subtrees of projects or environments, deepest
// node first, confirming each deletion before issuing the next one.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rflorenc/treeops/internal/graph"
	"github.com/rflorenc/treeops/internal/models"
	"github.com/rflorenc/treeops/internal/plan"
	"github.com/rflorenc/treeops/internal/platform"
)

// Options selects what Run deletes.
type Options struct {
	Kind        models.ResourceKind
	Filter      string
	Exact       bool
	All         bool // select every node of the kind; Filter is ignored
	StrictNames bool
	DryRun      bool
	PageSize    int
}

// Result reports what a run planned and did.
type Result struct {
	Plan        []models.PlanEntry `json:"plan"`
	Deleted     []string           `json:"deleted"`
	Unconfirmed []string           `json:"unconfirmed,omitempty"`
	AlreadyGone []string           `json:"already_gone,omitempty"` // removed by someone else first
	Failed      string             `json:"failed,omitempty"`
	DryRun      bool               `json:"dry_run"`
}

// Deleter runs delete-tree operations.
type Deleter struct {
	client *platform.Client
	exec   *platform.Executor
	waiter *platform.Waiter
	logger *slog.Logger
}

// NewDeleter creates a Deleter. exec is the only path to remote mutations.
func NewDeleter(client *platform.Client, exec *platform.Executor, waiter *platform.Waiter, logger *slog.Logger) *Deleter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Deleter{client: client, exec: exec, waiter: waiter, logger: logger}
}

// Matcher returns the name matcher for opts. Protected names of the kind never match.
func Matcher(opts Options) plan.Matcher {
	m := plan.Substring(opts.Filter)
	switch {
	case opts.All:
		m = plan.Any()
	case opts.Exact:
		m = plan.Exact(opts.Filter)
	}
	return plan.Except(m, opts.Kind.Protected)
}

// Plan lists the kind, builds its graph and returns the ordered deletion plan.
// It never mutates anything.
func (d *Deleter) Plan(ctx context.Context, opts Options) ([]models.PlanEntry, error) {
	resources, err := d.client.GetAll(ctx, opts.Kind.APIPath, nil, opts.PageSize)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", opts.Kind.Name, err)
	}
	g, err := graph.Build(opts.Kind, resources, graph.Options{StrictNames: opts.StrictNames, Logger: d.logger})
	if err != nil {
		return nil, err
	}
	entries, err := plan.Build(g, Matcher(opts))
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if opts.Kind.Protected[e.Name] {
			return nil, fmt.Errorf("refusing to delete protected %s %q", opts.Kind.Name, e.Name)
		}
	}
	return entries, nil
}

// Run plans and, unless opts.DryRun, deletes the selection. Human-readable
// progress goes to log. A mutation failure halts the run; the returned Result
// says how far it got. Cancelling ctx stops the run after the mutation in
// flight has finished.
func (d *Deleter) Run(ctx context.Context, opts Options, log func(string)) (*Result, error) {
	if log == nil {
		log = func(string) {}
	}
	res := &Result{DryRun: opts.DryRun}

	if !opts.DryRun {
		user, err := d.client.CheckAccess(ctx)
		if err != nil {
			return res, fmt.Errorf("checking access: %w", err)
		}
		d.logger.Debug("access granted", "user", user.Name, "role", user.Role)
	}

	entries, err := d.Plan(ctx, opts)
	if err != nil {
		return res, err
	}
	res.Plan = entries

	if len(entries) == 0 {
		if opts.All {
			log(fmt.Sprintf("No %s found", opts.Kind.Name))
		} else {
			log(fmt.Sprintf("No %s found matching %q", opts.Kind.Name, opts.Filter))
		}
		return res, nil
	}

	log(fmt.Sprintf("--- Deletion plan: %d %s ---", len(entries), opts.Kind.Name))
	for _, e := range entries {
		log(FormatEntry(e))
	}

	if opts.DryRun {
		log(fmt.Sprintf("Dry run: %d %s would be deleted", len(entries), opts.Kind.Name))
		return res, nil
	}

	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			log(fmt.Sprintf("Interrupted: %d of %d deleted", len(res.Deleted), len(entries)))
			return res, fmt.Errorf("interrupted after %d of %d deletions: %w", len(res.Deleted), len(entries), err)
		}

		target := opts.Kind.DetailPath(e.ID)
		// An interrupt must not abort a request that is already on the wire.
		resp, err := d.exec.Execute(context.WithoutCancel(ctx), platform.Request{Method: http.MethodDelete, Target: target})
		if err != nil {
			res.Failed = e.Name
			log(fmt.Sprintf("  FAIL %s (id=%s): %v", e.Name, e.ID, err))
			d.logger.Error("delete failed", "kind", opts.Kind.Name, "name", e.Name, "id", e.ID, "error", err)
			return res, fmt.Errorf("deleting %s %q (id=%s), %d of %d deleted before the failure: %w",
				opts.Kind.Name, e.Name, e.ID, len(res.Deleted), len(entries), err)
		}
		res.Deleted = append(res.Deleted, e.Name)
		if resp.Gone(http.MethodDelete) {
			res.AlreadyGone = append(res.AlreadyGone, e.Name)
			log(fmt.Sprintf("  DELETED %s (id=%s) [%d/%d] already gone", e.Name, e.ID, i+1, len(entries)))
		} else {
			log(fmt.Sprintf("  DELETED %s (id=%s) [%d/%d]", e.Name, e.ID, i+1, len(entries)))
		}

		parentTarget := ""
		if e.ParentID != "" {
			parentTarget = opts.Kind.DetailPath(e.ParentID)
		}
		if err := d.waiter.WaitForDeletion(ctx, opts.Kind, target, parentTarget); err != nil {
			var te *platform.TimeoutError
			switch {
			case errors.As(err, &te):
				res.Unconfirmed = append(res.Unconfirmed, e.Name)
				log(fmt.Sprintf("  WARNING %s: %v", e.Name, err))
				d.logger.Warn("deletion not confirmed, continuing", "name", e.Name, "waited", te.Waited)
			case ctx.Err() != nil:
				log(fmt.Sprintf("Interrupted: %d of %d deleted", len(res.Deleted), len(entries)))
				return res, fmt.Errorf("interrupted after %d of %d deletions: %w", len(res.Deleted), len(entries), ctx.Err())
			default:
				return res, fmt.Errorf("confirming deletion of %q: %w", e.Name, err)
			}
		}
	}

	log(fmt.Sprintf("Cleanup complete: %d deleted, %d unconfirmed", len(res.Deleted), len(res.Unconfirmed)))
	return res, nil
}

// FormatEntry renders one plan line.
func FormatEntry(e models.PlanEntry) string {
	if e.ParentName == "" {
		return fmt.Sprintf("  [depth %d] %s (id=%s)", e.Depth, e.Name, e.ID)
	}
	return fmt.Sprintf("  [depth %d] %s (id=%s, parent=%s)", e.Depth, e.Name, e.ID, e.ParentName)
}
