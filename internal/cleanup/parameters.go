package cleanup

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/rflorenc/treeops/internal/models"
	"github.com/rflorenc/treeops/internal/plan"
	"github.com/rflorenc/treeops/internal/platform"
)

// ParameterOptions selects the parameters RunParameters deletes.
type ParameterOptions struct {
	// Project limits the run to one project. Empty means every project.
	Project  string
	Filter   string
	Exact    bool
	All      bool
	DryRun   bool
	PageSize int
}

// ParameterEntry is one parameter scheduled for deletion.
type ParameterEntry struct {
	Project   string `json:"project"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	ID        string `json:"id"`
}

func (e ParameterEntry) String() string {
	return e.Project + "/" + e.Name
}

// ParameterResult reports what a parameter run planned and did.
type ParameterResult struct {
	Plan        []ParameterEntry `json:"plan"`
	Deleted     []string         `json:"deleted"`
	Unconfirmed []string         `json:"unconfirmed,omitempty"`
	Failed      string           `json:"failed,omitempty"`
	DryRun      bool             `json:"dry_run"`
}

func parameterMatcher(opts ParameterOptions) plan.Matcher {
	switch {
	case opts.All:
		return plan.Any()
	case opts.Exact:
		return plan.Exact(opts.Filter)
	}
	return plan.Substring(opts.Filter)
}

// PlanParameters lists the parameters defined by each selected project that
// match opts. Parameters a project inherits from its parents are left to the
// project that defines them.
func (d *Deleter) PlanParameters(ctx context.Context, opts ParameterOptions) ([]ParameterEntry, error) {
	var projects []models.Resource
	if opts.Project != "" {
		p, err := d.client.FindProject(ctx, opts.Project)
		if err != nil {
			return nil, err
		}
		projects = []models.Resource{p}
	} else {
		all, err := d.client.GetAll(ctx, platform.Projects.APIPath, nil, opts.PageSize)
		if err != nil {
			return nil, fmt.Errorf("listing projects: %w", err)
		}
		projects = all
	}

	match := parameterMatcher(opts)
	var entries []ParameterEntry
	for _, p := range projects {
		params, err := d.client.GetAll(ctx, platform.ParametersPath(p.ID()), nil, opts.PageSize)
		if err != nil {
			return nil, fmt.Errorf("listing parameters of %s: %w", p.Name(), err)
		}
		for _, prm := range params {
			if owner := models.RefID(prm.String("project")); owner != "" && owner != p.ID() {
				continue
			}
			if !match(prm.Name()) {
				continue
			}
			entries = append(entries, ParameterEntry{Project: p.Name(), ProjectID: p.ID(), Name: prm.Name(), ID: prm.ID()})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Project != entries[j].Project {
			return entries[i].Project < entries[j].Project
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// RunParameters deletes the parameters selected by opts one at a time, with
// the same halt-on-failure and interrupt rules as Run.
func (d *Deleter) RunParameters(ctx context.Context, opts ParameterOptions, log func(string)) (*ParameterResult, error) {
	if log == nil {
		log = func(string) {}
	}
	res := &ParameterResult{DryRun: opts.DryRun}

	if !opts.DryRun {
		if _, err := d.client.CheckAccess(ctx); err != nil {
			return res, fmt.Errorf("checking access: %w", err)
		}
	}

	entries, err := d.PlanParameters(ctx, opts)
	if err != nil {
		return res, err
	}
	res.Plan = entries
	if len(entries) == 0 {
		log("No parameters found")
		return res, nil
	}

	log(fmt.Sprintf("--- Deletion plan: %d parameters ---", len(entries)))
	for _, e := range entries {
		log(fmt.Sprintf("  %s (id=%s)", e, e.ID))
	}
	if opts.DryRun {
		log(fmt.Sprintf("Dry run: %d parameters would be deleted", len(entries)))
		return res, nil
	}

	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			log(fmt.Sprintf("Interrupted: %d of %d deleted", len(res.Deleted), len(entries)))
			return res, fmt.Errorf("interrupted after %d of %d deletions: %w", len(res.Deleted), len(entries), err)
		}
		target := platform.ParameterPath(e.ProjectID, e.ID)
		if _, err := d.exec.Execute(context.WithoutCancel(ctx), platform.Request{Method: http.MethodDelete, Target: target}); err != nil {
			res.Failed = e.String()
			log(fmt.Sprintf("  FAIL %s (id=%s): %v", e, e.ID, err))
			d.logger.Error("delete failed", "kind", "parameter", "name", e.String(), "id", e.ID, "error", err)
			return res, fmt.Errorf("deleting parameter %s (id=%s), %d of %d deleted before the failure: %w",
				e, e.ID, len(res.Deleted), len(entries), err)
		}
		res.Deleted = append(res.Deleted, e.String())
		log(fmt.Sprintf("  DELETED %s (id=%s) [%d/%d]", e, e.ID, i+1, len(entries)))

		if err := d.waiter.WaitForGone(ctx, target); err != nil {
			var te *platform.TimeoutError
			switch {
			case errors.As(err, &te):
				res.Unconfirmed = append(res.Unconfirmed, e.String())
				log(fmt.Sprintf("  WARNING %s: %v", e, err))
			case ctx.Err() != nil:
				log(fmt.Sprintf("Interrupted: %d of %d deleted", len(res.Deleted), len(entries)))
				return res, fmt.Errorf("interrupted after %d of %d deletions: %w", len(res.Deleted), len(entries), ctx.Err())
			default:
				return res, fmt.Errorf("confirming deletion of %s: %w", e, err)
			}
		}
	}

	log(fmt.Sprintf("Cleanup complete: %d deleted, %d unconfirmed", len(res.Deleted), len(res.Unconfirmed)))
	return res, nil
}
