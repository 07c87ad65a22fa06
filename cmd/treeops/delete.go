package main

import (
	"github.com/spf13/cobra"

	"github.com/rflorenc/treeops/internal/cleanup"
	"github.com/rflorenc/treeops/internal/platform"
)

type deleteFlags struct {
	kind        string
	match       string
	exact       bool
	all         bool
	strictNames bool
	dryRun      bool
}

func (f *deleteFlags) register(cmd *cobra.Command, withDryRun bool) {
	cmd.Flags().StringVar(&f.kind, "kind", "", "Resource kind: projects or environments")
	cmd.Flags().StringVar(&f.match, "match", "", "Name filter; every matching resource and its descendants are selected")
	cmd.Flags().BoolVar(&f.exact, "exact", false, "Match names exactly instead of by substring")
	cmd.Flags().BoolVar(&f.all, "all", false, "Select every resource of the kind; --match is then not used")
	cmd.Flags().BoolVar(&f.strictNames, "strict-names", false, "Fail when two resources share a name")
	if withDryRun {
		cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Print the deletion plan without deleting anything")
	}
}

func (f *deleteFlags) options(pageSize int) (cleanup.Options, error) {
	if f.kind == "" {
		return cleanup.Options{}, usageErrorf("--kind is required")
	}
	kind, err := platform.KindByName(f.kind)
	if err != nil {
		return cleanup.Options{}, &usageError{err: err}
	}
	switch {
	case f.all && f.match != "":
		return cleanup.Options{}, usageErrorf("--all and --match are mutually exclusive")
	case !f.all && f.match == "":
		return cleanup.Options{}, usageErrorf("--match is required and must not be empty")
	}
	return cleanup.Options{
		Kind:        kind,
		Filter:      f.match,
		Exact:       f.exact,
		All:         f.all,
		StrictNames: f.strictNames,
		DryRun:      f.dryRun,
		PageSize:    pageSize,
	}, nil
}

func newDeleteTreeCmd(a *app) *cobra.Command {
	f := &deleteFlags{}
	cmd := &cobra.Command{
		Use:   "delete-tree",
		Short: "Delete every matching resource together with its descendants",
		Long: "Deletes all projects or environments whose name matches --match, along with every\n" +
			"descendant, deepest first. Each deletion is confirmed before the next one starts.\n" +
			"--all selects every resource of the kind. The default environment is never deleted.",
		Example: "  treeops delete-tree --kind environments --match ci-\n" +
			"  treeops delete-tree --kind projects --all --dry-run\n" +
			"  treeops delete-tree --kind projects --match legacy --exact --dry-run",
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDelete(cmd, f)
		},
	}
	f.register(cmd, true)
	return cmd
}

func newPlanCmd(a *app) *cobra.Command {
	f := &deleteFlags{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the deletion plan for a filter without changing anything",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.dryRun = true
			return a.runDelete(cmd, f)
		},
	}
	f.register(cmd, false)
	return cmd
}

func (a *app) runDelete(cmd *cobra.Command, f *deleteFlags) error {
	opts, err := f.options(a.cfg.PageSize)
	if err != nil {
		return err
	}
	if err := a.setup(nil); err != nil {
		return err
	}
	d := cleanup.NewDeleter(a.client, a.exec, a.waiter, a.logger)
	res, err := d.Run(cmd.Context(), opts, a.printer())
	if err != nil {
		a.logger.Error("delete-tree failed", "kind", opts.Kind.Name, "match", opts.Filter, "error", err)
		return err
	}
	if len(res.Unconfirmed) > 0 {
		a.logger.Warn("some deletions were not confirmed", "names", res.Unconfirmed)
	}
	a.logger.Info("delete-tree finished", "kind", opts.Kind.Name, "match", opts.Filter,
		"planned", len(res.Plan), "deleted", len(res.Deleted), "dry_run", res.DryRun)
	return nil
}
