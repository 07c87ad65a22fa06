package main

import (
	"github.com/spf13/cobra"

	"github.com/rflorenc/treeops/internal/populate"
)

func newPopulateCmd(a *app) *cobra.Command {
	var opts populate.Options
	cmd := &cobra.Command{
		Use:   "populate",
		Short: "Create nested test projects, environments and parameters",
		Long: "Creates uniquely named projects (" + populate.ProjectPrefix + "*), environments\n" +
			"(" + populate.EnvironmentPrefix + "*) and parameters (" + populate.ParameterPrefix + "*).\n" +
			"--levels adds generations below the first one; every node of a generation gets the\n" +
			"same number of children. Remove them again with delete-tree --match.",
		Example: "  treeops populate --projects --project-count 3 --parameter-count 2\n" +
			"  treeops populate --environments --environment-root staging --levels 2",
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Validate(); err != nil {
				return &usageError{err: err}
			}
			if err := a.setup(nil); err != nil {
				return err
			}
			p := populate.New(a.client, a.exec, a.waiter, a.logger)
			res, err := p.Run(cmd.Context(), opts, a.printer())
			if err != nil {
				a.logger.Error("populate failed", "error", err)
				return err
			}
			a.logger.Info("populate finished", "projects", len(res.Projects), "environments", len(res.Environments),
				"parameters", len(res.Parameters), "dry_run", res.DryRun)
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.Projects, "projects", false, "Create projects")
	f.BoolVar(&opts.Environments, "environments", false, "Create environments")
	f.IntVar(&opts.ProjectCount, "project-count", 2, "Projects per parent")
	f.IntVar(&opts.EnvironmentCount, "environment-count", 2, "Environments per parent")
	f.IntVar(&opts.ParameterCount, "parameter-count", 0, "Parameters in every new project")
	f.IntVar(&opts.Levels, "levels", 0, "Extra generations to nest")
	f.StringVar(&opts.ProjectRoot, "project-root", "", "Parent of the first generation of projects")
	f.StringVar(&opts.EnvironmentRoot, "environment-root", "default", "Parent of the first generation of environments")
	f.BoolVar(&opts.DryRun, "dry-run", false, "Print what would be created")
	return cmd
}
