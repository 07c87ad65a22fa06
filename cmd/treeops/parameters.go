package main

import (
	"github.com/spf13/cobra"

	"github.com/rflorenc/treeops/internal/cleanup"
)

func newDeleteParametersCmd(a *app) *cobra.Command {
	var opts cleanup.ParameterOptions
	cmd := &cobra.Command{
		Use:   "delete-parameters",
		Short: "Delete matching parameters from one or every project",
		Long: "Deletes the parameters whose name matches --match from --project, or from every\n" +
			"project when --project is empty. A parameter is only deleted from the project that\n" +
			"defines it.",
		Example: "  treeops delete-parameters --match param-testing_\n" +
			"  treeops delete-parameters --project web --all --dry-run",
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case opts.All && opts.Filter != "":
				return usageErrorf("--all and --match are mutually exclusive")
			case !opts.All && opts.Filter == "":
				return usageErrorf("--match is required and must not be empty")
			}
			opts.PageSize = a.cfg.PageSize
			if err := a.setup(nil); err != nil {
				return err
			}
			d := cleanup.NewDeleter(a.client, a.exec, a.waiter, a.logger)
			res, err := d.RunParameters(cmd.Context(), opts, a.printer())
			if err != nil {
				a.logger.Error("delete-parameters failed", "project", opts.Project, "match", opts.Filter, "error", err)
				return err
			}
			a.logger.Info("delete-parameters finished", "project", opts.Project, "match", opts.Filter,
				"planned", len(res.Plan), "deleted", len(res.Deleted), "dry_run", res.DryRun)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Project, "project", "", "Only delete parameters of this project")
	cmd.Flags().StringVar(&opts.Filter, "match", "", "Name filter")
	cmd.Flags().BoolVar(&opts.Exact, "exact", false, "Match names exactly instead of by substring")
	cmd.Flags().BoolVar(&opts.All, "all", false, "Select every parameter; --match is then not used")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Print the deletion plan without deleting anything")
	return cmd
}
