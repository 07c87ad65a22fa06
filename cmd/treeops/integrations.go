package main

import (
	"github.com/spf13/cobra"

	"github.com/rflorenc/treeops/internal/integrations"
)

func newDeleteIntegrationsCmd(a *app) *cobra.Command {
	var opts integrations.Options
	cmd := &cobra.Command{
		Use:   "delete-integrations",
		Short: "Delete integrations together with their pushes and pulls",
		Long: "Deletes every AWS, Azure Key Vault and GitHub integration, or only those of --service.\n" +
			"Integrations that still have pushes or pulls are refused unless --force is given, in\n" +
			"which case their actions are deleted first.",
		Example: "  treeops delete-integrations --dry-run\n" +
			"  treeops delete-integrations --service aws --force",
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Service != "" {
				if _, err := integrations.ServiceByName(opts.Service); err != nil {
					return &usageError{err: err}
				}
			}
			opts.PageSize = a.cfg.PageSize
			if err := a.setup(nil); err != nil {
				return err
			}
			r := integrations.NewRemover(a.client, a.exec, a.waiter, a.logger)
			res, err := r.Run(cmd.Context(), opts, a.printer())
			if err != nil {
				a.logger.Error("delete-integrations failed", "service", opts.Service, "error", err)
				return err
			}
			a.logger.Info("delete-integrations finished", "service", opts.Service, "planned", len(res.Plan),
				"deleted", len(res.Deleted), "actions", len(res.DeletedActions), "dry_run", res.DryRun)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.Service, "service", "s", "", "Only this service: aws, azure or github")
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "Also delete the integrations' pushes and pulls")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "List what would be deleted")
	return cmd
}
