package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rflorenc/treeops/internal/migration"
	"github.com/rflorenc/treeops/internal/models"
	"github.com/rflorenc/treeops/internal/platform"
)

func newMoveCmd(a *app) *cobra.Command {
	var (
		opts migration.MoveOptions
		yes  bool
	)
	cmd := &cobra.Command{
		Use:   "move",
		Short: "Re-parent an environment by copying its overrides into a new environment",
		Long: "Creates --target under --parent (or adopts it if it already exists there) and copies\n" +
			"every value that --source overrides into it. Values already present on the target\n" +
			"are never overwritten. With --delete-original the source is deleted afterwards, and\n" +
			"with --rename the target then takes the source's name.",
		Example: "  treeops move --source staging --target staging-v2 --parent production --dry-run\n" +
			"  treeops move --source staging --target staging-v2 --parent production --delete-original --rename",
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Validate(); err != nil {
				return &usageError{err: err}
			}
			opts.Adopt = a.adoptDecision(yes)
			if err := a.setup(nil); err != nil {
				return err
			}
			mover := migration.NewMover(a.client, a.exec, a.waiter, a.logger, a.metrics)
			res, err := mover.Run(cmd.Context(), opts, a.printer())
			if err != nil {
				a.logger.Error("move aborted", "source", opts.Source, "target", opts.Target,
					"state", res.State, "target_id", res.TargetID, "error", err)
				return err
			}
			a.logger.Info("move completed", "source", opts.Source, "target", opts.Target,
				"created", res.Created, "adopted", res.Adopted,
				"written", res.Summary.Writes, "deleted_original", res.DeletedOriginal, "renamed", res.Renamed)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&opts.Source, "source", "", "Environment whose overrides are moved")
	fl.StringVar(&opts.Target, "target", "", "Environment to create or adopt")
	fl.StringVar(&opts.Parent, "parent", "", "New parent environment of the target")
	fl.BoolVar(&opts.DryRun, "dry-run", false, "Report what would change without mutating anything")
	fl.BoolVar(&yes, "yes", false, "Adopt an existing target without asking")
	fl.StringVar(&opts.SnapshotFile, "snapshot", "", "Use a previously saved snapshot file instead of requesting one")
	fl.StringVar(&opts.SaveSnapshot, "save-snapshot", "", "Keep a copy of the requested snapshot at this path")
	fl.BoolVar(&opts.DeleteOriginal, "delete-original", false, "Delete the source after a clean reconcile")
	fl.BoolVar(&opts.Rename, "rename", false, "Rename the target to the source name (requires --delete-original)")
	return cmd
}

// adoptDecision picks how an existing target is handled: --yes adopts, an
// interactive stdin is asked, anything else refuses.
func (a *app) adoptDecision(yes bool) migration.AdoptDecision {
	switch {
	case yes:
		return migration.AlwaysAdopt
	case a.isTerminal():
		return a.promptAdopt
	default:
		return migration.FailClosed
	}
}

func (a *app) promptAdopt(ctx context.Context, target models.Resource) (bool, error) {
	fmt.Fprintf(a.stdout, "Environment %q already exists (id=%s, parent=%s). Adopt it? [y/N] ",
		target.Name(), target.ID(), models.RefID(target.String(platform.Environments.ParentField)))

	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(a.stdin).ReadString('\n')
		answer <- line
	}()
	select {
	case <-ctx.Done():
		fmt.Fprintln(a.stdout)
		return false, ctx.Err()
	case line := <-answer:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}
