package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/rank-engine/ranking"
	"github.com/warp/rank-engine/reconcile"
	"github.com/warp/rank-engine/store/sqlite"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	UserID string
	Force  bool
}

// NewReconcileCommand rebuilds ledger rows from completion history and
// re-evaluates ranks, either for one user or for everyone.
func NewReconcileCommand(root *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild ledger rows from completion history and re-evaluate ranks",
		Long: "reconcile replays recorded quiz completions into monthly ledger rows.\n" +
			"By default it only fills gaps for users with no ledger rows; --force\n" +
			"deletes and rebuilds every targeted user's rows from scratch.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.UserID, "user", "", "Reconcile a single user (default: all users)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Delete and rebuild ledger rows even when present")

	return cmd
}

func runReconcile(cmd *cobra.Command, root *RootOptions, opts *ReconcileOptions) error {
	store, err := sqlite.New(root.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	job := reconcile.NewJob(store, ranking.LogNotifier{})

	jobOpts := reconcile.Options{
		UserID: ranking.UserID(opts.UserID),
		Policy: reconcile.SkipIfPresent,
	}
	if opts.Force {
		jobOpts.Policy = reconcile.ForceRebuild
	}

	report, err := job.Run(cmd.Context(), jobOpts)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), report.String())
	return nil
}
