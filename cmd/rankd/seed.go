package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/rank-engine/ingest"
	"github.com/warp/rank-engine/ranking"
	"github.com/warp/rank-engine/store/sqlite"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	Demo bool
}

// NewSeedCommand loads the default rank table (and optionally demo data)
// into the database.
func NewSeedCommand(root *RootOptions) *cobra.Command {
	opts := &SeedOptions{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the default rank table into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, root, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Demo, "demo", false, "Also create demo users and sample completions")

	return cmd
}

func runSeed(cmd *cobra.Command, root *RootOptions, opts *SeedOptions) error {
	store, err := sqlite.New(root.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()

	if err := store.SaveRanks(ctx, ranking.DefaultRanks()); err != nil {
		return fmt.Errorf("seeding rank table: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d rank tiers\n", len(ranking.DefaultRanks()))

	if !opts.Demo {
		return nil
	}

	users := []ranking.User{
		{ID: "demo-ada", Name: "Ada"},
		{ID: "demo-blaise", Name: "Blaise"},
		{ID: "demo-kurt", Name: "Kurt"},
	}
	for _, u := range users {
		if err := store.InsertUser(ctx, u); err != nil {
			return fmt.Errorf("seeding user %s: %w", u.ID, err)
		}
	}

	// Sample completions spread across three recent months so reconcile and
	// the rank resolver have something interesting to chew on.
	ingestor := ingest.NewIngestor(store, ranking.LogNotifier{})
	now := time.Now().UTC()
	events := []ingest.QuizCompleted{
		{ID: "demo-q1", UserID: "demo-ada", BasePoints: 500, BonusPoints: 100, OccurredAt: now.AddDate(0, -2, 0)},
		{ID: "demo-q2", UserID: "demo-ada", BasePoints: 700, BonusPoints: 0, OccurredAt: now.AddDate(0, -1, 0)},
		{ID: "demo-q3", UserID: "demo-blaise", BasePoints: 300, BonusPoints: 50, OccurredAt: now.AddDate(0, -1, 0)},
		{ID: "demo-q4", UserID: "demo-kurt", BasePoints: 1200, BonusPoints: 300, OccurredAt: now},
	}
	for _, evt := range events {
		if _, err := ingestor.HandleCompletion(ctx, evt); err != nil {
			return fmt.Errorf("seeding completion %s: %w", evt.ID, err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d demo users and %d completions\n", len(users), len(events))
	return nil
}
