package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the search index from the store",
	Long: `Rebuild the search index from every issue in the store.

Searches only see store writes once the index has been rebuilt.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return reindexRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(reindexCmd)
}

func reindexRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if dryRun {
		ui.DryRunMsg("Would rebuild the search index")
		return nil
	}

	e, err := getEngine(ctx)
	if err != nil {
		return err
	}
	start := time.Now()
	n, err := e.Reindex(ctx)
	if err != nil {
		return err
	}
	ui.Success("Indexed %d issues in %s", n, time.Since(start).Round(time.Millisecond))
	return nil
}
