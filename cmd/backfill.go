package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kozaktomas/photo-annotator/internal/pipeline"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Compute missing item embeddings",
	Long: `Compute the image embedding of every analysable item that has none yet.
Embeddings are what natural-language search ranks against, so items
tagged by an LLM tagger are only searchable after a backfill.`,
	RunE: runBackfill,
}

func init() {
	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	return runBackfillWith(ctx, a)
}

func runBackfillWith(ctx context.Context, a *app) error {
	// The number of items without an embedding is not known up front.
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("Backfilling embeddings"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("items"),
		progressbar.OptionShowElapsedTimeOnFinish(),
	)
	res, err := a.service.Backfill(ctx, func(r pipeline.BackfillResult) {
		_ = bar.Set(r.Attempted)
	})
	_ = bar.Finish()
	fmt.Println()
	if errors.Is(err, context.Canceled) {
		fmt.Printf("Interrupted after %d stored embeddings.\n", res.Stored)
		return nil
	}
	if err != nil {
		return fmt.Errorf("backfill failed: %w", err)
	}
	fmt.Printf("Backfill done: %d attempted, %d stored, %d failed\n", res.Attempted, res.Stored, res.Failed)
	return nil
}
