package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/kozaktomas/photo-annotator/internal/database"
	"github.com/kozaktomas/photo-annotator/internal/pipeline"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var annotateCmd = &cobra.Command{
	Use:   "annotate",
	Short: "Annotate every pending catalog item",
	Long: `Run the annotation pipeline until no item is pending.

Stages are processed round-robin in small batches: semantic tagging, object
detection and face identification. Every batch commits in its own
transaction, so an interrupted run resumes where it stopped.

Examples:
  # Annotate everything
  photo-annotator annotate

  # Only identify faces
  photo-annotator annotate --stage face

  # Show what is pending without processing anything
  photo-annotator annotate --dry-run`,
	RunE: runAnnotate,
}

func init() {
	rootCmd.AddCommand(annotateCmd)

	annotateCmd.Flags().StringSlice("stage", nil, "Limit the run to these stages (tag, detect, face)")
	annotateCmd.Flags().Bool("dry-run", false, "Print pending counts and exit")
	annotateCmd.Flags().Bool("backfill", false, "Compute missing item embeddings after annotating")
}

func parseStages(names []string) ([]database.Stage, error) {
	var stages []database.Stage
	for _, name := range names {
		stage := database.Stage(name)
		switch stage {
		case database.StageTag, database.StageDetect, database.StageFace:
			stages = append(stages, stage)
		default:
			return nil, fmt.Errorf("unknown stage %q", name)
		}
	}
	return stages, nil
}

func runAnnotate(cmd *cobra.Command, args []string) error {
	stages, err := parseStages(mustGetStringSlice(cmd, "stage"))
	if err != nil {
		return err
	}
	var runOpts []pipeline.OrchestratorOption
	if len(stages) > 0 {
		runOpts = append(runOpts, pipeline.WithStages(stages...))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, runOpts...)
	if err != nil {
		return err
	}
	defer a.close()

	if mustGetBool(cmd, "dry-run") {
		pending, err := a.service.Pending(ctx)
		if err != nil {
			return fmt.Errorf("failed to count pending items: %w", err)
		}
		printPending(pending)
		return nil
	}

	var bar *progressbar.ProgressBar
	summary, err := a.service.Annotate(ctx, func(p pipeline.Progress) {
		if bar == nil {
			bar = progressbar.NewOptions(p.TotalPending(),
				progressbar.OptionSetDescription("Annotating"),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("items"),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionFullWidth(),
			)
		}
		if total := p.Total(); total > bar.GetMax() {
			bar.ChangeMax(total)
		}
		_ = bar.Set(p.Total())
	})
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if errors.Is(err, context.Canceled) {
		fmt.Println("Interrupted, committed batches are kept.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("annotation failed: %w", err)
	}

	printSummary(summary)

	if mustGetBool(cmd, "backfill") {
		return runBackfillWith(ctx, a)
	}
	return nil
}

func printPending(pending map[database.Stage]int) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tPENDING")
	fmt.Fprintln(w, "-----\t-------")
	for _, stage := range database.AnnotationStages {
		if n, ok := pending[stage]; ok {
			fmt.Fprintf(w, "%s\t%d\n", stage, n)
		}
	}
	w.Flush()
}

func printSummary(s *pipeline.Summary) {
	if s == nil {
		return
	}
	fmt.Printf("Processed %d items in %d rounds (%s, %.1f items/s)\n\n",
		s.Total(), s.Round, s.Elapsed.Round(time.Millisecond), s.Rate)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tPROCESSED")
	fmt.Fprintln(w, "-----\t---------")
	for _, stage := range database.AnnotationStages {
		if n, ok := s.Processed[stage]; ok {
			fmt.Fprintf(w, "%s\t%d\n", stage, n)
		}
	}
	w.Flush()

	if s.Stats != nil {
		fmt.Println()
		printStats(s.Stats)
	}
}
