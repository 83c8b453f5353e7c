package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/kozaktomas/photo-annotator/internal/database"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show catalog counters and pending work",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	stats, err := a.catalog.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to load stats: %w", err)
	}
	printStats(stats)
	return nil
}

func printStats(s *database.CatalogStats) {
	fmt.Printf("Items:       %d (%d with embeddings)\n", s.Items, s.WithEmbeddings)
	fmt.Printf("Identities:  %d\n", s.Identities)
	fmt.Printf("Detections:  %d\n", s.Detections)

	sources := make([]string, 0, len(s.TagsBySource))
	for src := range s.TagsBySource {
		sources = append(sources, string(src))
	}
	sort.Strings(sources)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nTAG SOURCE\tCOUNT")
	for _, src := range sources {
		fmt.Fprintf(w, "%s\t%d\n", src, s.TagsBySource[database.TagSource(src)])
	}
	fmt.Fprintln(w, "\nSTAGE\tPENDING")
	for _, stage := range database.AnnotationStages {
		fmt.Fprintf(w, "%s\t%d\n", stage, s.Pending[stage])
	}
	w.Flush()
}
