package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/kozaktomas/photo-annotator/internal/constants"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Find items by a natural-language description",
	Long: `Rank catalog items by similarity between the query text and their image
embeddings. Items below the similarity floor are not returned.

Examples:
  photo-annotator search "dog on a beach at sunset"
  photo-annotator search --limit 10 --json "snowy mountains"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().Int("limit", constants.DefaultSearchLimit, "Maximum number of results")
	searchCmd.Flags().Bool("json", false, "Output as JSON")
}

// SearchHit is one ranked item in the command output.
type SearchHit struct {
	ItemID int64   `json:"item_id"`
	Path   string  `json:"path"`
	Score  float64 `json:"score"`
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return fmt.Errorf("query is empty")
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	results, err := a.index.Search(ctx, query, mustGetInt(cmd, "limit"))
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.ItemID
	}
	summaries, err := a.items.ItemsByID(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load items: %w", err)
	}
	paths := make(map[int64]string, len(summaries))
	for _, s := range summaries {
		paths[s.ID] = s.Path
	}

	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		path, ok := paths[r.ItemID]
		if !ok {
			continue
		}
		hits = append(hits, SearchHit{ItemID: r.ItemID, Path: path, Score: r.Score})
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(hits)
	}

	if len(hits) == 0 {
		fmt.Println("No matching items.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCORE\tPATH")
	fmt.Fprintln(w, "--\t-----\t----")
	for _, h := range hits {
		fmt.Fprintf(w, "%d\t%.4f\t%s\n", h.ItemID, h.Score, h.Path)
	}
	return w.Flush()
}
