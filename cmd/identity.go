package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/kozaktomas/photo-annotator/internal/constants"
	"github.com/spf13/cobra"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Inspect and curate face identities",
}

var identityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List identities by number of detections",
	Args:  cobra.NoArgs,
	RunE:  runIdentityList,
}

var identityRenameCmd = &cobra.Command{
	Use:   "rename [identity-id] [name]",
	Short: "Set the display name of an identity",
	Long: `Set the display name of an identity. An empty name clears it.

Examples:
  photo-annotator identity rename 12 "Jana Nováková"
  photo-annotator identity rename 12 ""`,
	Args: cobra.ExactArgs(2),
	RunE: runIdentityRename,
}

var identityMergeCmd = &cobra.Command{
	Use:   "merge [target-id] [source-id...]",
	Short: "Merge identities into a target identity",
	Long: `Move every detection of the source identities to the target and delete
the sources. Source detections on items the target already appears in are
dropped.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runIdentityMerge,
}

func init() {
	rootCmd.AddCommand(identityCmd)
	identityCmd.AddCommand(identityListCmd, identityRenameCmd, identityMergeCmd)

	identityListCmd.Flags().Int("page", 1, "Page number")
	identityListCmd.Flags().Int("per-page", constants.DefaultIdentitiesPerPage, "Identities per page")
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, len(args))
	for i, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid identity id %q", arg)
		}
		ids[i] = id
	}
	return ids, nil
}

func runIdentityList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	page := max(mustGetInt(cmd, "page"), 1)
	perPage := min(max(mustGetInt(cmd, "per-page"), 1), constants.MaxIdentitiesPerPage)

	idents, total, err := a.identities.ListIdentities(ctx, page, perPage)
	if err != nil {
		return fmt.Errorf("failed to list identities: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDETECTIONS")
	fmt.Fprintln(w, "--\t----\t----------")
	for i := range idents {
		fmt.Fprintf(w, "%d\t%s\t%d\n", idents[i].ID, idents[i].Label(), idents[i].DetectionCount)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nPage %d, %d identities total\n", page, total)
	return nil
}

func runIdentityRename(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args[:1])
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var name *string
	if trimmed := strings.TrimSpace(args[1]); trimmed != "" {
		name = &trimmed
	}
	if err := a.identities.RenameIdentity(ctx, ids[0], name); err != nil {
		return fmt.Errorf("failed to rename identity %d: %w", ids[0], err)
	}

	ident, err := a.identities.GetIdentity(ctx, ids[0])
	if err != nil {
		return err
	}
	fmt.Printf("Identity %d is now %q\n", ident.ID, ident.Label())
	return nil
}

func runIdentityMerge(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.resolver.Merge(ctx, ids[1:], ids[0])
	if err != nil {
		return fmt.Errorf("merge failed: %w", err)
	}
	fmt.Printf("Merged %d identities into %d, which now has %d detections\n",
		res.MergedCount, res.TargetID, res.DetectionCount)
	return nil
}
