package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/your-org/visage/internal/identity"
)

var searchCmd = &cobra.Command{
	Use:   "search <name>",
	Short: "Find the most recently seen identity whose name contains the text",
	Long: `Case-insensitive substring search over identity names. When several
identities match, the one seen most recently wins.

Examples:
  visagectl search alice
  visagectl search "van der" --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().Bool("json", false, "Output as JSON")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	ident, err := identity.NewDirectory(b.Store).SearchByName(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(ident)
	}
	if ident == nil {
		fmt.Println("no identity matches")
		return nil
	}
	fmt.Printf("#%d %s\n", ident.ID, ident.Name)
	if ident.Context != "" {
		fmt.Printf("  context:    %s\n", ident.Context)
	}
	fmt.Printf("  times met:  %d\n", ident.TimesMet)
	fmt.Printf("  first seen: %s\n", ident.FirstSeenAt.Local().Format("2006-01-02 15:04"))
	fmt.Printf("  last seen:  %s\n", ident.LastSeenAt.Local().Format("2006-01-02 15:04"))
	return nil
}
