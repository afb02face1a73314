package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show record counts",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	s, err := b.Store.Stats(ctx)
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(s)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "photos\t%d\n", s.Photos)
	fmt.Fprintf(w, "faces\t%d\n", s.Faces)
	fmt.Fprintf(w, "embeddings\t%d\n", s.Embeddings)
	fmt.Fprintf(w, "identities\t%d\n", s.Identities)
	fmt.Fprintf(w, "transcripts\t%d\n", s.Transcripts)
	return w.Flush()
}
