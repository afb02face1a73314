package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var forgetCmd = &cobra.Command{
	Use:   "forget <photo-id>",
	Short: "Delete a photo with its faces, embeddings and the identities created from it",
	Args:  cobra.ExactArgs(1),
	RunE:  runForget,
}

func init() {
	rootCmd.AddCommand(forgetCmd)
}

func runForget(cmd *cobra.Command, args []string) error {
	photoID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid photo id %q", args[0])
	}

	ctx := context.Background()
	_, b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	removed, err := b.Store.DeletePhoto(ctx, photoID)
	if err != nil {
		return err
	}
	fmt.Printf("deleted photo %d (%d embeddings)\n", photoID, len(removed))
	return nil
}
