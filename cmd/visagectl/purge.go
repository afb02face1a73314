package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/your-org/visage/internal/storage"
)

var purgeCmd = &cobra.Command{
	Use:   "purge-captures",
	Short: "Remove staged capture images that no worker picked up",
	Args:  cobra.NoArgs,
	RunE:  runPurge,
}

func init() {
	rootCmd.AddCommand(purgeCmd)
	purgeCmd.Flags().Duration("older-than", time.Hour, "Minimum age of staged images to remove")
}

func runPurge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		return err
	}

	n, err := store.PurgeCaptures(context.Background(), mustGetDuration(cmd, "older-than"))
	if err != nil {
		return err
	}
	fmt.Printf("removed %d staged captures\n", n)
	return nil
}
