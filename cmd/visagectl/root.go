package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/your-org/visage/internal/app"
	"github.com/your-org/visage/internal/config"
	"github.com/your-org/visage/internal/observability"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "visagectl",
	Short: "Operate a visage identity store",
	Long: `visagectl manages the visage record store from the command line: schema
migrations, statistics, name lookups, photo removal, distance calibration
and index recall checks.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "path to config file")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	observability.SetupLogger("warn", "text")
	return cfg, nil
}

func openBackend(ctx context.Context) (*config.Config, *app.Backend, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	b, err := app.OpenBackend(ctx, cfg, false)
	if err != nil {
		return nil, nil, err
	}
	return cfg, b, nil
}

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}
