package main

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/praemienvergleich/api/internal/platform/dataset"
	"github.com/praemienvergleich/api/internal/platform/logging"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	verbose  bool
	dataDir  string
	dataURL  string
	jsonMode bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "praemien",
	Short: "Swiss health insurance premium comparison tools",
	Long: `praemien works on the same tariff data and lead store as the API server.

It resolves postal codes, runs a premium comparison for a household, and
inspects stored leads.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load(".env.local", ".env")
		decimal.MarshalJSONWithoutQuotes = true

		level := "warn"
		if verbose {
			level = "debug"
		}
		var err error
		logger, err = logging.New(level)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", envOr("TARIFF_DATA_DIR", "./data"), "Directory with regions.json and tariffs/")
	rootCmd.PersistentFlags().StringVar(&dataURL, "data-url", os.Getenv("TARIFF_DATA_URL"), "Base URL of the tariff data (overrides --data)")
	rootCmd.PersistentFlags().BoolVar(&jsonMode, "json", false, "Print JSON instead of a table")

	rootCmd.AddCommand(compareCmd, regionsCmd, leadsCmd)
	leadsCmd.AddCommand(leadsGetCmd, leadsListCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func source() dataset.Source {
	return dataset.New(dataDir, dataURL)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
