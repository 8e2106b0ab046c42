// Package commands implements the docingest CLI.
package commands

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/spherical/doc-ingest/cmd/docingest/ui"
	"github.com/spherical/doc-ingest/internal/config"
	"github.com/spherical/doc-ingest/internal/observability"
	"github.com/spherical/doc-ingest/internal/startup"
)

const version = "0.1.0"

var (
	cfgFile string
	verbose bool
	noColor bool

	cfg    *config.Config
	logger *observability.Logger
)

var rootCmd = &cobra.Command{
	Use:   "docingest",
	Short: "Document ingestion - classify PDF pages and extract their text",
	Long: `docingest renders each PDF page, separates diagram pages from prose pages
by comparing them with reference diagrams, extracts text with the engine suited
to each page and writes one combined text document.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load() // Ignore error if .env doesn't exist

		loaded, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded

		ui.Init(noColor)
		logger = startup.NewLogger(cfg, verbose)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
