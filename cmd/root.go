// =============================================================================
// Tally Sync - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. Every other command
// is attached to it.
//
// COBRA CLI STRUCTURE:
//   rootCmd (tallysync)
//   ├── syncCmd    (tallysync sync)
//   ├── serveCmd   (tallysync serve)
//   ├── tablesCmd  (tallysync tables list|validate|request|ddl)
//   ├── cursorCmd  (tallysync cursor)
//   └── versionCmd (tallysync version)
//
// CONFIGURATION:
//   The root command's PersistentPreRunE loads config.yaml and the table
//   catalogue and sets up logging before any subcommand runs.
//
// =============================================================================

package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/tally-sync/internal/config"
	"github.com/ginjaninja78/tally-sync/internal/logging"
	"github.com/ginjaninja78/tally-sync/internal/validation"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the main configuration file.
var cfgFile string

// tablesFile overrides sync.tables_file from the configuration.
var tablesFile string

// verbose forces debug logging.
var verbose bool

// app is populated by loadApp before any subcommand runs.
var app *appContext

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "tallysync",
	Short: "Tally Sync - Export accounting data from Tally into SQL",
	Long: `Tally Sync exports master and transaction data from a Tally accounting
server over its XML interface and upserts it into SQLite or MySQL, keyed by
company, division and guid.

Key Features:
  - Table catalogue in YAML or an XLSX workbook
  - Incremental sync driven by the source's change ids
  - Batched, retried, tenant-scoped upserts
  - HTTP API for triggering syncs and reading results

Example Usage:
  tallysync sync                          # Sync every configured table
  tallysync sync --mode full --tables ledgers
  tallysync serve                         # Start the HTTP API
  tallysync tables validate               # Check the table catalogue`,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadApp()
	},

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"config.yaml",
		"Path to the main configuration file",
	)
	rootCmd.PersistentFlags().StringVar(
		&tablesFile,
		"tables-file",
		"",
		"Table catalogue (.yaml or .xlsx), overrides sync.tables_file",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable debug logging",
	)
}

// loadApp reads the configuration and the table catalogue and initializes
// logging. A missing default config.yaml is tolerated so that environment
// variables alone can drive the tool.
func loadApp() error {
	path := cfgFile
	if path == "config.yaml" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}

	cfg, err := config.LoadMainConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load main config: %w", err)
	}
	if tablesFile != "" {
		cfg.Sync.TablesFile = tablesFile
	}

	level := logging.ParseLevel(cfg.LogLevel)
	if verbose {
		level = slog.LevelDebug
	}
	logger := logging.Init(cfg.LogFormat, level)

	tables, result, err := config.LoadTables(cfg.Sync.TablesFile)
	if err != nil {
		if result != nil {
			fmt.Fprint(os.Stderr, validation.FormatErrors(result.Errors))
		}
		return err
	}
	for _, w := range result.Warnings() {
		logger.Warn("table catalogue", "problem", w.Error())
	}
	logger.Debug("configuration loaded", "config", path, "tables_file", cfg.Sync.TablesFile, "tables", len(tables))

	app = &appContext{cfg: cfg, logger: logger, tables: tables}
	return nil
}
