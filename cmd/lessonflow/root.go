package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/lessonflow/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "lessonflow",
	Short: "Lessonflow runs lesson-building workflows",
	Long: `Lessonflow executes workflow graphs of AI, messaging, export and lesson
nodes. Workflows can be run once from a file, served over HTTP with a cron
scheduler, or exposed to MCP clients over stdio.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "settings file (default ~/.lessonflow/settings.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "override the configured log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().String("db", "", "override the configured database path")
}

// loadConfig reads the settings file named by --config and applies the
// persistent flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.DBPath = db
	}
	return cfg, nil
}
