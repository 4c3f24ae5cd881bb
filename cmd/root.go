package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	jsonOutput bool
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "stepwise",
	Short: "Declarative step pipeline runner",
	Long:  "stepwise: validate, explain and run YAML or CUE pipelines of named operations.",
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output raw JSON")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress step log lines")
}

// logger returns the stderr logger for step lines, or nil when quiet.
func logger() *slog.Logger {
	if quiet {
		return nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
