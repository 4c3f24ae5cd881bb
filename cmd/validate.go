package cmd

import (
	"github.com/spf13/cobra"
)

var validateFlags execFlags

var validateCmd = &cobra.Command{
	Use:     "validate <pipeline.yaml|pipeline.cue>",
	Aliases: []string{"dry-run"},
	Short:   "Dry-run a pipeline: handlers check their arguments without side effects",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return validateFlags.execute(cmd, args[0], true)
	},
}

func init() {
	validateFlags.bind(validateCmd, true)
	rootCmd.AddCommand(validateCmd)
}
