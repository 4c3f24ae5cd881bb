package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stevehiehn/stepwise/internal/plan"
	"github.com/stevehiehn/stepwise/internal/session"
)

var (
	explainInputs   []string
	explainFamilies []string
)

var explainCmd = &cobra.Command{
	Use:   "explain <pipeline.yaml|pipeline.cue>",
	Short: "Show resolved pipeline steps without executing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := plan.LoadFile(args[0])
		if err != nil {
			return err
		}
		reg, err := registryFor(explainFamilies)
		if err != nil {
			return err
		}
		inputs, err := parseInputs(explainInputs)
		if err != nil {
			return err
		}
		ex, err := session.Explain(doc, session.Options{Registry: reg, Inputs: inputs})
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(ex)
		}

		fmt.Printf("Pipeline: %s\n", ex.Pipeline)
		if ex.Description != "" {
			fmt.Printf("  %s\n", ex.Description)
		}
		fmt.Println()
		for _, s := range ex.Steps {
			fmt.Printf("Step %d: %s (%s)\n", s.Index, s.ID, s.Name)
			op := s.Op
			if s.Target != "" {
				op += " -> " + s.Target
			}
			if !s.Known {
				op += " [unregistered]"
			}
			fmt.Printf("  Op: %s\n", op)
			if s.When != "" {
				fmt.Printf("  When: %s\n", s.When)
			}
			for k, v := range s.Args {
				fmt.Printf("  %s: %v\n", k, v)
			}
			fmt.Println()
		}
		for _, w := range ex.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
		return nil
	},
}

func init() {
	explainCmd.Flags().StringArrayVar(&explainInputs, "set", nil, "Input values (key=value)")
	explainCmd.Flags().StringSliceVar(&explainFamilies, "families", nil, "Operation families to register (default all)")
	rootCmd.AddCommand(explainCmd)
}
