package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/stevehiehn/stepwise/internal/artifact"
	"github.com/stevehiehn/stepwise/internal/engine"
	"github.com/stevehiehn/stepwise/internal/plan"
	"github.com/stevehiehn/stepwise/internal/session"
)

// execFlags are shared by run and validate.
type execFlags struct {
	inputs      []string
	evaluator   string
	families    []string
	maxSteps    int
	stopOnError bool
	strict      bool
	outDir      string
}

func (f *execFlags) bind(cmd *cobra.Command, stopDefault bool) {
	cmd.Flags().StringArrayVar(&f.inputs, "set", nil, "Input values (key=value)")
	cmd.Flags().StringVar(&f.evaluator, "evaluator", "", "Guard evaluator for string when: expressions (expr, jq, lua)")
	cmd.Flags().StringSliceVar(&f.families, "families", nil, "Operation families to register (default all)")
	cmd.Flags().IntVar(&f.maxSteps, "max-steps", 0, "Only consider the first n steps")
	cmd.Flags().BoolVar(&f.stopOnError, "stop-on-error", stopDefault, "Stop at the first failing step")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "Reject documents naming unregistered operations")
	cmd.Flags().StringVar(&f.outDir, "out-dir", "", "Write run artifacts under <dir>/runs/<run_id>")
}

func (f *execFlags) options(cmd *cobra.Command) (session.Options, error) {
	reg, err := registryFor(f.families)
	if err != nil {
		return session.Options{}, err
	}
	inputs, err := parseInputs(f.inputs)
	if err != nil {
		return session.Options{}, err
	}
	opts := session.Options{
		Registry:  reg,
		Evaluator: f.evaluator,
		Inputs:    inputs,
		MaxSteps:  f.maxSteps,
		Strict:    f.strict,
		Logger:    logger(),
	}
	if cmd.Flags().Changed("stop-on-error") {
		stop := f.stopOnError
		opts.StopOnError = &stop
	}
	return opts, nil
}

func (f *execFlags) execute(cmd *cobra.Command, path string, validateOnly bool) error {
	doc, err := plan.LoadFile(path)
	if err != nil {
		return err
	}
	opts, err := f.options(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	run := session.Run
	if validateOnly {
		run = session.Validate
	}
	res, runErr := run(ctx, doc, opts)
	if res == nil {
		return runErr
	}

	if f.outDir != "" {
		store, err := artifact.Export(f.outDir, res.Context, res.Report)
		if err != nil {
			return fmt.Errorf("export artifacts: %w", err)
		}
		if !jsonOutput {
			fmt.Printf("Artifacts: %s\n", store.BaseDir)
		}
	}

	if jsonOutput {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		report(res, validateOnly)
	}
	if runErr != nil {
		return runErr
	}
	if !res.Report.OK {
		os.Exit(1)
	}
	return nil
}

func report(res *session.Result, validateOnly bool) {
	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	printSteps(os.Stdout, res.Steps)
	if h, ok := res.Scratch[engine.HistoryKey].(*engine.History); ok && len(h.Rows) > 0 {
		fmt.Println()
		printHistory(os.Stdout, h)
	}
	verb := "run"
	if validateOnly {
		verb = "validation"
	}
	if res.Report.OK {
		fmt.Printf("Pipeline %q %s ok: %d steps in %.3fs.\n", res.Pipeline, verb, res.Report.NSteps, res.Report.TotalSec)
	} else {
		fmt.Printf("Pipeline %q %s failed with %d error(s).\n", res.Pipeline, verb, len(res.Report.Errors))
		for _, e := range res.Report.Errors {
			fmt.Printf("  Error: %s\n", e.Error())
			if e.Hint != "" {
				fmt.Printf("  Hint: %s\n", e.Hint)
			}
		}
	}
	fmt.Printf("Run ID: %s\n", res.Report.RunID)
}

var runFlags execFlags

var runCmd = &cobra.Command{
	Use:   "run <pipeline.yaml|pipeline.cue>",
	Short: "Execute a pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFlags.execute(cmd, args[0], false)
	},
}

func init() {
	runFlags.bind(runCmd, false)
	rootCmd.AddCommand(runCmd)
}
