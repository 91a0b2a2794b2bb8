package cli

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/k7/internal/breakpoint"
	"github.com/wesleyorama2/k7/internal/loadtest"
	"github.com/wesleyorama2/k7/internal/loadtest/engine"
)

type breakpointOptions struct {
	*rootOptions
	params   paramFlags
	search   breakpoint.Config
	rampUp   time.Duration
	duration time.Duration
}

func newBreakpointCmd(root *rootOptions) *cobra.Command {
	opts := &breakpointOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "breakpoint <file>",
		Short: "Find the maximum stable VU count",
		Long: `Run the test repeatedly with VUS raised by --increment until it fails more
than --fails-allowed times in a row, then back off by half an increment and
require --validation-runs passing runs before reporting the result.

  k7 breakpoint examples/backend-maxrps.yaml --initial-vus 100 --increment 100`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := opts.params.params()
			if err != nil {
				return err
			}
			logger, err := newLogger(opts.logFormat, opts.verbose)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			out := cmd.OutOrStdout()
			pass := color.New(color.FgGreen, color.Bold)
			fail := color.New(color.FgRed, color.Bold)

			runner := breakpoint.EngineRunner(args[0], params, opts.rampUp, opts.duration, engine.WithLogger(logger))
			searcher, err := breakpoint.New(opts.search, runner,
				breakpoint.WithLogger(logger),
				breakpoint.WithRunFunc(func(r breakpoint.Run) {
					verdict := pass.Sprint("passed")
					if !r.Passed {
						verdict = fail.Sprint("failed")
					}
					fmt.Fprintf(out, "test #%d (%s) %d VUs: %s\n", r.Number, r.Phase, r.VUs, verdict)
				}),
			)
			if err != nil {
				return &loadtest.ConfigurationError{Err: err}
			}

			fmt.Fprintf(out, "finding the breakpoint of %s\n", args[0])
			result, err := searcher.Search(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "validated %s as the maximum stable VU count\n", pass.Sprint(result.MaxVUs))
			return nil
		},
	}

	opts.params.register(cmd, false)
	f := cmd.Flags()
	f.IntVar(&opts.search.InitialVUs, "initial-vus", 0, "Initial number of virtual users")
	f.IntVar(&opts.search.Increment, "increment", 0, "VUs added after each passing run")
	f.IntVar(&opts.search.ValidationRuns, "validation-runs", breakpoint.DefaultValidationRuns, "Passing runs required to validate the result")
	f.DurationVar(&opts.search.Delay, "delay", breakpoint.DefaultDelay, "Delay between runs")
	f.IntVar(&opts.search.FailsAllowed, "fails-allowed", breakpoint.DefaultFailsAllowed, "Consecutive failures allowed before backing off")
	f.DurationVar(&opts.rampUp, "rampup", breakpoint.DefaultRampUp, "Ramp-up time of each run (RAMPUP)")
	f.DurationVar(&opts.duration, "duration", breakpoint.DefaultDuration, "Steady-state duration of each run (DURATION)")
	_ = cmd.MarkFlagRequired("initial-vus")
	_ = cmd.MarkFlagRequired("increment")
	return cmd
}
