package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/k7/internal/loadtest/engine"
	"github.com/wesleyorama2/k7/internal/loadtest/metrics"
	"github.com/wesleyorama2/k7/internal/loadtest/output"
)

type runOptions struct {
	*rootOptions
	params        paramFlags
	quiet         bool
	summaryExport string
	metricsAddr   string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run a load test",
		Long: `Run the load test defined in a YAML or JSON file.

Parameters referenced as ${NAME} in the file are set with -e:
  k7 run examples/backend-maxrps.yaml -e VUS=300 -e BASE_URL=http://localhost:3000

VUS, RAMPUP and DURATION also have shortcut flags:
  k7 run examples/backend-maxrps.yaml --vus 300 --rampup 10s --duration 2m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}

	opts.params.register(cmd, true)
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Disable live progress output, print only the verdict")
	cmd.Flags().StringVar(&opts.summaryExport, "summary-export", "", "Write the end-of-test summary as JSON to this file")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run (e.g. :9090)")
	return cmd
}

// runTest executes one test and maps its outcome to an error carrying
// the exit code.
func runTest(ctx context.Context, out io.Writer, path string, opts *runOptions) error {
	params, err := opts.params.params()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(path, params)
	if err != nil {
		return err
	}

	logger, err := newLogger(opts.logFormat, opts.verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	engineOpts := []engine.Option{engine.WithLogger(logger)}
	if opts.metricsAddr != "" {
		sink := metrics.NewPrometheusSink()
		srv, err := serveMetrics(opts.metricsAddr, sink.Handler(), logger)
		if err != nil {
			return err
		}
		defer shutdownMetrics(srv, logger)
		engineOpts = append(engineOpts, engine.WithSink(sink))
	}

	eng, err := engine.NewEngine(cfg, engineOpts...)
	if err != nil {
		return err
	}

	console := output.NewConsole(output.Config{Writer: out, Quiet: opts.quiet})
	console.PrintHeader(cfg.Name, eng.Plan())

	watchCtx, stopWatch := context.WithCancel(ctx)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		console.Watch(watchCtx, func() *output.LiveStats {
			return output.StatsFromEngine(eng)
		})
	}()

	result, runErr := eng.Run(ctx)
	stopWatch()
	<-watchDone

	if result != nil {
		console.PrintSummary(result)
		if opts.summaryExport != "" {
			if err := output.ExportSummary(opts.summaryExport, result); err != nil {
				logger.Error("summary export failed", zap.String("path", opts.summaryExport), zap.Error(err))
				if runErr == nil {
					runErr = err
				}
			}
		}
	}

	switch {
	case runErr != nil:
		return runErr
	case !result.Passed:
		return errThresholdsFailed
	case result.Error != nil:
		return fmt.Errorf("test interrupted: %w", result.Error)
	default:
		return nil
	}
}
