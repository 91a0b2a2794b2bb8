// Package cli implements the k7 command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

type rootOptions struct {
	verbose   bool
	logFormat string
}

// NewRootCmd builds the k7 command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:     "k7",
		Short:   "Virtual-user load testing",
		Version: version,
		Long: `k7 runs load tests described in YAML or JSON. Each scenario is driven by
an executor that schedules virtual users or iteration arrivals, metrics are
aggregated per tag set, and thresholds decide whether the run passed.

Exit codes: 0 passed, 99 thresholds failed or test aborted,
104 invalid configuration, 107 setup failed, 1 any other error.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "console", "Log format: console or json")

	cmd.AddCommand(
		newRunCmd(opts),
		newPlanCmd(opts),
		newValidateCmd(opts),
		newBreakpointCmd(opts),
	)
	return cmd
}

// Execute runs the command line and returns the process exit code.
// This is called by main.main().
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil && !errors.Is(err, errThresholdsFailed) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return ExitCode(err)
}
