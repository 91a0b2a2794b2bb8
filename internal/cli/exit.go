package cli

import (
	"errors"

	"github.com/wesleyorama2/k7/internal/breakpoint"
	"github.com/wesleyorama2/k7/internal/loadtest"
)

// Process exit codes.
const (
	ExitOK               = 0
	ExitFailure          = 1
	ExitThresholdsFailed = 99
	ExitConfigError      = 104
	ExitSetupError       = 107
)

// errThresholdsFailed is returned after the summary has already reported
// the failed thresholds.
var errThresholdsFailed = errors.New("thresholds failed")

// ExitCode maps an error returned by a command to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		cfgErr    *loadtest.ConfigurationError
		setupErr  *loadtest.SetupError
		violation *loadtest.ThresholdViolation
	)
	switch {
	case errors.As(err, &setupErr):
		return ExitSetupError
	case errors.As(err, &cfgErr):
		return ExitConfigError
	case errors.Is(err, errThresholdsFailed),
		errors.Is(err, breakpoint.ErrNoStableLoad),
		errors.As(err, &violation):
		return ExitThresholdsFailed
	default:
		return ExitFailure
	}
}
