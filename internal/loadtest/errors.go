package loadtest

import (
	"errors"
	"fmt"

	khttp "github.com/wesleyorama2/k7/internal/http"
	"github.com/wesleyorama2/k7/internal/loadtest/threshold"
)

var (
	// ErrPoolClosed is returned when spawning into a closed pool.
	ErrPoolClosed = errors.New("vu pool closed")

	// ErrVUStopped is returned when a stopping VU is asked to iterate.
	ErrVUStopped = errors.New("vu stopped")
)

// RequestError is a transport failure of one request. It is recorded as a
// failed request and never stops the VU.
type RequestError = khttp.RequestError

// ThresholdViolation is the abort cause raised by an abortOnFail threshold.
type ThresholdViolation = threshold.Violation

// ConfigurationError reports an invalid test definition, detected before
// any VU is spawned.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// SetupError reports a failed setup exchange. It is fatal and not retried.
type SetupError struct {
	Status int
	Reason string
	Err    error
}

func (e *SetupError) Error() string {
	msg := "setup failed: " + e.Reason
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SetupError) Unwrap() error {
	return e.Err
}
