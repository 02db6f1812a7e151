package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidDescriptor indicates a model descriptor that fails validation
	ErrInvalidDescriptor = errors.New("invalid model descriptor")

	// ErrUnknownModel indicates a built-in estimator name that is not registered
	ErrUnknownModel = errors.New("unknown model")

	// ErrEmptyHistory indicates training data without any usable target value
	ErrEmptyHistory = errors.New("training data has no observed target values")
)

// UnsupportedModeError indicates a model that cannot serve the requested mode.
type UnsupportedModeError struct {
	Model string
	Mode  Mode
}

func (e *UnsupportedModeError) Error() string {
	return fmt.Sprintf("model %q does not support mode %q", e.Model, e.Mode)
}

// ExternalProcessError reports a failed or crashed external model command.
type ExternalProcessError struct {
	Model    string
	Stage    string // "train", "predict" or "forecast"
	Command  []string
	ExitCode int // -1 when the process did not exit normally
	Stderr   string
	TimedOut bool
	Err      error
}

func (e *ExternalProcessError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "model %q %s command failed", e.Model, e.Stage)
	switch {
	case e.TimedOut:
		b.WriteString(": timed out")
	case e.ExitCode >= 0:
		fmt.Fprintf(&b, ": exit code %d", e.ExitCode)
	case e.Err != nil:
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	fmt.Fprintf(&b, " (command: %s)", strings.Join(e.Command, " "))
	if e.Stderr != "" {
		fmt.Fprintf(&b, "\nstderr: %s", e.Stderr)
	}
	return b.String()
}

func (e *ExternalProcessError) Unwrap() error {
	return e.Err
}

// OutputParseError indicates a missing or malformed prediction file.
type OutputParseError struct {
	Model string
	Path  string
	Err   error
}

func (e *OutputParseError) Error() string {
	return fmt.Sprintf("model %q output %s: %v", e.Model, e.Path, e.Err)
}

func (e *OutputParseError) Unwrap() error {
	return e.Err
}

// IncompletePredictionError indicates predictions that do not cover the requested
// locations, periods or value column.
type IncompletePredictionError struct {
	Model    string
	Location string
	Reason   string
}

func (e *IncompletePredictionError) Error() string {
	return fmt.Sprintf("model %q predictions incomplete for location %q: %s", e.Model, e.Location, e.Reason)
}
