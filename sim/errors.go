package sim

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by this package matches exactly one of
// them under errors.Is.
var (
	// ErrConfig marks malformed models and run configurations. Detected before
	// any individual is simulated, except for capture-set divergence which can
	// only be observed at the first offending record.
	ErrConfig = errors.New("configuration error")

	// ErrNumerical marks solver divergence and non-finite derived parameters.
	// Contained at individual granularity.
	ErrNumerical = errors.New("numerical failure")

	// ErrResource marks failures that abort the whole run (cancellation,
	// random source exhaustion, worker crash).
	ErrResource = errors.New("resource error")
)

// ConfigError names the model and the offending field.
type ConfigError struct {
	Model string
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("model %q: %s: %v", e.Model, e.Field, e.Err)
}

func (e *ConfigError) Unwrap() []error {
	return []error{ErrConfig, e.Err}
}

func configErrorf(model, field, format string, args ...any) *ConfigError {
	return &ConfigError{Model: model, Field: field, Err: fmt.Errorf(format, args...)}
}

// NumericalError is a per-individual failure at a given simulation time.
type NumericalError struct {
	ID   int
	Time float64
	Err  error
}

func (e *NumericalError) Error() string {
	return fmt.Sprintf("individual %d at t=%g: %v", e.ID, e.Time, e.Err)
}

func (e *NumericalError) Unwrap() []error {
	return []error{ErrNumerical, e.Err}
}

// Failure is one diagnostics-channel entry: an individual aborted at Time.
// Rows captured before Time are kept in the result table. Err is a
// *NumericalError.
type Failure struct {
	ID   int
	Time float64
	Err  error
}

func (f Failure) String() string {
	return f.Err.Error()
}

// Cause returns the underlying solver or derived-parameter error.
func (f Failure) Cause() error {
	var ne *NumericalError
	if errors.As(f.Err, &ne) {
		return ne.Err
	}
	return f.Err
}
