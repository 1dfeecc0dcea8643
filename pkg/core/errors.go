package core

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an invalid project: unknown protection id,
// malformed parameter, unresolved selector or an ordering cycle. It is
// raised while planning and aborts the run before any module is touched.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NewConfigurationError joins errs into a ConfigurationError. It returns nil
// when every error is nil.
func NewConfigurationError(errs ...error) error {
	joined := errors.Join(errs...)
	if joined == nil {
		return nil
	}
	return &ConfigurationError{Err: joined}
}

// Configf formats a single-cause ConfigurationError.
func Configf(format string, args ...any) error {
	return &ConfigurationError{Err: fmt.Errorf(format, args...)}
}

// IsConfigurationError reports whether err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// ModuleFailure is an unrecoverable error while processing one module. The
// module is excluded from output; other modules continue.
type ModuleFailure struct {
	Module string
	Stage  string
	Err    error
}

func (e *ModuleFailure) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("module %s: %v", e.Module, e.Err)
	}
	return fmt.Sprintf("module %s: stage %q: %v", e.Module, e.Stage, e.Err)
}

func (e *ModuleFailure) Unwrap() error { return e.Err }

// OutputFailure reports a transformed module that could not be written.
type OutputFailure struct {
	Module string
	Path   string
	Err    error
}

func (e *OutputFailure) Error() string {
	return fmt.Sprintf("module %s: write %s: %v", e.Module, e.Path, e.Err)
}

func (e *OutputFailure) Unwrap() error { return e.Err }
