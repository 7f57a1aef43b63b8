package fetch

import (
	"errors"
	"fmt"
)

// Construction error kinds. Match them with errors.Is.
var (
	ErrInvalidProducer   = errors.New("invalid producer name")
	ErrInvalidStream     = errors.New("invalid stream name")
	ErrInvalidHint       = errors.New("invalid forwarding hint")
	ErrInvalidRange      = errors.New("invalid sequence range")
	ErrInvalidTimeout    = errors.New("invalid inactivity timeout")
	ErrInvalidCongestion = errors.New("invalid congestion configuration")
	ErrInvalidRetry      = errors.New("invalid retry policy")
	ErrMissingTransport  = errors.New("transport is required")
	ErrMissingExecutor   = errors.New("executor is required")
)

// ConfigError reports a session that could not be constructed.
type ConfigError struct {
	Kind   error
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("fetch session: %v", e.Kind)
	}
	return fmt.Sprintf("fetch session: %v: %s", e.Kind, e.Reason)
}

// Unwrap returns the error kind
func (e *ConfigError) Unwrap() error {
	return e.Kind
}

func configError(kind error, format string, args ...any) *ConfigError {
	return &ConfigError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}
