package engine

import (
	"errors"
	"fmt"
)

// ConfigError reports an invalid configuration detected at startup
// (bad dependency map, bad budget shares). It is the only error class
// that should abort the process.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Reason
}

// Configf builds a ConfigError with a formatted reason.
func Configf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ErrInvalidInput marks requests rejected before any retrieval starts,
// such as a missing user or milestone identifier. Store-level failures
// never surface as errors; they become degraded layer markers instead.
var ErrInvalidInput = errors.New("invalid input")
