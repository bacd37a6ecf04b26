package composite

import (
	"errors"
	"fmt"
)

// ErrConfigNotFound is returned when a registered config name is
// unknown.
var ErrConfigNotFound = errors.New("config not found")

// ConfigError reports a problem with a conditional or composite
// configuration, found before anything executes.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "composite config: " + e.Reason
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}
