package main

import (
	"context"
	"errors"

	"github.com/tauagent/tau/internal/config"
)

// configError wraps a configuration/validation failure so exitCodeFor can
// distinguish it from a runtime error.
type configError struct{ cause error }

func (e *configError) Error() string { return e.cause.Error() }
func (e *configError) Unwrap() error { return e.cause }

func wrapConfigError(err error) error {
	if err == nil {
		return nil
	}
	return &configError{cause: err}
}

func isValidationError(err error) bool {
	var cfgErr *configError
	return errors.As(err, &cfgErr)
}

func isCancellationError(err error) bool {
	return errors.Is(err, context.Canceled)
}

// loadConfig reads path, wrapping any failure as a configError so the CLI
// exits with code 2 rather than 1.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, wrapConfigError(err)
	}
	return cfg, nil
}
