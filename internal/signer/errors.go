package signer

import (
	"errors"
	"fmt"
)

var errZeroClock = errors.New("clock returned the zero time")

// ConfigurationError reports a request that can never be signed as given,
// such as an unsupported method/category combination.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// SigningError reports a failure to resolve credentials or build a signature.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("signing error: %v", e.Err)
}

func (e *SigningError) Unwrap() error {
	return e.Err
}
