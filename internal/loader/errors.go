package loader

import (
	"fmt"
	"time"

	"neptuneload/internal/signer"
)

// ConfigurationError reports an invalid request or load configuration.
type ConfigurationError = signer.ConfigurationError

// SigningError reports a credential or clock failure while signing.
type SigningError = signer.SigningError

// HTTPError is returned for any response whose status code is not 200.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("request returned %d: %s", e.StatusCode, e.Body)
}

// ParseError reports a response document that could not be decoded.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Reason, e.Err)
	}
	return "parse error: " + e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when a load does not complete within the
// configured wait.
type TimeoutError struct {
	LoadID     string
	MaxWait    time.Duration
	LastStatus LoadStatus
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("load %s did not complete within %s (last status %s)", e.LoadID, e.MaxWait, e.LastStatus)
}

// AlreadyBoundError is returned when a client that is already bound to a
// load is asked to bind another one.
type AlreadyBoundError struct {
	LoadID string
}

func (e *AlreadyBoundError) Error() string {
	return fmt.Sprintf("already bound to load %s", e.LoadID)
}

// NotLoadingError is returned when the load id or status is read before it
// has been established.
type NotLoadingError struct {
	What string
}

func (e *NotLoadingError) Error() string {
	return "not loading yet: no " + e.What
}

// LoadFailedError is returned by WaitUntilComplete when the load reaches a
// terminal status other than LOAD_COMPLETED.
type LoadFailedError struct {
	LoadID string
	Status LoadStatus
}

func (e *LoadFailedError) Error() string {
	return fmt.Sprintf("load %s finished with status %s", e.LoadID, e.Status)
}
