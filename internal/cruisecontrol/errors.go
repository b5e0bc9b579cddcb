// Copyright 2025 Streamhub
// SPDX-License-Identifier: Apache-2.0

package cruisecontrol

import (
	"fmt"
	"time"
)

// RestError is returned when Cruise Control itself refuses a request, for
// example because a custom goal list misses required hard goals. The engine's
// own message is preserved verbatim.
type RestError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *RestError) Error() string {
	return fmt.Sprintf("Error processing %s request '%s' due to: '%s'.", e.Method, e.Path, e.Message)
}

// Reason returns the error-class name surfaced in the status condition.
func (e *RestError) Reason() string {
	return "CruiseControlRestException"
}

// ConnectionError is returned when the Cruise Control server cannot be
// reached at all. It self-heals once the server is reachable again.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return e.Err.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Reason() string {
	return "CruiseControlRetriableConnectionException"
}

// TimeoutError is returned when Cruise Control did not answer within the
// client's configured response deadline.
type TimeoutError struct {
	Method  string
	Path    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("The timeout period of %dms has been exceeded while executing %s %s",
		e.Timeout.Milliseconds(), e.Method, e.Path)
}

func (e *TimeoutError) Reason() string {
	return "TimeoutException"
}
