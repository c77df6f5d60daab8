package common

import (
	"errors"
	"fmt"
)

// ValidationError marks a request that failed pre-flight checks. It is
// permanent: retrying the same input cannot succeed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// RejectionError means the exchange refused the request (insufficient
// balance, bad precision, unknown order). Permanent for that request.
type RejectionError struct {
	Code    int
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("exchange rejected: code=%d %s", e.Code, e.Message)
}

// NetworkError wraps a transport failure or an ambiguous response where the
// exchange state is unknown. Transient: a later cycle may succeed.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// DataUnavailableError means market data needed for a decision is missing
// or stale. Callers skip the evaluation rather than act on defaults.
type DataUnavailableError struct {
	Symbol string
	What   string
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("data unavailable: %s %s", e.Symbol, e.What)
}

// IsTransient reports whether err (anywhere in its chain) is a network
// failure worth retrying on a later cycle.
func IsTransient(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsRejection reports whether err is an exchange rejection.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

// IsValidation reports whether err is a pre-flight validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsDataUnavailable reports whether err means market data was missing.
func IsDataUnavailable(err error) bool {
	var de *DataUnavailableError
	return errors.As(err, &de)
}
