package generate

import (
	"errors"
	"fmt"
)

// TransportError is a network, timeout or transient upstream failure. It is safe to retry.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RefusalError means the model declined the request or returned nothing.
// Retrying it wastes quota.
type RefusalError struct {
	StatusCode int
	Reason     string
}

func (e *RefusalError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream refusal (status %d): %s", e.StatusCode, e.Reason)
	}
	return "upstream refusal: " + e.Reason
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsRefusal reports whether err is a RefusalError.
func IsRefusal(err error) bool {
	var re *RefusalError
	return errors.As(err, &re)
}
