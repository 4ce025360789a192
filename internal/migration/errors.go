package migration

import (
	"errors"
	"fmt"
)

// FailureKind names why a run stopped.
type FailureKind string

const (
	TransportError  FailureKind = "TransportError"
	UpstreamRefusal FailureKind = "UpstreamRefusal"
	MalformedOutput FailureKind = "MalformedOutput"
	GatewayError    FailureKind = "GatewayError"
	Cancelled       FailureKind = "Cancelled"
)

// Failure is a classified run failure.
type Failure struct {
	Kind FailureKind

	// Section is the output section at fault (MalformedOutput only).
	Section string

	Reason string
	Err    error
}

func (f *Failure) Error() string {
	msg := string(f.Kind)
	if f.Section != "" {
		msg += " [" + f.Section + "]"
	}
	if f.Reason != "" {
		msg += ": " + f.Reason
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

// Malformed returns a MalformedOutput failure for section.
func Malformed(section, format string, args ...any) *Failure {
	return &Failure{Kind: MalformedOutput, Section: section, Reason: fmt.Sprintf(format, args...)}
}

// Gateway wraps a source-control error.
func Gateway(op string, err error) *Failure {
	return &Failure{Kind: GatewayError, Reason: op, Err: err}
}

// KindOf returns the failure kind carried by err, or "" if err is not a Failure.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}
