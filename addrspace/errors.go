package addrspace

import (
	"errors"
	"fmt"
)

// RejectedError is returned by a layer constructor when the base it
// was given does not contain the format that the layer expects.
//
// Autodetection treats it as a vote against the layer and moves on
// to the next candidate.
type RejectedError struct {
	Layer  string
	Reason string
}

func (o *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected construction - %s", o.Layer, o.Reason)
}

// Rejectf creates a *RejectedError for the named layer.
func Rejectf(layer string, format string, a ...interface{}) error {
	return &RejectedError{
		Layer:  layer,
		Reason: fmt.Sprintf(format, a...),
	}
}

// IsRejected returns true if err is, or wraps, a *RejectedError.
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}

// LookupError is returned when a named layer, an address space
// specification, or a process cannot be resolved.
type LookupError struct {
	// Kind describes what was being looked up, for example
	// "address space" or "process".
	Kind string

	// Name is the identifier that could not be resolved.
	Name string
}

func (o *LookupError) Error() string {
	return fmt.Sprintf("failed to find %s %q", o.Kind, o.Name)
}

// IsLookupFailure returns true if err is, or wraps, a *LookupError.
func IsLookupFailure(err error) bool {
	var lookup *LookupError
	return errors.As(err, &lookup)
}
