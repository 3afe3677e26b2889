package readonce

import (
	"errors"
	"fmt"
)

// ErrConsumed is returned when an input's payload is requested a second
// time. Users should be asked to recapture or reselect the image.
var ErrConsumed = errors.New("readonce: input already consumed")

// DecodeKind classifies a decode failure
type DecodeKind string

const (
	DecodeReadFailed        DecodeKind = "read_failed"
	DecodeDimensionsInvalid DecodeKind = "dimensions_invalid"
)

// DecodeError is returned when an input cannot be turned into a Frame.
type DecodeError struct {
	Kind  DecodeKind
	Name  string
	Cause error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("readonce: decode %s: %s: %v", e.Name, e.Kind, e.Cause)
	}
	return fmt.Sprintf("readonce: decode %s: %s", e.Name, e.Kind)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// ValidationError reports an input rejected before any read was attempted.
type ValidationError struct {
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("readonce: invalid input %s: %s", e.Name, e.Reason)
}
