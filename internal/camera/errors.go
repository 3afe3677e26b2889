package camera

import (
	"errors"
	"fmt"
)

// Kind classifies a failure to acquire a camera stream.
type Kind string

const (
	Denied      Kind = "denied"
	NotFound    Kind = "not_found"
	Busy        Kind = "busy"
	Unavailable Kind = "unavailable"
)

// CameraError is returned when a stream cannot be started.
type CameraError struct {
	Kind   Kind
	Device string
	Cause  error
}

func (e *CameraError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("camera %s (%s): %v", e.Kind, e.Device, e.Cause)
	}
	return fmt.Sprintf("camera %s (%s)", e.Kind, e.Device)
}

func (e *CameraError) Unwrap() error { return e.Cause }

// Retryable is true for conditions that can clear on their own.
func (e *CameraError) Retryable() bool {
	return e.Kind == Busy || e.Kind == Unavailable || e.Kind == NotFound
}

// CaptureKind classifies a failed snapshot.
type CaptureKind string

const (
	NotStreaming   CaptureKind = "not_streaming"
	ZeroDimensions CaptureKind = "zero_dimensions"
)

// CaptureError is returned by Snapshot.
type CaptureError struct {
	Kind  CaptureKind
	Cause error
}

func (e *CaptureError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("snapshot %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("snapshot %s", e.Kind)
}

func (e *CaptureError) Unwrap() error { return e.Cause }

// IsKind reports whether err is a CameraError of the given kind.
func IsKind(err error, kind Kind) bool {
	var ce *CameraError
	return errors.As(err, &ce) && ce.Kind == kind
}

// IsCaptureKind reports whether err is a CaptureError of the given kind.
func IsCaptureKind(err error, kind CaptureKind) bool {
	var ce *CaptureError
	return errors.As(err, &ce) && ce.Kind == kind
}

func asCameraError(device string, err error) error {
	var ce *CameraError
	if errors.As(err, &ce) {
		if ce.Device == "" {
			ce.Device = device
		}
		return ce
	}
	return &CameraError{Kind: Unavailable, Device: device, Cause: err}
}
