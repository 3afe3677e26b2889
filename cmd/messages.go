package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/lehigh-university-libraries/pagereader/internal/camera"
	"github.com/lehigh-university-libraries/pagereader/internal/capture"
	"github.com/lehigh-university-libraries/pagereader/internal/compositor"
	"github.com/lehigh-university-libraries/pagereader/internal/poller"
	"github.com/lehigh-university-libraries/pagereader/internal/readonce"
	"github.com/lehigh-university-libraries/pagereader/internal/tasks"
)

// UserMessage maps an error from any stage of the pipeline to a sentence
// fit for the person holding the camera.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var (
		camErr      *camera.CameraError
		captureErr  *camera.CaptureError
		validation  *readonce.ValidationError
		decodeErr   *readonce.DecodeError
		composeErr  *compositor.ComposeError
		submitErr   *tasks.SubmitError
		queryErr    *tasks.QueryError
		remoteFails *poller.RemoteRejection
	)

	switch {
	case errors.As(err, &camErr):
		switch camErr.Kind {
		case camera.Denied:
			return "Camera access was denied. Check the permission settings and try again."
		case camera.NotFound:
			return "No camera was found. Check that a camera is connected."
		case camera.Busy:
			return "The camera is in use by another application. Close it and try again."
		default:
			return "The camera could not be started. Try again or select image files instead."
		}
	case errors.As(err, &captureErr):
		if captureErr.Kind == camera.NotStreaming {
			return "The camera is not running. Start it before taking a photo."
		}
		return "The camera has not produced a picture yet. Wait a moment and try again."
	case errors.Is(err, readonce.ErrConsumed):
		return "That image was already used. Please recapture or reselect it."
	case errors.As(err, &validation):
		return fmt.Sprintf("%s can't be used: %s.", validation.Name, validation.Reason)
	case errors.As(err, &decodeErr):
		return fmt.Sprintf("%s could not be read as an image. Please recapture it or pick a PNG or JPEG file.", decodeErr.Name)
	case errors.As(err, &composeErr):
		switch composeErr.Kind {
		case compositor.EmptyInput:
			return "Take or select at least one image first."
		case compositor.ZeroDimensions:
			return "One of the images is empty. Please recapture it."
		default:
			return "The images could not be merged. Please try again."
		}
	case errors.Is(err, capture.ErrSessionFull):
		return "The maximum number of shots has been reached. Remove one to take another."
	case errors.Is(err, capture.ErrSessionClosed):
		return "The session was closed before the images were merged."
	case errors.Is(err, capture.ErrNoCamera):
		return "No camera is configured. Set PAGEREADER_CAMERA or select image files."
	case errors.As(err, &submitErr):
		switch submitErr.Kind {
		case tasks.TransportUnreachable:
			return "The reading service could not be reached. Check your connection and retry."
		case tasks.ResponseLost:
			return "The upload reached the reading service but its reply was lost. Check the task list before uploading again."
		case tasks.InvalidArtifact:
			return "There is nothing to upload."
		default:
			return fmt.Sprintf("The reading service refused the image: %s", submitErr.Reason)
		}
	case errors.As(err, &remoteFails):
		if remoteFails.Message == "" {
			return "Processing failed."
		}
		return fmt.Sprintf("Processing failed: %s", remoteFails.Message)
	case errors.As(err, &queryErr):
		switch queryErr.Kind {
		case tasks.QueryNotFound:
			return fmt.Sprintf("Task %s is unknown to the reading service. It may have expired.", queryErr.TaskID)
		case tasks.QueryTransport:
			return fmt.Sprintf("Lost contact with the reading service. Resume with: pagereader status %s", queryErr.TaskID)
		default:
			return "The reading service returned an unexpected answer."
		}
	case errors.Is(err, context.Canceled):
		return "Cancelled."
	}
	return err.Error()
}

// friendlyError keeps the original error reachable while printing the
// user-facing message.
type friendlyError struct {
	err error
}

func (e *friendlyError) Error() string { return UserMessage(e.err) }

func (e *friendlyError) Unwrap() error { return e.err }

func friendly(err error) error {
	if err == nil {
		return nil
	}
	return &friendlyError{err: err}
}
