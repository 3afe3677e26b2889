package tasks

import (
	"errors"
	"fmt"
)

type SubmitKind string

const (
	TransportUnreachable SubmitKind = "transport_unreachable"
	// ResponseLost means the service answered but the answer could not be
	// read. A task may have been created.
	ResponseLost    SubmitKind = "response_lost"
	Rejected        SubmitKind = "rejected"
	InvalidArtifact SubmitKind = "invalid_artifact"
)

// SubmitError is returned by Client.Submit.
type SubmitError struct {
	Kind SubmitKind
	// Reason is the server's explanation for a rejection.
	Reason     string
	StatusCode int
	Cause      error
}

func (e *SubmitError) Error() string {
	switch {
	case e.Reason != "":
		return fmt.Sprintf("submit %s: %s", e.Kind, e.Reason)
	case e.Cause != nil:
		return fmt.Sprintf("submit %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("submit %s", e.Kind)
}

func (e *SubmitError) Unwrap() error { return e.Cause }

// Retryable is true only for transport failures that happened before the
// service answered. Once a status line was received the upload reached the
// service and sending it again could create a second task.
func (e *SubmitError) Retryable() bool {
	return e.Kind == TransportUnreachable && e.StatusCode == 0
}

type QueryKind string

const (
	QueryTransport       QueryKind = "transport"
	QueryNotFound        QueryKind = "not_found"
	QueryRejected        QueryKind = "rejected"
	QueryInvalidResponse QueryKind = "invalid_response"
)

// QueryError is returned by Client.Status.
type QueryError struct {
	Kind       QueryKind
	TaskID     string
	StatusCode int
	Reason     string
	Cause      error
}

func (e *QueryError) Error() string {
	msg := fmt.Sprintf("status query %s for task %s", e.Kind, e.TaskID)
	if e.Reason != "" {
		msg += ": " + e.Reason
	} else if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *QueryError) Unwrap() error { return e.Cause }

// IsSubmitKind reports whether err is a SubmitError of the given kind.
func IsSubmitKind(err error, kind SubmitKind) bool {
	var se *SubmitError
	return errors.As(err, &se) && se.Kind == kind
}

// IsQueryKind reports whether err is a QueryError of the given kind.
func IsQueryKind(err error, kind QueryKind) bool {
	var qe *QueryError
	return errors.As(err, &qe) && qe.Kind == kind
}
