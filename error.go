package changefeed

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrClosed is returned by any consumption call made on a change stream
	// that has been closed, including calls that were in flight when the
	// stream was closed.
	ErrClosed = errors.New("change stream is closed")

	// ErrMissingResumeToken is returned when the server produces a change
	// event without an _id field, typically because the caller's pipeline
	// projected it away. There is no position from which the stream could be
	// resumed, so the stream is closed.
	ErrMissingResumeToken = errors.New("change event does not contain a resume token (_id), it may have been removed by a $project stage")

	// ErrConflictingResumeOptions is returned by Watch() when more than one of
	// resumeAfter, startAfter and startAtOperationTime is supplied.
	ErrConflictingResumeOptions = errors.New("only one of resumeAfter, startAfter and startAtOperationTime may be specified")

	// ErrMixedConsumptionModes is returned when a change stream that is being
	// consumed via Listen() is iterated directly, or vice versa.
	ErrMixedConsumptionModes = errors.New("change stream can not be iterated and listened to at the same time")
)

// Error labels that affect how change streams react to command failures.
const (
	// NonResumableLabel marks an error that must never cause a resume.
	NonResumableLabel = "NonRetryableChangeStreamError"

	// legacyNonResumableLabel is the spelling of NonResumableLabel used by
	// some server versions.
	legacyNonResumableLabel = "NonResumableChangeStreamError"

	// ResumableLabel marks an error after which a change stream may resume.
	ResumableLabel = "ResumableChangeStreamError"

	// RetryableWriteLabel marks a generic retryable server error.
	RetryableWriteLabel = "RetryableWriteError"
)

// CommandError is an error reported by the server in reply to a command.
type CommandError struct {
	Code    int32
	Name    string
	Message string
	Labels  []string
}

func (e *CommandError) Error() string {
	var w strings.Builder

	if e.Name != "" {
		fmt.Fprintf(&w, "(%s) ", e.Name)
	}

	w.WriteString(e.Message)

	if e.Code != 0 {
		fmt.Fprintf(&w, " [code %d]", e.Code)
	}

	return w.String()
}

// HasErrorLabel returns true if the error has the given label.
func (e *CommandError) HasErrorLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}

	return false
}

// NetworkError is an error that occurred in the network layer while a command
// was in flight, such as a closed, reset or timed-out connection.
type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string {
	return "network error: " + e.Cause.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Cause
}
