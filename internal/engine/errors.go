package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrJobFailed matches a RemoteJobError for a build that reported FAILURE
	ErrJobFailed = errors.New("remote job failed")
	// ErrJobAborted matches a RemoteJobError for a build or queue item that was cancelled
	ErrJobAborted = errors.New("remote job aborted")
)

// TransportError is a network or HTTP failure talking to the CI server
type TransportError struct {
	Op         string
	URL        string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MissingLocationError means the server accepted a trigger without saying where it was queued
type MissingLocationError struct {
	URL string
}

func (e *MissingLocationError) Error() string {
	return fmt.Sprintf("no Location header in trigger response from %s", e.URL)
}

// MalformedResponseError means a required field was missing or had the wrong type
type MalformedResponseError struct {
	URL   string
	Field string
	Err   error
}

func (e *MalformedResponseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed response from %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("malformed response from %s: field %q: %v", e.URL, e.Field, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// RemoteJobError is a build that reached a non-success terminal state
type RemoteJobError struct {
	Job    string
	Number int64
	Result Result
}

func (e *RemoteJobError) Error() string {
	if e.Number == 0 {
		return fmt.Sprintf("job %s was cancelled while queued", e.Job)
	}
	switch e.Result {
	case ResultAborted:
		return fmt.Sprintf("job %s #%d was aborted", e.Job, e.Number)
	default:
		return fmt.Sprintf("job %s #%d failed with result %s", e.Job, e.Number, e.Result)
	}
}

// Is lets callers match with errors.Is(err, ErrJobFailed) or ErrJobAborted
func (e *RemoteJobError) Is(target error) bool {
	switch target {
	case ErrJobFailed:
		return e.Result == ResultFailure
	case ErrJobAborted:
		return e.Result == ResultAborted
	}
	return false
}

// PollTimeoutError is returned when a polling phase exhausts its configured ceiling
type PollTimeoutError struct {
	Phase    string
	Attempts int
	Elapsed  time.Duration
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("gave up %s after %d polls (%s)", e.Phase, e.Attempts, e.Elapsed.Round(time.Millisecond))
}
