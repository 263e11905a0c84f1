package engine

import (
	"context"
	"fmt"
	"time"
)

// Result is the terminal classification a CI server reports for a build
type Result string

const (
	ResultSuccess Result = "SUCCESS"
	ResultFailure Result = "FAILURE"
	ResultAborted Result = "ABORTED"
)

// Terminal reports whether the watcher stops polling on this result.
// UNSTABLE, NOT_BUILT and unknown values keep the build in the running state.
func (r Result) Terminal() bool {
	switch r {
	case ResultSuccess, ResultFailure, ResultAborted:
		return true
	}
	return false
}

// Param is a single build parameter
type Param struct {
	Key   string
	Value string
}

// JobRequest identifies the job to trigger and carries its parameters in order
type JobRequest struct {
	View   string
	Job    string
	Params []Param
}

// Validate checks that the request names a job and that parameter keys are unique
func (r JobRequest) Validate() error {
	if r.View == "" {
		return fmt.Errorf("view name cannot be empty")
	}
	if r.Job == "" {
		return fmt.Errorf("job name cannot be empty")
	}
	seen := make(map[string]bool, len(r.Params))
	for _, p := range r.Params {
		if p.Key == "" {
			return fmt.Errorf("parameter key cannot be empty")
		}
		if seen[p.Key] {
			return fmt.Errorf("duplicate parameter key: %s", p.Key)
		}
		seen[p.Key] = true
	}
	return nil
}

// QueueReference is the server-assigned queue locator returned by a trigger.
// The value is the Location header, stored verbatim.
type QueueReference string

// ExecutionHandle identifies a concrete build of a job
type ExecutionHandle struct {
	Job    string
	Number int64
	URL    string
}

func (h ExecutionHandle) String() string {
	return fmt.Sprintf("%s #%d", h.Job, h.Number)
}

// QueueStatus is a snapshot of a queue item
type QueueStatus struct {
	// Executable is nil until the server assigns a build
	Executable *ExecutionHandle
	Why        string
	Cancelled  bool
}

// ExecutionStatus is a snapshot of a running or finished build
type ExecutionStatus struct {
	Number   int64
	Building bool
	// Result is empty while the build has no result yet
	Result   Result
	URL      string
	Duration time.Duration
}

// CIEngine is an interface for CI engines
type CIEngine interface {
	// TriggerBuild enqueues one build and returns where to track it
	TriggerBuild(ctx context.Context, req JobRequest) (QueueReference, error)

	// QueueItem fetches the current state of a queue entry
	QueueItem(ctx context.Context, ref QueueReference) (*QueueStatus, error)

	// BuildStatus fetches the current state of a build
	BuildStatus(ctx context.Context, handle ExecutionHandle) (*ExecutionStatus, error)
}
