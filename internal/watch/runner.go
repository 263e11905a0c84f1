// Package watch drives one build from trigger to terminal result:
// trigger, then queue resolution, then execution polling. It never goes back.
package watch

import (
	"context"
	"fmt"
	"io"
	"time"

	"buildwait/internal/engine"
	"buildwait/internal/logger"
	"buildwait/internal/poll"
)

// Outcome summarizes a run that reached SUCCESS
type Outcome struct {
	Queue   engine.QueueReference
	Handle  engine.ExecutionHandle
	Status  engine.ExecutionStatus
	Elapsed time.Duration
}

// Runner runs the trigger, resolve and watch phases against a CI engine
type Runner struct {
	engine engine.CIEngine
	poll   poll.Options
	out    io.Writer
}

// NewRunner creates a Runner. Progress notices are written to out.
func NewRunner(e engine.CIEngine, opts poll.Options, out io.Writer) *Runner {
	if out == nil {
		out = io.Discard
	}
	return &Runner{
		engine: e,
		poll:   opts,
		out:    out,
	}
}

// Run triggers req exactly once and waits for its build to finish.
// A build that ends in FAILURE or ABORTED is returned as *engine.RemoteJobError.
func (r *Runner) Run(ctx context.Context, req engine.JobRequest) (*Outcome, error) {
	start := time.Now()

	ref, err := r.Trigger(ctx, req)
	if err != nil {
		return nil, err
	}

	handle, err := r.Resolve(ctx, ref, req.Job)
	if err != nil {
		return nil, err
	}

	status, err := r.Watch(ctx, handle)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{
		Queue:   ref,
		Handle:  handle,
		Status:  *status,
		Elapsed: time.Since(start),
	}
	fmt.Fprintf(r.out, "Job %s finished: %s\n", handle, status.Result)
	logger.Info("Build succeeded", "job", handle.Job, "number", handle.Number, "elapsed", outcome.Elapsed.Round(time.Millisecond).String())
	return outcome, nil
}

// Trigger enqueues the build. It is not retried.
func (r *Runner) Trigger(ctx context.Context, req engine.JobRequest) (engine.QueueReference, error) {
	ref, err := r.engine.TriggerBuild(ctx, req)
	if err != nil {
		return "", fmt.Errorf("trigger %s: %w", req.Job, err)
	}
	fmt.Fprintf(r.out, "Job %s queued at %s\n", req.Job, ref)
	return ref, nil
}

// Resolve polls the queue item until the server assigns a build number
func (r *Runner) Resolve(ctx context.Context, ref engine.QueueReference, job string) (engine.ExecutionHandle, error) {
	var handle engine.ExecutionHandle
	var why string

	err := poll.Until(ctx, "waiting for the job to start", r.poll,
		func(ctx context.Context, attempt int) (bool, error) {
			item, err := r.engine.QueueItem(ctx, ref)
			if err != nil {
				return false, err
			}
			if item.Cancelled {
				return false, &engine.RemoteJobError{Job: job, Result: engine.ResultAborted}
			}
			if item.Executable == nil {
				why = item.Why
				logger.Debug("Queue item not started", "queue", string(ref), "attempt", attempt, "why", why)
				return false, nil
			}
			handle = *item.Executable
			handle.Job = job
			return true, nil
		},
		func(int) {
			if why != "" {
				fmt.Fprintf(r.out, "Waiting for the job to start... (%s)\n", why)
				return
			}
			fmt.Fprintln(r.out, "Waiting for the job to start...")
		},
	)
	if err != nil {
		return engine.ExecutionHandle{}, fmt.Errorf("resolve queue item %s: %w", ref, err)
	}

	fmt.Fprintf(r.out, "Job started with executable number: %d\n", handle.Number)
	logger.Info("Queue item resolved", "job", job, "number", handle.Number, "url", handle.URL)
	return handle, nil
}

// Watch polls the build until it reports SUCCESS, FAILURE or ABORTED.
// Any other result, or none, keeps it running.
func (r *Runner) Watch(ctx context.Context, handle engine.ExecutionHandle) (*engine.ExecutionStatus, error) {
	var status *engine.ExecutionStatus

	err := poll.Until(ctx, "waiting for the job to finish", r.poll,
		func(ctx context.Context, attempt int) (bool, error) {
			s, err := r.engine.BuildStatus(ctx, handle)
			if err != nil {
				return false, err
			}
			status = s

			if !s.Result.Terminal() {
				logger.Debug("Build still running", "job", handle.Job, "number", handle.Number, "attempt", attempt, "result", string(s.Result))
				return false, nil
			}
			if s.Result != engine.ResultSuccess {
				return false, &engine.RemoteJobError{Job: handle.Job, Number: handle.Number, Result: s.Result}
			}
			return true, nil
		},
		func(int) {
			fmt.Fprintln(r.out, "Waiting for the job to finish...")
		},
	)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", handle, err)
	}
	return status, nil
}
