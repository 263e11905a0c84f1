package watch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"buildwait/internal/config"
	"buildwait/internal/engine"
	"buildwait/internal/engine/jenkins"
	"buildwait/internal/engine/jenkins/jenkinstest"
	"buildwait/internal/poll"
)

var fastPoll = poll.Options{Interval: time.Millisecond}

func newRunner(server *jenkinstest.Server, opts poll.Options, out *bytes.Buffer) *Runner {
	client := jenkins.NewClient(config.JenkinsConfig{
		URL:      server.URL,
		Username: "user",
		Token:    "token",
		Timeout:  5,
	})
	if out == nil {
		return NewRunner(jenkins.NewTrigger(client), opts, io.Discard)
	}
	return NewRunner(jenkins.NewTrigger(client), opts, out)
}

var deployRequest = engine.JobRequest{
	View:   "releases",
	Job:    "deploy",
	Params: []engine.Param{{Key: "ENV", Value: "prod"}},
}

func TestRun_Success(t *testing.T) {
	server := jenkinstest.NewServer()
	defer server.Close()
	server.QueueResponses(
		`{"id":1,"why":"Waiting for next available executor"}`,
		`{"id":1,"executable":{"number":42,"url":"http://jenkins/job/deploy/42/"}}`,
	)
	server.BuildResponses(`{}`, `{"result":null}`, `{"result":"SUCCESS"}`)

	var out bytes.Buffer
	outcome, err := newRunner(server, fastPoll, &out).Run(context.Background(), deployRequest)
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}

	if len(server.Triggers()) != 1 {
		t.Errorf("Expected exactly one trigger, got %d", len(server.Triggers()))
	}
	if server.QueuePolls() != 2 {
		t.Errorf("Expected 2 queue polls, got %d", server.QueuePolls())
	}
	if server.BuildPolls() != 3 {
		t.Errorf("Expected 3 build polls, got %d", server.BuildPolls())
	}
	if outcome.Handle.Number != 42 || outcome.Handle.Job != "deploy" {
		t.Errorf("Expected handle deploy #42, got %s", outcome.Handle)
	}
	if outcome.Status.Result != engine.ResultSuccess {
		t.Errorf("Expected SUCCESS, got %s", outcome.Status.Result)
	}

	text := out.String()
	for _, want := range []string{
		"Waiting for the job to start... (Waiting for next available executor)",
		"Job started with executable number: 42",
		"Waiting for the job to finish...",
		"Job deploy #42 finished: SUCCESS",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, text)
		}
	}
	if n := strings.Count(text, "Waiting for the job to finish..."); n != 2 {
		t.Errorf("Expected 2 finish notices, got %d", n)
	}
}

func TestRun_MissingLocationSkipsPolling(t *testing.T) {
	server := jenkinstest.NewServer()
	defer server.Close()
	server.OmitLocation = true

	_, err := newRunner(server, fastPoll, nil).Run(context.Background(), deployRequest)
	var missing *engine.MissingLocationError
	if !errors.As(err, &missing) {
		t.Fatalf("Expected MissingLocationError, got %v", err)
	}
	if server.QueuePolls() != 0 || server.BuildPolls() != 0 {
		t.Errorf("Expected no polling, got %d queue and %d build polls", server.QueuePolls(), server.BuildPolls())
	}
}

func TestRun_TerminalFailures(t *testing.T) {
	tests := []struct {
		name     string
		result   string
		sentinel error
	}{
		{"Failure", "FAILURE", engine.ErrJobFailed},
		{"Aborted", "ABORTED", engine.ErrJobAborted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := jenkinstest.NewServer()
			defer server.Close()
			server.QueueResponses(`{"executable":{"number":9}}`)
			server.BuildResponses(`{"result":"` + tt.result + `"}`)

			_, err := newRunner(server, fastPoll, nil).Run(context.Background(), deployRequest)
			if !errors.Is(err, tt.sentinel) {
				t.Fatalf("Expected %v, got %v", tt.sentinel, err)
			}
			var remote *engine.RemoteJobError
			if !errors.As(err, &remote) || remote.Number != 9 {
				t.Errorf("Expected RemoteJobError for build 9, got %v", err)
			}
			if server.BuildPolls() != 1 {
				t.Errorf("Expected polling to stop at the terminal result, got %d polls", server.BuildPolls())
			}
		})
	}
}

func TestRun_CancelledQueueItem(t *testing.T) {
	server := jenkinstest.NewServer()
	defer server.Close()
	server.QueueResponses(`{"id":1}`, `{"id":1,"cancelled":true}`)

	_, err := newRunner(server, fastPoll, nil).Run(context.Background(), deployRequest)
	if !errors.Is(err, engine.ErrJobAborted) {
		t.Fatalf("Expected ErrJobAborted, got %v", err)
	}
	if server.BuildPolls() != 0 {
		t.Errorf("Expected no build polls, got %d", server.BuildPolls())
	}
}

func TestResolve_RetriesUntilExecutable(t *testing.T) {
	server := jenkinstest.NewServer()
	defer server.Close()
	server.QueueResponses(`{}`, `{}`, `{}`, `{"executable":{"number":42}}`)

	var out bytes.Buffer
	runner := newRunner(server, fastPoll, &out)
	handle, err := runner.Resolve(context.Background(), engine.QueueReference(server.URL+"/queue/item/1/"), "deploy")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if handle.Number != 42 {
		t.Errorf("Expected handle 42, got %d", handle.Number)
	}
	if server.QueuePolls() != 4 {
		t.Errorf("Expected 4 queue polls, got %d", server.QueuePolls())
	}
	if n := strings.Count(out.String(), "Waiting for the job to start..."); n != 3 {
		t.Errorf("Expected 3 start notices, got %d", n)
	}
	if n := strings.Count(out.String(), "Job started with executable number: 42"); n != 1 {
		t.Errorf("Expected the handle to be reported exactly once, got %d", n)
	}
}

func TestResolve_Malformed(t *testing.T) {
	server := jenkinstest.NewServer()
	defer server.Close()
	server.QueueResponses(`{"executable":{"url":"http://jenkins/job/deploy/1/"}}`)

	_, err := newRunner(server, fastPoll, nil).Resolve(context.Background(), engine.QueueReference(server.URL+"/queue/item/1/"), "deploy")
	var malformed *engine.MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("Expected MalformedResponseError, got %v", err)
	}
	if malformed.Field != "executable.number" {
		t.Errorf("Expected field executable.number, got %q", malformed.Field)
	}
}

func TestResolve_TransportErrorNotRetried(t *testing.T) {
	server := jenkinstest.NewServer()
	defer server.Close()
	server.QueueResponses(`{}`, `status:503`, `{"executable":{"number":1}}`)

	_, err := newRunner(server, fastPoll, nil).Resolve(context.Background(), engine.QueueReference(server.URL+"/queue/item/1/"), "deploy")
	var transportErr *engine.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Expected TransportError, got %v", err)
	}
	if server.QueuePolls() != 2 {
		t.Errorf("Expected polling to stop at the failed request, got %d polls", server.QueuePolls())
	}
}

func TestWatch_UnrecognizedResultKeepsPolling(t *testing.T) {
	server := jenkinstest.NewServer()
	defer server.Close()
	server.BuildResponses(`{"result":"UNSTABLE"}`, `{"result":"NOT_BUILT"}`, `{"result":"SUCCESS"}`)

	status, err := newRunner(server, fastPoll, nil).Watch(context.Background(), engine.ExecutionHandle{Job: "deploy", Number: 5})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if status.Result != engine.ResultSuccess {
		t.Errorf("Expected SUCCESS, got %s", status.Result)
	}
	if server.BuildPolls() != 3 {
		t.Errorf("Expected 3 build polls, got %d", server.BuildPolls())
	}
}

func TestWatch_PollCeiling(t *testing.T) {
	server := jenkinstest.NewServer()
	defer server.Close()
	server.BuildResponses(`{"building":true}`)

	opts := poll.Options{Interval: time.Millisecond, MaxAttempts: 3}
	_, err := newRunner(server, opts, nil).Watch(context.Background(), engine.ExecutionHandle{Job: "deploy", Number: 5})
	var timeout *engine.PollTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("Expected PollTimeoutError, got %v", err)
	}
	if server.BuildPolls() != 3 {
		t.Errorf("Expected 3 build polls, got %d", server.BuildPolls())
	}
}

func TestWatch_Interrupted(t *testing.T) {
	server := jenkinstest.NewServer()
	defer server.Close()
	server.BuildResponses(`{"building":true}`)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newRunner(server, poll.Options{Interval: 10 * time.Millisecond}, nil).Watch(ctx, engine.ExecutionHandle{Job: "deploy", Number: 5})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected context deadline, got %v", err)
	}
}
