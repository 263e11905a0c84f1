package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"buildwait/internal/config"
	"buildwait/internal/engine"
	"buildwait/internal/engine/jenkins"
	"buildwait/internal/logger"
	"buildwait/internal/poll"
	"buildwait/internal/watch"
)

// Exit codes
const (
	exitOK        = 0
	exitJobFailed = 1 // the build reported FAILURE or ABORTED
	exitUsage     = 2 // bad flags or configuration
	exitError     = 3 // the tool could not finish the run
)

// paramFlags collects repeated -p values
type paramFlags []string

func (p *paramFlags) String() string { return strings.Join(*p, ";") }

func (p *paramFlags) Set(v string) error {
	*p = append(*p, v)
	return nil
}

func main() {
	// Stop polling on Ctrl-C; the remote build keeps running
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("buildwait", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to an optional YAML configuration file")
	envFile := fs.String("env-file", ".env", "Path to an optional .env file")
	view := fs.String("view", "", "Jenkins view name (default $JENKINS_VIEW)")
	job := fs.String("job", "", "Jenkins job name (default $JENKINS_JOB)")
	var params paramFlags
	fs.Var(&params, "p", "Build parameters as KEY=VALUE, separated by ';' (repeatable)")
	fs.StringVar(view, "v", "", "Shorthand for -view")
	fs.StringVar(job, "j", "", "Shorthand for -job")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	// Load configuration
	cfg, err := config.Load(*configPath, *envFile, config.Flags{
		View:   *view,
		Job:    *job,
		Params: params,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return exitUsage
	}
	req, err := cfg.JobRequest()
	if err != nil {
		fmt.Fprintf(stderr, "Invalid job request: %v\n", err)
		return exitUsage
	}

	// Initialize logger
	logger.Init(stderr, cfg.Log.Level, cfg.Log.Format)
	runID := uuid.NewString()
	logger.With("run_id", runID)
	logger.Debug("Starting buildwait", "url", cfg.Jenkins.URL, "view", req.View, "job", req.Job, "poll_interval", cfg.Poll.Interval.String())

	client := jenkins.NewClient(cfg.Jenkins, jenkins.WithRequestID(runID))
	runner := watch.NewRunner(jenkins.NewTrigger(client), poll.Options{
		Interval:    cfg.Poll.Interval,
		MaxAttempts: cfg.Poll.MaxAttempts,
		MaxWait:     cfg.Poll.MaxWait,
	}, stdout)

	if _, err := runner.Run(ctx, req); err != nil {
		return report(stderr, err)
	}
	return exitOK
}

// report prints the terminal error and maps it to an exit code
func report(stderr io.Writer, err error) int {
	var (
		remote    *engine.RemoteJobError
		transport *engine.TransportError
		missing   *engine.MissingLocationError
		malformed *engine.MalformedResponseError
		timeout   *engine.PollTimeoutError
	)

	switch {
	case errors.As(err, &remote):
		logger.Error("Remote job did not succeed", "job", remote.Job, "number", remote.Number, "result", string(remote.Result))
		fmt.Fprintf(stderr, "Job failed: %v\n", err)
		return exitJobFailed
	case errors.Is(err, context.Canceled):
		logger.Warn("Interrupted; the remote build was not cancelled", "error", err)
		fmt.Fprintf(stderr, "Interrupted: %v\n", err)
	case errors.As(err, &transport):
		logger.Error("Jenkins request failed", "error", err, "status", transport.StatusCode)
		fmt.Fprintf(stderr, "Transport error: %v\n", err)
	case errors.As(err, &missing):
		logger.Error("Cannot track triggered build", "error", err)
		fmt.Fprintf(stderr, "Missing location: %v\n", err)
	case errors.As(err, &malformed):
		logger.Error("Unexpected Jenkins response", "error", err)
		fmt.Fprintf(stderr, "Malformed response: %v\n", err)
	case errors.As(err, &timeout):
		logger.Error("Polling ceiling reached", "error", err)
		fmt.Fprintf(stderr, "Timed out: %v\n", err)
	default:
		logger.Error("Run failed", "error", err)
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitError
}
