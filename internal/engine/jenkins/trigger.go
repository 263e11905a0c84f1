package jenkins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"buildwait/internal/engine"
	"buildwait/internal/logger"
)

// jenkinsQueueItem is the subset of /queue/item/{id}/api/json we read
type jenkinsQueueItem struct {
	ID         int64  `json:"id"`
	Why        string `json:"why"`
	Cancelled  bool   `json:"cancelled"`
	Executable *struct {
		Number json.RawMessage `json:"number"`
		URL    string          `json:"url"`
	} `json:"executable"`
	Task struct {
		Name string `json:"name"`
	} `json:"task"`
}

// jenkinsBuild is the subset of /job/{job}/{number}/api/json we read
type jenkinsBuild struct {
	Number   int64           `json:"number"`
	Building bool            `json:"building"`
	Result   json.RawMessage `json:"result"`
	URL      string          `json:"url"`
	Duration int64           `json:"duration"` // milliseconds
}

// Trigger implements the CIEngine interface for Jenkins
type Trigger struct {
	client *Client
}

var _ engine.CIEngine = (*Trigger)(nil)

// NewTrigger creates a new Jenkins trigger instance
func NewTrigger(client *Client) *Trigger {
	return &Trigger{
		client: client,
	}
}

// validateName rejects names that could escape their path segment
func validateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s name cannot be empty", kind)
	}
	if strings.Contains(name, "..") || strings.Contains(name, "/") {
		return fmt.Errorf("invalid %s name format: %s", kind, name)
	}
	return nil
}

// TriggerBuild enqueues one build of the requested job through buildWithParameters.
// It is never retried: a second POST would enqueue a second build.
func (t *Trigger) TriggerBuild(ctx context.Context, req engine.JobRequest) (engine.QueueReference, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if err := validateName("view", req.View); err != nil {
		return "", err
	}
	if err := validateName("job", req.Job); err != nil {
		return "", err
	}

	fullURL := fmt.Sprintf("%s/view/%s/job/%s/buildWithParameters",
		t.client.url, url.PathEscape(req.View), url.PathEscape(req.Job))

	header, err := t.client.postForm(ctx, fullURL, engine.EncodeForm(req.Params))
	if err != nil {
		return "", err
	}

	location := header.Get("Location")
	if location == "" {
		return "", &engine.MissingLocationError{URL: fullURL}
	}

	logger.Info("Triggered Jenkins build", "job", req.Job, "view", req.View, "params", len(req.Params), "queue", location)
	return engine.QueueReference(location), nil
}

// QueueItem fetches {location}/api/json and reports whether a build has been assigned
func (t *Trigger) QueueItem(ctx context.Context, ref engine.QueueReference) (*engine.QueueStatus, error) {
	if ref == "" {
		return nil, errors.New("queue reference cannot be empty")
	}
	fullURL := strings.TrimSuffix(t.client.resolve(string(ref)), "/") + "/api/json"

	var item jenkinsQueueItem
	if err := t.client.getJSON(ctx, fullURL, &item); err != nil {
		return nil, err
	}

	status := &engine.QueueStatus{
		Why:       item.Why,
		Cancelled: item.Cancelled,
	}
	if item.Executable == nil {
		return status, nil
	}

	number, err := parseBuildNumber(item.Executable.Number)
	if err != nil {
		return nil, &engine.MalformedResponseError{URL: fullURL, Field: "executable.number", Err: err}
	}
	status.Executable = &engine.ExecutionHandle{
		Job:    item.Task.Name,
		Number: number,
		URL:    item.Executable.URL,
	}
	return status, nil
}

// parseBuildNumber accepts only a JSON integer
func parseBuildNumber(raw json.RawMessage) (int64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, errors.New("missing")
	}
	// Jenkins serializes the number as a JSON integer, but proxies and
	// other serializers may emit 42.0 or 4.2e1
	var num json.Number
	if s[0] == '"' || json.Unmarshal(raw, &num) != nil {
		return 0, fmt.Errorf("not an integer: %s", s)
	}
	if n, err := num.Int64(); err == nil {
		return n, nil
	}
	f, err := num.Float64()
	if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("not an integer: %s", s)
	}
	return int64(f), nil
}

// BuildStatus fetches /job/{job}/{number}/api/json
func (t *Trigger) BuildStatus(ctx context.Context, handle engine.ExecutionHandle) (*engine.ExecutionStatus, error) {
	if err := validateName("job", handle.Job); err != nil {
		return nil, err
	}
	fullURL := fmt.Sprintf("%s/job/%s/%d/api/json", t.client.url, url.PathEscape(handle.Job), handle.Number)

	var build jenkinsBuild
	if err := t.client.getJSON(ctx, fullURL, &build); err != nil {
		return nil, err
	}

	return &engine.ExecutionStatus{
		Number:   build.Number,
		Building: build.Building,
		Result:   parseResult(build.Result),
		URL:      build.URL,
		Duration: time.Duration(build.Duration) * time.Millisecond,
	}, nil
}

// parseResult returns the result string, or empty when it is absent, null or not a string
func parseResult(raw json.RawMessage) engine.Result {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return engine.Result(s)
}
