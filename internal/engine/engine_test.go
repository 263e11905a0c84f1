package engine

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"testing"
)

func TestEncodeForm_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		params []Param
	}{
		{"Empty", nil},
		{"Single", []Param{{"BRANCH", "main"}}},
		{"Ordered", []Param{{"Z", "1"}, {"A", "2"}, {"M", "3"}}},
		{"Special characters", []Param{{"MSG", "hello world & more"}, {"EXPR", "a=b;c"}, {"PATH", "/tmp/x?y#z"}}},
		{"Unicode", []Param{{"NAME", "héllo wörld"}, {"EMOJI", "🚀"}}},
		{"Empty value", []Param{{"FLAG", ""}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := EncodeForm(tt.params)

			decoded, err := DecodeForm(encoded)
			if err != nil {
				t.Fatalf("Failed to decode %q: %v", encoded, err)
			}
			if !reflect.DeepEqual(decoded, tt.params) {
				t.Errorf("Expected %v, got %v", tt.params, decoded)
			}

			// The server side decodes with the standard form parser
			values, err := url.ParseQuery(encoded)
			if err != nil {
				t.Fatalf("Failed to parse query %q: %v", encoded, err)
			}
			if len(values) != len(tt.params) {
				t.Errorf("Expected %d keys, got %d", len(tt.params), len(values))
			}
			for _, p := range tt.params {
				if got := values.Get(p.Key); got != p.Value {
					t.Errorf("Expected %s=%q, got %q", p.Key, p.Value, got)
				}
			}
		})
	}
}

func TestEncodeForm_PreservesOrder(t *testing.T) {
	encoded := EncodeForm([]Param{{"b", "1"}, {"a", "2"}})
	if encoded != "b=1&a=2" {
		t.Errorf("Expected b=1&a=2, got %s", encoded)
	}
}

func TestResultTerminal(t *testing.T) {
	tests := []struct {
		result   Result
		terminal bool
	}{
		{ResultSuccess, true},
		{ResultFailure, true},
		{ResultAborted, true},
		{"UNSTABLE", false},
		{"NOT_BUILT", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := tt.result.Terminal(); got != tt.terminal {
			t.Errorf("Result %q: expected terminal=%v, got %v", tt.result, tt.terminal, got)
		}
	}
}

func TestJobRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     JobRequest
		wantErr bool
	}{
		{"Valid", JobRequest{View: "v", Job: "j", Params: []Param{{"A", "1"}, {"B", "2"}}}, false},
		{"No params", JobRequest{View: "v", Job: "j"}, false},
		{"Missing view", JobRequest{Job: "j"}, true},
		{"Missing job", JobRequest{View: "v"}, true},
		{"Empty key", JobRequest{View: "v", Job: "j", Params: []Param{{"", "1"}}}, true},
		{"Duplicate key", JobRequest{View: "v", Job: "j", Params: []Param{{"A", "1"}, {"A", "2"}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRemoteJobErrorIs(t *testing.T) {
	failed := fmt.Errorf("watch: %w", &RemoteJobError{Job: "deploy", Number: 7, Result: ResultFailure})
	aborted := fmt.Errorf("watch: %w", &RemoteJobError{Job: "deploy", Number: 7, Result: ResultAborted})

	if !errors.Is(failed, ErrJobFailed) || errors.Is(failed, ErrJobAborted) {
		t.Errorf("FAILURE should match only ErrJobFailed: %v", failed)
	}
	if !errors.Is(aborted, ErrJobAborted) || errors.Is(aborted, ErrJobFailed) {
		t.Errorf("ABORTED should match only ErrJobAborted: %v", aborted)
	}

	var remote *RemoteJobError
	if !errors.As(failed, &remote) || remote.Number != 7 {
		t.Errorf("Expected RemoteJobError with number 7, got %v", remote)
	}
}

func TestTransportErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &TransportError{Op: "GET", URL: "http://jenkins/api/json", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("Expected TransportError to unwrap to its cause")
	}
}
