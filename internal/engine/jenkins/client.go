package jenkins

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"buildwait/internal/config"
	"buildwait/internal/engine"
	"buildwait/internal/logger"
)

// RequestIDHeader carries the run id on every request so server logs can be correlated
const RequestIDHeader = "X-Request-ID"

// Client represents a Jenkins API client
type Client struct {
	url       string
	base      *url.URL // parsed url, nil if it does not parse
	username  string
	token     string
	crumb     bool
	requestID string
	client    *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithRequestID sets the value sent in the X-Request-ID header
func WithRequestID(id string) Option {
	return func(c *Client) {
		c.requestID = id
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// NewClient creates a new Jenkins client instance
func NewClient(cfg config.JenkinsConfig, opts ...Option) *Client {
	// The per-request timeout is independent of the poll interval
	timeout := time.Duration(cfg.Timeout) * time.Second
	client := &http.Client{
		Timeout: timeout,
	}

	// Normalize URL: remove trailing slash to avoid double slashes in paths
	baseURL := strings.TrimSuffix(cfg.URL, "/")
	base, _ := url.Parse(baseURL)

	c := &Client{
		url:       baseURL,
		base:      base,
		username:  cfg.Username,
		token:     cfg.Token,
		crumb:     cfg.Crumb,
		requestID: uuid.NewString(),
		client:    client,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestID returns the id sent with every request
func (c *Client) RequestID() string {
	return c.requestID
}

// resolve turns a Location header into an absolute URL. A server-relative
// location keeps only the scheme and host of the base URL.
func (c *Client) resolve(location string) string {
	ref, err := url.Parse(location)
	if err != nil || c.base == nil {
		if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
			return location
		}
		return c.url + "/" + strings.TrimPrefix(location, "/")
	}
	return c.base.ResolveReference(ref).String()
}

// setHeaders applies basic authentication and the request id
func (c *Client) setHeaders(req *http.Request) {
	// Jenkins API uses Basic Authentication
	// Format: username:token
	auth := base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s:%s", c.username, c.token)))
	req.Header.Set("Authorization", "Basic "+auth)
	if c.requestID != "" {
		req.Header.Set(RequestIDHeader, c.requestID)
	}
}

// doRequest sends an HTTP request to fullURL and returns the response headers and body.
// Failures, including non-2xx statuses, are reported as *engine.TransportError.
func (c *Client) doRequest(ctx context.Context, method, fullURL string, body io.Reader, header http.Header) (http.Header, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, nil, &engine.TransportError{Op: method, URL: fullURL, Err: err}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, &engine.TransportError{Op: method, URL: fullURL, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &engine.TransportError{Op: method, URL: fullURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	// Check if the response status is successful
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Error("Jenkins API request failed", "status", resp.Status, "body", truncate(string(respBody), 512), "url", fullURL)
		return nil, nil, &engine.TransportError{
			Op:         method,
			URL:        fullURL,
			StatusCode: resp.StatusCode,
			Err:        formatJenkinsError(resp.StatusCode),
		}
	}

	logger.Debug("Jenkins API request", "method", method, "url", fullURL, "status", resp.StatusCode)
	return resp.Header, respBody, nil
}

// getJSON fetches fullURL and decodes the JSON body into v
func (c *Client) getJSON(ctx context.Context, fullURL string, v any) error {
	_, body, err := c.doRequest(ctx, http.MethodGet, fullURL, nil, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &engine.MalformedResponseError{URL: fullURL, Err: err}
	}
	return nil
}

// postForm sends a form-encoded POST and returns the response headers
func (c *Client) postForm(ctx context.Context, fullURL, form string) (http.Header, error) {
	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")

	// Jenkins may expect a CSRF token for POST requests
	if c.crumb {
		crumbField, crumbValue, err := c.getCrumb(ctx)
		if err != nil {
			logger.Warn("Failed to get CSRF crumb, proceeding without it", "error", err)
		} else if crumbField != "" && crumbValue != "" {
			header.Set(crumbField, crumbValue)
		}
	}

	respHeader, _, err := c.doRequest(ctx, http.MethodPost, fullURL, strings.NewReader(form), header)
	return respHeader, err
}

// getCrumb retrieves the CSRF crumb from Jenkins for POST requests
// Returns the crumb field name and value separately
func (c *Client) getCrumb(ctx context.Context) (string, string, error) {
	var crumbData struct {
		Crumb             string `json:"crumb"`
		CrumbRequestField string `json:"crumbRequestField"`
	}
	if err := c.getJSON(ctx, c.url+"/crumbIssuer/api/json", &crumbData); err != nil {
		return "", "", err
	}

	crumbField := crumbData.CrumbRequestField
	if crumbField == "" {
		crumbField = "Jenkins-Crumb" // Default field name
	}

	return crumbField, crumbData.Crumb, nil
}

// formatJenkinsError formats Jenkins API errors into user-friendly messages
// without exposing internal implementation details
func formatJenkinsError(statusCode int) error {
	switch statusCode {
	case http.StatusUnauthorized:
		return errors.New("authentication failed: invalid credentials")
	case http.StatusForbidden:
		return errors.New("access denied: insufficient permissions")
	case http.StatusNotFound:
		return errors.New("resource not found")
	case http.StatusBadRequest:
		return errors.New("invalid request")
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return errors.New("jenkins server error")
	default:
		return errors.New("jenkins api request failed")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
