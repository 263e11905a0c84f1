package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"

	"buildwait/internal/engine"
)

// Config represents the application configuration
type Config struct {
	Jenkins JenkinsConfig `yaml:"jenkins"`
	Job     JobConfig     `yaml:"job"`
	Poll    PollConfig    `yaml:"poll"`
	Log     LogConfig     `yaml:"log"`
}

// JenkinsConfig represents the Jenkins configuration
type JenkinsConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"` // Jenkins user that owns the API token
	Token    string `yaml:"token"`
	Timeout  int    `yaml:"timeout"` // Request timeout in seconds (default: 30)
	Crumb    bool   `yaml:"crumb"`   // Fetch a CSRF crumb before triggering
}

// JobConfig names the job to trigger
type JobConfig struct {
	View   string   `yaml:"view"`
	Name   string   `yaml:"name"`
	Params []string `yaml:"params"` // KEY=VALUE entries, each may hold several pairs separated by ';'
}

// PollConfig controls the queue and build polling loops.
// Zero MaxWait and MaxAttempts mean poll until a terminal state.
type PollConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxWait     time.Duration `yaml:"max_wait"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// LogConfig represents the logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Flags holds command line values that take precedence over every other source.
// Empty fields are ignored.
type Flags struct {
	View   string
	Job    string
	Params []string
}

// DefaultPollInterval is the delay between two polls of the same endpoint
const DefaultPollInterval = 3 * time.Second

// Load builds the configuration from an optional YAML file, a .env file,
// the environment and command line flags, in increasing order of precedence
func Load(filePath, envFile string, flags Flags) (*Config, error) {
	config := &Config{}

	if filePath != "" {
		data, err := os.ReadFile(filePath) //nolint:gosec // Trusted file path input
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse %s: %w", filePath, err)
		}
	}

	// godotenv never overrides variables that are already set
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if err := applyEnvVars(config); err != nil {
		return nil, err
	}
	applyFlags(config, flags)
	setDefaults(config)

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvVars applies environment variables to the configuration
func applyEnvVars(config *Config) error {
	// Jenkins configuration
	if url := os.Getenv("JENKINS_URL"); url != "" {
		config.Jenkins.URL = url
	}
	if username := os.Getenv("JENKINS_USER"); username != "" {
		config.Jenkins.Username = username
	}
	if token := os.Getenv("JENKINS_TOKEN"); token != "" {
		config.Jenkins.Token = token
	}
	if timeout := os.Getenv("JENKINS_TIMEOUT"); timeout != "" {
		if t, err := strconv.Atoi(timeout); err == nil && t > 0 {
			config.Jenkins.Timeout = t
		}
	}
	if crumb := os.Getenv("JENKINS_CRUMB"); crumb != "" {
		b, err := strconv.ParseBool(crumb)
		if err != nil {
			return fmt.Errorf("invalid JENKINS_CRUMB: %q", crumb)
		}
		config.Jenkins.Crumb = b
	}

	// Job configuration
	if view := os.Getenv("JENKINS_VIEW"); view != "" {
		config.Job.View = view
	}
	if job := os.Getenv("JENKINS_JOB"); job != "" {
		config.Job.Name = job
	}

	// Poll configuration
	if interval := os.Getenv("BUILDWAIT_POLL_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("invalid BUILDWAIT_POLL_INTERVAL: %v", err)
		}
		config.Poll.Interval = d
	}
	if maxWait := os.Getenv("BUILDWAIT_MAX_WAIT"); maxWait != "" {
		d, err := time.ParseDuration(maxWait)
		if err != nil {
			return fmt.Errorf("invalid BUILDWAIT_MAX_WAIT: %v", err)
		}
		config.Poll.MaxWait = d
	}
	if attempts := os.Getenv("BUILDWAIT_MAX_ATTEMPTS"); attempts != "" {
		n, err := strconv.Atoi(attempts)
		if err != nil {
			return fmt.Errorf("invalid BUILDWAIT_MAX_ATTEMPTS: %q", attempts)
		}
		config.Poll.MaxAttempts = n
	}

	// Log configuration
	if level := os.Getenv("BUILDWAIT_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
	if format := os.Getenv("BUILDWAIT_LOG_FORMAT"); format != "" {
		config.Log.Format = format
	}

	return nil
}

func applyFlags(config *Config, flags Flags) {
	if flags.View != "" {
		config.Job.View = flags.View
	}
	if flags.Job != "" {
		config.Job.Name = flags.Job
	}
	if len(flags.Params) > 0 {
		config.Job.Params = flags.Params
	}
}

// setDefaults sets default values for the configuration
func setDefaults(config *Config) {
	// Jenkins defaults
	if config.Jenkins.Timeout == 0 {
		config.Jenkins.Timeout = 30 // 30 seconds default timeout
	}

	// Poll defaults
	if config.Poll.Interval == 0 {
		config.Poll.Interval = DefaultPollInterval
	}

	// Log defaults
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	// Validate Jenkins configuration
	if cfg.Jenkins.URL == "" {
		return fmt.Errorf("jenkins.url is required (JENKINS_URL)")
	}
	u, err := url.Parse(cfg.Jenkins.URL)
	if err != nil {
		return fmt.Errorf("invalid jenkins.url: %v", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid jenkins.url: %q (must be an absolute URL)", cfg.Jenkins.URL)
	}
	if cfg.Jenkins.Token == "" {
		return fmt.Errorf("jenkins.token is required (JENKINS_TOKEN)")
	}
	if cfg.Jenkins.Username == "" {
		return fmt.Errorf("jenkins.username is required (JENKINS_USER)")
	}
	if cfg.Jenkins.Timeout < 0 {
		return fmt.Errorf("invalid jenkins.timeout: %d (must be positive)", cfg.Jenkins.Timeout)
	}

	// Validate job configuration
	if cfg.Job.View == "" {
		return fmt.Errorf("job.view is required (-view or JENKINS_VIEW)")
	}
	if cfg.Job.Name == "" {
		return fmt.Errorf("job.name is required (-job or JENKINS_JOB)")
	}
	if _, err := ParseParams(cfg.Job.Params); err != nil {
		return err
	}

	// Validate poll configuration
	if cfg.Poll.Interval < 0 {
		return fmt.Errorf("invalid poll.interval: %s (must be positive)", cfg.Poll.Interval)
	}
	if cfg.Poll.MaxWait < 0 {
		return fmt.Errorf("invalid poll.max_wait: %s (must be non-negative)", cfg.Poll.MaxWait)
	}
	if cfg.Poll.MaxAttempts < 0 {
		return fmt.Errorf("invalid poll.max_attempts: %d (must be non-negative)", cfg.Poll.MaxAttempts)
	}

	// Validate log configuration
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level: %q (must be debug, info, warn or error)", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format: %q (must be text or json)", cfg.Log.Format)
	}

	return nil
}

// ParseParams parses KEY=VALUE entries. Each entry may contain several
// pairs separated by ';'. The value is everything after the first '='.
func ParseParams(entries []string) ([]engine.Param, error) {
	var params []engine.Param
	seen := make(map[string]bool)
	for _, entry := range entries {
		for _, pair := range strings.Split(entry, ";") {
			if pair == "" {
				continue
			}
			key, value, ok := strings.Cut(pair, "=")
			if !ok {
				return nil, fmt.Errorf("invalid KEY=VALUE: no `=` found in %q", pair)
			}
			if key == "" {
				return nil, fmt.Errorf("invalid KEY=VALUE: empty key in %q", pair)
			}
			if seen[key] {
				return nil, fmt.Errorf("duplicate parameter key: %s", key)
			}
			seen[key] = true
			params = append(params, engine.Param{Key: key, Value: value})
		}
	}
	return params, nil
}

// JobRequest builds the request for the configured job
func (c *Config) JobRequest() (engine.JobRequest, error) {
	params, err := ParseParams(c.Job.Params)
	if err != nil {
		return engine.JobRequest{}, err
	}
	req := engine.JobRequest{
		View:   c.Job.View,
		Job:    c.Job.Name,
		Params: params,
	}
	return req, req.Validate()
}
