// Copyright 2025 The VoxFlow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the voxflow daemon configuration.
// Precedence: environment variables override file values, which override
// built-in defaults. Flags applied by the caller sit on top of all three.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	vferrors "github.com/voxflow/voxflow/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Config represents the complete voxflow configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Log           LogConfig           `yaml:"log"`
	Storage       StorageConfig       `yaml:"storage"`
	Artifacts     ArtifactsConfig     `yaml:"artifacts"`
	Executor      ExecutorConfig      `yaml:"executor"`
	Auth          AuthConfig          `yaml:"auth"`
	Whisper       WhisperConfig       `yaml:"whisper"`
	AzureSpeech   AzureSpeechConfig   `yaml:"azure_speech"`
	AzureOpenAI   AzureOpenAIConfig   `yaml:"azure_openai"`
	Watch         WatchConfig         `yaml:"watch"`
	MCP           MCPConfig           `yaml:"mcp"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Listen is the TCP address to bind (host:port).
	// Environment: VOXFLOW_LISTEN
	// Default: 127.0.0.1:8315
	Listen string `yaml:"listen"`

	// BasePath is the URL prefix for all API routes. The bare paths are
	// also served for compatibility with older clients.
	// Environment: VOXFLOW_BASE_PATH
	// Default: /api/v1
	BasePath string `yaml:"base_path"`

	// ShutdownTimeout is the maximum duration to wait for the HTTP
	// server to close after draining finishes.
	// Environment: VOXFLOW_SHUTDOWN_TIMEOUT
	// Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// DrainTimeout is the maximum duration to wait for in-flight jobs
	// to complete after SIGTERM before their contexts are cancelled.
	// Environment: VOXFLOW_DRAIN_TIMEOUT
	// Default: 30s
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (debug, info, warn, error).
	// Environment: LOG_LEVEL
	// Default: info
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Environment: LOG_FORMAT
	// Default: json
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	// Environment: LOG_SOURCE
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// StorageConfig configures the workflow and job state stores.
type StorageConfig struct {
	// DataDir is the root directory for persisted state. Workflow
	// records live under <DataDir>/workflows.
	// Environment: VOXFLOW_DATA_DIR
	// Default: $XDG_DATA_HOME/voxflow or ~/.voxflow/data
	DataDir string `yaml:"data_dir"`

	// Backend is the job store backend: "sqlite" or "memory".
	// Environment: VOXFLOW_BACKEND
	// Default: sqlite
	Backend string `yaml:"backend"`

	// SQLitePath is the job database path (backend=sqlite).
	// Environment: VOXFLOW_SQLITE_PATH
	// Default: <DataDir>/jobs.db
	SQLitePath string `yaml:"sqlite_path"`

	// JobTTL is how long terminal job records are retained before the
	// sweeper deletes them.
	// Environment: VOXFLOW_JOB_TTL
	// Default: 24h
	JobTTL time.Duration `yaml:"job_ttl"`

	// SweepInterval is how often the TTL sweeper runs.
	// Environment: VOXFLOW_SWEEP_INTERVAL
	// Default: 1h
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ArtifactsConfig configures the artifact store.
type ArtifactsConfig struct {
	// Dir is the artifacts root; each workflow gets a subdirectory.
	// Environment: VOXFLOW_ARTIFACTS_DIR
	// Default: <storage.data_dir>/artifacts
	Dir string `yaml:"dir"`

	// MaxDownloadBytes caps remote source downloads. Downloads whose
	// Content-Length or streamed size exceed the cap fail with
	// SOURCE_TOO_LARGE.
	// Environment: VOXFLOW_MAX_DOWNLOAD_BYTES
	// Default: 2147483648 (2 GiB)
	MaxDownloadBytes int64 `yaml:"max_download_bytes"`
}

// OperationLimits bounds one pipeline operation kind.
type OperationLimits struct {
	// Concurrency is the maximum number of jobs of this kind running
	// at once. Excess jobs stay queued.
	Concurrency int `yaml:"concurrency"`

	// Timeout is the per-job wall-clock budget. Exceeding it fails the
	// job with TIMEOUT, retryable.
	Timeout time.Duration `yaml:"timeout"`
}

// ExecutorConfig bounds background job execution per operation kind.
type ExecutorConfig struct {
	Upload     OperationLimits `yaml:"upload"`
	Extract    OperationLimits `yaml:"extract"`
	Transcribe OperationLimits `yaml:"transcribe"`
	Enhance    OperationLimits `yaml:"enhance"`
}

// AuthConfig configures API authentication. Auth is enabled when at
// least one API key or a JWT secret is configured; otherwise all
// endpoints are open (local development).
type AuthConfig struct {
	// APIKeys is the list of accepted static keys. Clients present a
	// key via "Authorization: Bearer <key>" or "X-API-Key".
	// Environment: VOXFLOW_API_KEYS (comma-separated)
	APIKeys []string `yaml:"api_keys,omitempty"`

	// JWTSecret enables HS256 bearer token verification when set.
	// Environment: VOXFLOW_JWT_SECRET
	JWTSecret string `yaml:"jwt_secret,omitempty"`

	// JWTIssuer, when set, must match the iss claim of presented tokens.
	JWTIssuer string `yaml:"jwt_issuer,omitempty"`

	// RateLimitRPS is the sustained per-client request rate. 0 disables
	// rate limiting.
	// Default: 10
	RateLimitRPS float64 `yaml:"rate_limit_rps"`

	// RateLimitBurst is the per-client burst allowance.
	// Default: 20
	RateLimitBurst int `yaml:"rate_limit_burst"`
}

// Enabled reports whether authentication is configured.
func (a AuthConfig) Enabled() bool {
	return len(a.APIKeys) > 0 || a.JWTSecret != ""
}

// WhisperConfig configures the local speech recognizer.
type WhisperConfig struct {
	// Binary is the whisper executable to invoke.
	// Environment: VOXFLOW_WHISPER_BIN
	// Default: whisper
	Binary string `yaml:"binary"`

	// ModelDir is where model files are stored. Empty uses the
	// binary's own default.
	// Environment: VOXFLOW_WHISPER_MODEL_DIR
	ModelDir string `yaml:"model_dir,omitempty"`
}

// AzureSpeechConfig configures the cloud speech recognizer used as the
// fallback (or primary, when a request sets use_azure).
type AzureSpeechConfig struct {
	// Region is the Azure Speech region (e.g., "westus2"). The REST
	// endpoint is derived from it unless Endpoint overrides it.
	// Environment: AZURE_SPEECH_REGION
	Region string `yaml:"region,omitempty"`

	// Endpoint overrides the derived regional endpoint.
	Endpoint string `yaml:"endpoint,omitempty"`

	// Key is the subscription key. Prefer the environment variable or
	// the secrets chain over placing it in the file.
	// Environment: AZURE_SPEECH_KEY
	Key string `yaml:"key,omitempty"`
}

// AzureOpenAIConfig configures the enhancement/analysis collaborator.
type AzureOpenAIConfig struct {
	// Endpoint is the resource endpoint (https://<name>.openai.azure.com).
	// Environment: AZURE_OPENAI_ENDPOINT
	Endpoint string `yaml:"endpoint,omitempty"`

	// Deployment is the chat completions deployment name.
	// Environment: AZURE_OPENAI_DEPLOYMENT
	// Default: gpt-4o-mini
	Deployment string `yaml:"deployment,omitempty"`

	// Key is the API key. Prefer the environment variable or the
	// secrets chain over placing it in the file.
	// Environment: AZURE_OPENAI_API_KEY
	Key string `yaml:"key,omitempty"`
}

// WatchConfig configures the optional inbox watcher that creates a
// workflow and an upload job for every new media file in a directory.
type WatchConfig struct {
	// Enabled activates the watcher.
	// Environment: VOXFLOW_WATCH_DIR (setting it implies Enabled)
	Enabled bool `yaml:"enabled"`

	// Dir is the directory to watch. Required when Enabled.
	Dir string `yaml:"dir,omitempty"`

	// Glob filters file names (doublestar syntax, matched against the
	// path relative to Dir).
	// Default: **/*.mp4
	Glob string `yaml:"glob,omitempty"`

	// Filter is an optional expression evaluated against the file
	// (name, ext, size, dir). Files where it yields false are skipped.
	// Example: ext == ".mp4" && size > 1024
	Filter string `yaml:"filter,omitempty"`

	// Debounce is how long a file must be size-stable before ingest.
	// Default: 2s
	Debounce time.Duration `yaml:"debounce,omitempty"`
}

// MCPConfig configures the Model Context Protocol tool surface.
type MCPConfig struct {
	// Enabled serves MCP tools on stdio alongside the HTTP API.
	// Environment: VOXFLOW_MCP
	Enabled bool `yaml:"enabled"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	// MetricsEnabled serves Prometheus metrics at /metrics.
	// Default: true
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// TraceMode selects the span exporter: off, stdout, otlp-grpc, otlp-http.
	// Environment: VOXFLOW_TRACE_MODE
	// Default: off
	TraceMode string `yaml:"trace_mode,omitempty"`

	// OTLPEndpoint is the collector endpoint for the otlp-* modes.
	// Environment: VOXFLOW_OTLP_ENDPOINT
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`

	// Insecure disables TLS for the otlp-grpc exporter (development only).
	Insecure bool `yaml:"insecure,omitempty"`

	// ServiceName identifies this service in traces and metrics.
	// Default: voxflow
	ServiceName string `yaml:"service_name,omitempty"`

	// ServiceVersion is the application version, stamped by the build.
	ServiceVersion string `yaml:"service_version,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	dataDir := defaultDataDir()

	return &Config{
		Server: ServerConfig{
			Listen:          "127.0.0.1:8315",
			BasePath:        "/api/v1",
			ShutdownTimeout: 10 * time.Second,
			DrainTimeout:    30 * time.Second,
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "json",
			AddSource: false,
		},
		Storage: StorageConfig{
			DataDir:       dataDir,
			Backend:       "sqlite",
			SQLitePath:    "", // resolved to <DataDir>/jobs.db in applyDefaults
			JobTTL:        24 * time.Hour,
			SweepInterval: time.Hour,
		},
		Artifacts: ArtifactsConfig{
			Dir:              "", // resolved to <DataDir>/artifacts in applyDefaults
			MaxDownloadBytes: 2 << 30,
		},
		Executor: ExecutorConfig{
			Upload:     OperationLimits{Concurrency: 3, Timeout: 30 * time.Minute},
			Extract:    OperationLimits{Concurrency: 2, Timeout: 15 * time.Minute},
			Transcribe: OperationLimits{Concurrency: 2, Timeout: time.Hour},
			Enhance:    OperationLimits{Concurrency: 4, Timeout: 10 * time.Minute},
		},
		Auth: AuthConfig{
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
		Whisper: WhisperConfig{
			Binary: "whisper",
		},
		AzureOpenAI: AzureOpenAIConfig{
			Deployment: "gpt-4o-mini",
		},
		Watch: WatchConfig{
			Glob:     "**/*.mp4",
			Debounce: 2 * time.Second,
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: true,
			TraceMode:      "off",
			ServiceName:    "voxflow",
			ServiceVersion: "unknown",
		},
	}
}

// Load loads configuration from environment variables and optionally from a YAML file.
// Environment variables take precedence over file-based configuration.
// If configPath is empty, only environment variables are used.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &vferrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	// Fill zero values so minimal config files work
	cfg.applyDefaults()

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &vferrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills in zero values with sensible defaults.
// This allows minimal configs (e.g., just azure_openai) to work without
// specifying all fields explicitly.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Server.Listen == "" {
		c.Server.Listen = defaults.Server.Listen
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = defaults.Server.BasePath
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = defaults.Server.ShutdownTimeout
	}
	if c.Server.DrainTimeout == 0 {
		c.Server.DrainTimeout = defaults.Server.DrainTimeout
	}

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}

	if c.Storage.DataDir == "" {
		c.Storage.DataDir = defaults.Storage.DataDir
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = defaults.Storage.Backend
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(c.Storage.DataDir, "jobs.db")
	}
	if c.Storage.JobTTL == 0 {
		c.Storage.JobTTL = defaults.Storage.JobTTL
	}
	if c.Storage.SweepInterval == 0 {
		c.Storage.SweepInterval = defaults.Storage.SweepInterval
	}

	if c.Artifacts.Dir == "" {
		c.Artifacts.Dir = filepath.Join(c.Storage.DataDir, "artifacts")
	}
	if c.Artifacts.MaxDownloadBytes == 0 {
		c.Artifacts.MaxDownloadBytes = defaults.Artifacts.MaxDownloadBytes
	}

	applyLimitDefaults(&c.Executor.Upload, defaults.Executor.Upload)
	applyLimitDefaults(&c.Executor.Extract, defaults.Executor.Extract)
	applyLimitDefaults(&c.Executor.Transcribe, defaults.Executor.Transcribe)
	applyLimitDefaults(&c.Executor.Enhance, defaults.Executor.Enhance)

	if c.Auth.RateLimitRPS == 0 {
		c.Auth.RateLimitRPS = defaults.Auth.RateLimitRPS
	}
	if c.Auth.RateLimitBurst == 0 {
		c.Auth.RateLimitBurst = defaults.Auth.RateLimitBurst
	}

	if c.Whisper.Binary == "" {
		c.Whisper.Binary = defaults.Whisper.Binary
	}
	if c.AzureOpenAI.Deployment == "" {
		c.AzureOpenAI.Deployment = defaults.AzureOpenAI.Deployment
	}

	if c.Watch.Glob == "" {
		c.Watch.Glob = defaults.Watch.Glob
	}
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = defaults.Watch.Debounce
	}

	if c.Observability.TraceMode == "" {
		c.Observability.TraceMode = defaults.Observability.TraceMode
	}
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = defaults.Observability.ServiceName
	}
	if c.Observability.ServiceVersion == "" {
		c.Observability.ServiceVersion = defaults.Observability.ServiceVersion
	}
}

func applyLimitDefaults(limits *OperationLimits, defaults OperationLimits) {
	if limits.Concurrency == 0 {
		limits.Concurrency = defaults.Concurrency
	}
	if limits.Timeout == 0 {
		limits.Timeout = defaults.Timeout
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	// Expand home directory if present
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("VOXFLOW_LISTEN"); val != "" {
		c.Server.Listen = val
	}
	if val := os.Getenv("VOXFLOW_BASE_PATH"); val != "" {
		c.Server.BasePath = val
	}
	if val := os.Getenv("VOXFLOW_SHUTDOWN_TIMEOUT"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Server.ShutdownTimeout = duration
		}
	}
	if val := os.Getenv("VOXFLOW_DRAIN_TIMEOUT"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Server.DrainTimeout = duration
		}
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}

	if val := os.Getenv("VOXFLOW_DATA_DIR"); val != "" {
		c.Storage.DataDir = val
		c.Storage.SQLitePath = filepath.Join(val, "jobs.db")
		c.Artifacts.Dir = filepath.Join(val, "artifacts")
	}
	if val := os.Getenv("VOXFLOW_BACKEND"); val != "" {
		c.Storage.Backend = strings.ToLower(val)
	}
	if val := os.Getenv("VOXFLOW_SQLITE_PATH"); val != "" {
		c.Storage.SQLitePath = val
	}
	if val := os.Getenv("VOXFLOW_JOB_TTL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Storage.JobTTL = duration
		}
	}
	if val := os.Getenv("VOXFLOW_SWEEP_INTERVAL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Storage.SweepInterval = duration
		}
	}

	if val := os.Getenv("VOXFLOW_ARTIFACTS_DIR"); val != "" {
		c.Artifacts.Dir = val
	}
	if val := os.Getenv("VOXFLOW_MAX_DOWNLOAD_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Artifacts.MaxDownloadBytes = n
		}
	}

	if val := os.Getenv("VOXFLOW_API_KEYS"); val != "" {
		keys := strings.Split(val, ",")
		for i, k := range keys {
			keys[i] = strings.TrimSpace(k)
		}
		c.Auth.APIKeys = keys
	}
	if val := os.Getenv("VOXFLOW_JWT_SECRET"); val != "" {
		c.Auth.JWTSecret = val
	}

	if val := os.Getenv("VOXFLOW_WHISPER_BIN"); val != "" {
		c.Whisper.Binary = val
	}
	if val := os.Getenv("VOXFLOW_WHISPER_MODEL_DIR"); val != "" {
		c.Whisper.ModelDir = val
	}

	if val := os.Getenv("AZURE_SPEECH_REGION"); val != "" {
		c.AzureSpeech.Region = val
	}
	if val := os.Getenv("AZURE_SPEECH_KEY"); val != "" {
		c.AzureSpeech.Key = val
	}

	if val := os.Getenv("AZURE_OPENAI_ENDPOINT"); val != "" {
		c.AzureOpenAI.Endpoint = val
	}
	if val := os.Getenv("AZURE_OPENAI_DEPLOYMENT"); val != "" {
		c.AzureOpenAI.Deployment = val
	}
	if val := os.Getenv("AZURE_OPENAI_API_KEY"); val != "" {
		c.AzureOpenAI.Key = val
	}

	if val := os.Getenv("VOXFLOW_WATCH_DIR"); val != "" {
		c.Watch.Enabled = true
		c.Watch.Dir = val
	}
	if val := os.Getenv("VOXFLOW_MCP"); val != "" {
		c.MCP.Enabled = val == "1" || strings.ToLower(val) == "true"
	}

	if val := os.Getenv("VOXFLOW_TRACE_MODE"); val != "" {
		c.Observability.TraceMode = strings.ToLower(val)
	}
	if val := os.Getenv("VOXFLOW_OTLP_ENDPOINT"); val != "" {
		c.Observability.OTLPEndpoint = val
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Listen == "" {
		errs = append(errs, "server.listen must not be empty")
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, fmt.Sprintf("server.base_path must start with '/', got %q", c.Server.BasePath))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("server.shutdown_timeout must be positive, got %v", c.Server.ShutdownTimeout))
	}
	if c.Server.DrainTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.drain_timeout must be non-negative, got %v", c.Server.DrainTimeout))
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, warning, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	validBackends := map[string]bool{"sqlite": true, "memory": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, fmt.Sprintf("storage.backend must be one of [sqlite, memory], got %q", c.Storage.Backend))
	}
	if c.Storage.JobTTL <= 0 {
		errs = append(errs, fmt.Sprintf("storage.job_ttl must be positive, got %v", c.Storage.JobTTL))
	}
	if c.Storage.SweepInterval <= 0 {
		errs = append(errs, fmt.Sprintf("storage.sweep_interval must be positive, got %v", c.Storage.SweepInterval))
	}

	if c.Artifacts.MaxDownloadBytes <= 0 {
		errs = append(errs, fmt.Sprintf("artifacts.max_download_bytes must be positive, got %d", c.Artifacts.MaxDownloadBytes))
	}

	for _, limits := range []struct {
		name   string
		limits OperationLimits
	}{
		{"executor.upload", c.Executor.Upload},
		{"executor.extract", c.Executor.Extract},
		{"executor.transcribe", c.Executor.Transcribe},
		{"executor.enhance", c.Executor.Enhance},
	} {
		if limits.limits.Concurrency < 1 {
			errs = append(errs, fmt.Sprintf("%s.concurrency must be at least 1, got %d", limits.name, limits.limits.Concurrency))
		}
		if limits.limits.Timeout <= 0 {
			errs = append(errs, fmt.Sprintf("%s.timeout must be positive, got %v", limits.name, limits.limits.Timeout))
		}
	}

	if c.Auth.RateLimitRPS < 0 {
		errs = append(errs, fmt.Sprintf("auth.rate_limit_rps must be non-negative, got %v", c.Auth.RateLimitRPS))
	}
	for i, key := range c.Auth.APIKeys {
		if len(key) < 16 {
			errs = append(errs, fmt.Sprintf("auth.api_keys[%d] must be at least 16 characters", i))
		}
	}

	if c.Watch.Enabled && c.Watch.Dir == "" {
		errs = append(errs, "watch.dir is required when watch.enabled is true")
	}

	validModes := map[string]bool{"off": true, "stdout": true, "otlp-grpc": true, "otlp-http": true}
	if !validModes[c.Observability.TraceMode] {
		errs = append(errs, fmt.Sprintf("observability.trace_mode must be one of [off, stdout, otlp-grpc, otlp-http], got %q", c.Observability.TraceMode))
	}
	if strings.HasPrefix(c.Observability.TraceMode, "otlp") && c.Observability.OTLPEndpoint == "" {
		errs = append(errs, "observability.otlp_endpoint is required for otlp trace modes")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}

	return nil
}

// WorkflowsDir returns the directory holding workflow state files.
func (c *StorageConfig) WorkflowsDir() string {
	return filepath.Join(c.DataDir, "workflows")
}

// defaultDataDir returns the default data directory.
func defaultDataDir() string {
	// Use XDG_DATA_HOME if available
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "voxflow")
	}

	// Fall back to ~/.voxflow/data
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/voxflow-data"
	}

	return filepath.Join(homeDir, ".voxflow", "data")
}
