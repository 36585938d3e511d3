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

// Package daemon assembles and runs the voxflow daemon: state stores,
// artifact store, executor, pipeline, optional watcher and MCP surface,
// and the HTTP server, with graceful drain on shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/voxflow/voxflow/internal/artifact"
	"github.com/voxflow/voxflow/internal/config"
	"github.com/voxflow/voxflow/internal/daemon/api"
	"github.com/voxflow/voxflow/internal/daemon/auth"
	"github.com/voxflow/voxflow/internal/daemon/watcher"
	"github.com/voxflow/voxflow/internal/enhance"
	"github.com/voxflow/voxflow/internal/executor"
	"github.com/voxflow/voxflow/internal/job"
	internallog "github.com/voxflow/voxflow/internal/log"
	"github.com/voxflow/voxflow/internal/mcptools"
	"github.com/voxflow/voxflow/internal/media"
	"github.com/voxflow/voxflow/internal/observability"
	"github.com/voxflow/voxflow/internal/pipeline"
	"github.com/voxflow/voxflow/internal/secrets"
	"github.com/voxflow/voxflow/internal/speech"
	"github.com/voxflow/voxflow/internal/workflow"
	"github.com/voxflow/voxflow/pkg/httpclient"
)

// Options contains daemon options set at build time.
type Options struct {
	Version   string
	Commit    string
	BuildDate string
}

// Daemon is the voxflowd process.
type Daemon struct {
	cfg      *config.Config
	opts     Options
	logger   *slog.Logger
	resolver *secrets.Resolver

	jobs      *job.Store
	workflows *workflow.Store
	exec      *executor.Executor
	pipeline  *pipeline.Service
	provider  *observability.Provider
	watcher   *watcher.Watcher
	mcp       *mcptools.Server

	server *http.Server
	ln     net.Listener

	mu      sync.Mutex
	started bool
}

// New assembles a daemon from configuration. Collaborators that need
// credentials (cloud speech, enhancement) are left unconfigured when
// their settings are absent; the pipeline reports their absence per
// operation rather than failing startup.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := internallog.WithComponent(internallog.New(&internallog.Config{
		Level:     cfg.Log.Level,
		Format:    internallog.Format(cfg.Log.Format),
		AddSource: cfg.Log.AddSource,
	}), "daemon")
	slog.SetDefault(logger)

	d := &Daemon{cfg: cfg, opts: opts, logger: logger}

	d.resolver = newSecretsResolver(cfg, logger)
	fillCredentials(context.Background(), cfg, d.resolver)

	workflows, err := workflow.NewStore(cfg.Storage.WorkflowsDir(), logger)
	if err != nil {
		return nil, fmt.Errorf("workflow store: %w", err)
	}
	d.workflows = workflows

	backend, err := newJobBackend(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("job store: %w", err)
	}
	d.jobs = job.NewStore(backend, cfg.Storage.JobTTL, logger)

	downloadClient, err := newDownloadClient()
	if err != nil {
		return nil, err
	}
	artifacts, err := artifact.New(artifact.Config{
		Root:             cfg.Artifacts.Dir,
		MaxDownloadBytes: cfg.Artifacts.MaxDownloadBytes,
		HTTPClient:       downloadClient,
		S3:               newS3Fetcher(downloadClient, logger),
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}

	provider, err := observability.New(context.Background(), cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	d.provider = provider

	d.exec = executor.New(cfg.Executor, d.jobs, workflows, logger)
	d.exec.SetMetrics(provider.Metrics())

	var cloud speech.Recognizer
	if cfg.AzureSpeech.Key != "" && (cfg.AzureSpeech.Region != "" || cfg.AzureSpeech.Endpoint != "") {
		azure, err := speech.NewAzureSpeech(cfg.AzureSpeech, logger)
		if err != nil {
			logger.Warn("azure speech unavailable", internallog.Error(err))
		} else {
			cloud = azure
		}
	}

	var analyzer pipeline.Analyzer
	if cfg.AzureOpenAI.Endpoint != "" {
		enhancer, err := enhance.New(cfg.AzureOpenAI, logger)
		if err != nil {
			logger.Warn("azure openai unavailable", internallog.Error(err))
		} else {
			analyzer = enhancer
		}
	}

	d.pipeline = pipeline.New(pipeline.Options{
		Workflows: workflows,
		Jobs:      d.jobs,
		Artifacts: artifacts,
		Executor:  d.exec,
		Extractor: media.NewFFmpeg(logger),
		Local:     speech.NewWhisper(cfg.Whisper, logger),
		Cloud:     cloud,
		Analyzer:  analyzer,
		Metrics:   provider.Metrics(),
		Logger:    logger,
	})

	if cfg.Watch.Enabled {
		w, err := watcher.New(cfg.Watch, d.pipeline, logger)
		if err != nil {
			return nil, fmt.Errorf("watch folder: %w", err)
		}
		d.watcher = w
	}

	if cfg.MCP.Enabled {
		d.mcp = mcptools.New(d.pipeline, opts.Version, logger)
	}

	return d, nil
}

// Pipeline exposes the assembled service, for embedding the daemon in
// other processes (the MCP stdio mode reuses it).
func (d *Daemon) Pipeline() *pipeline.Service { return d.pipeline }

// Start runs the daemon until ctx is cancelled or the server fails.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	// Records left queued or running by a previous process fail with
	// RESTART_INTERRUPTED; their workflow steps fail with them so
	// clients can force a re-run.
	recovered, err := d.jobs.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("recover interrupted jobs: %w", err)
	}
	for _, j := range recovered {
		if _, err := d.workflows.FailStep(j.WorkflowID, j.Operation.Step(),
			j.Error.Code, j.Error.Message, nil); err != nil {
			d.logger.Warn("failed to mark interrupted step",
				slog.String("workflow_id", j.WorkflowID),
				slog.String("job_id", j.ID),
				internallog.Error(err))
		}
	}

	go d.jobs.RunSweeper(ctx, d.cfg.Storage.SweepInterval)

	if d.watcher != nil {
		d.watcher.Start(ctx)
		d.logger.Info("watch folder active", slog.String("dir", d.cfg.Watch.Dir))
	}

	mcpErrCh := make(chan error, 1)
	if d.mcp != nil {
		go func() {
			if err := d.mcp.ServeStdio(ctx); err != nil {
				mcpErrCh <- fmt.Errorf("mcp server: %w", err)
			}
		}()
	}

	var authn *auth.Authenticator
	if d.cfg.Auth.Enabled() {
		authn = auth.New(d.cfg.Auth, d.logger)
		d.logger.Info("authentication enabled",
			slog.Int("api_keys", len(d.cfg.Auth.APIKeys)),
			slog.Bool("jwt", d.cfg.Auth.JWTSecret != ""))
	}

	var metricsHandler http.Handler
	if d.cfg.Observability.MetricsEnabled {
		metricsHandler = d.provider.MetricsHandler()
	}
	router := api.New(api.Options{
		Pipeline:       d.pipeline,
		Auth:           authn,
		Metrics:        d.provider.Metrics(),
		MetricsHandler: metricsHandler,
		BasePath:       d.cfg.Server.BasePath,
		Version:        d.opts.Version,
		Logger:         d.logger,
	})

	ln, err := net.Listen("tcp", d.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.cfg.Server.Listen, err)
	}
	d.ln = ln

	d.server = &http.Server{
		Handler:      router.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	d.logger.Info("voxflowd starting",
		slog.String("version", d.opts.Version),
		slog.String("listen", ln.Addr().String()),
		slog.String("backend", d.cfg.Storage.Backend))

	errCh := make(chan error, 1)
	go func() {
		if err := d.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	case err := <-mcpErrCh:
		return err
	}
}

// Addr returns the bound listen address, once Start has run.
func (d *Daemon) Addr() string {
	if d.ln == nil {
		return ""
	}
	return d.ln.Addr().String()
}

// Shutdown drains in-flight jobs, then closes the HTTP server and the
// stores. Jobs still running when the drain timeout expires have their
// contexts cancelled by executor shutdown.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return nil
	}

	active := d.exec.ActiveJobCount()
	d.logger.Info("graceful shutdown initiated", slog.Int("active_jobs", active))

	d.exec.StartDraining()
	if d.server != nil {
		d.server.SetKeepAlivesEnabled(false)
	}

	if err := d.exec.WaitForDrain(ctx, d.cfg.Server.DrainTimeout); err != nil {
		d.logger.Warn("drain timeout exceeded",
			slog.Int("remaining_jobs", d.exec.ActiveJobCount()),
			slog.Duration("drain_timeout", d.cfg.Server.DrainTimeout))
	} else {
		d.logger.Info("all jobs completed during drain")
	}

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.logger.Warn("watcher close error", internallog.Error(err))
		}
	}

	if d.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, d.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			d.logger.Error("http server shutdown error", internallog.Error(err))
		}
	}

	if err := d.exec.Shutdown(ctx, 0); err != nil {
		d.logger.Warn("executor shutdown error", internallog.Error(err))
	}
	if err := d.jobs.Close(); err != nil {
		d.logger.Warn("job store close error", internallog.Error(err))
	}
	if err := d.provider.Shutdown(ctx); err != nil {
		d.logger.Warn("observability shutdown error", internallog.Error(err))
	}

	d.logger.Info("voxflowd stopped")
	return nil
}

// newJobBackend builds the configured job store backend.
func newJobBackend(cfg config.StorageConfig) (job.Backend, error) {
	switch cfg.Backend {
	case "memory":
		return job.NewMemoryBackend(), nil
	case "", "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = filepath.Join(cfg.DataDir, "jobs.db")
		}
		return job.NewSQLiteBackend(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// newDownloadClient is the retrying HTTP client used for source
// downloads and the cloud speech/S3 collaborators.
func newDownloadClient() (*http.Client, error) {
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 10 * time.Minute
	cfg.UserAgent = "voxflowd/1.0"
	client, err := httpclient.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("download client: %w", err)
	}
	return client, nil
}

// newS3Fetcher enables s3:// sources when an AWS region is present in
// the environment. Absent credentials are not fatal; s3 uploads fail
// per job with SOURCE_UNREACHABLE instead.
func newS3Fetcher(client *http.Client, logger *slog.Logger) artifact.S3Fetcher {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		return nil
	}
	s3, err := artifact.NewS3Client(context.Background(), artifact.S3Config{
		Region:     region,
		HTTPClient: client,
	})
	if err != nil {
		logger.Warn("s3 sources unavailable", internallog.Error(err))
		return nil
	}
	logger.Info("s3 sources enabled", slog.String("region", region))
	return s3
}

// newSecretsResolver assembles the env → keychain → encrypted-file
// resolution chain. Backends that cannot initialize are skipped.
func newSecretsResolver(cfg *config.Config, logger *slog.Logger) *secrets.Resolver {
	backends := []secrets.Backend{secrets.NewEnvBackend()}
	if kc := secrets.NewKeychainBackend(); kc.Available() {
		backends = append(backends, kc)
	}
	if cfg.Storage.DataDir != "" {
		fb, err := secrets.NewFileBackend(filepath.Join(cfg.Storage.DataDir, "secrets.enc"))
		if err != nil {
			logger.Warn("file secrets backend unavailable", internallog.Error(err))
		} else {
			backends = append(backends, fb)
		}
	}
	return secrets.NewResolver(backends...)
}

// fillCredentials resolves collaborator credentials the config file
// left empty through the secrets chain.
func fillCredentials(ctx context.Context, cfg *config.Config, resolver *secrets.Resolver) {
	if cfg.AzureSpeech.Key == "" {
		if v, ok := resolver.Lookup(ctx, secrets.KeyAzureSpeech); ok {
			cfg.AzureSpeech.Key = v
		}
	}
	if cfg.AzureOpenAI.Key == "" {
		if v, ok := resolver.Lookup(ctx, secrets.KeyAzureOpenAI); ok {
			cfg.AzureOpenAI.Key = v
		}
	}
	if cfg.Auth.JWTSecret == "" {
		if v, ok := resolver.Lookup(ctx, secrets.KeyJWTSecret); ok {
			cfg.Auth.JWTSecret = v
		}
	}
}
