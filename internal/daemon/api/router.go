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

// Package api is the HTTP surface of the daemon: a thin layer that
// parses and validates requests, dispatches to the pipeline service,
// and encodes responses through the shared envelope. Job endpoints
// answer 202 and direct the caller to poll; analysis endpoints answer
// inline. Routes are served both bare and under the configured base
// path.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/voxflow/voxflow/internal/daemon/auth"
	"github.com/voxflow/voxflow/internal/daemon/httputil"
	"github.com/voxflow/voxflow/internal/jq"
	vflog "github.com/voxflow/voxflow/internal/log"
	"github.com/voxflow/voxflow/internal/observability"
	"github.com/voxflow/voxflow/internal/pipeline"
	"github.com/voxflow/voxflow/internal/requestid"
	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

// maxBodyBytes caps request bodies. Requests carry references and
// small text, never media.
const maxBodyBytes = 1 << 20

// workflowIDPattern validates client-supplied workflow identifiers.
var workflowIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Options configures the router. Pipeline is required; everything
// else degrades gracefully when absent.
type Options struct {
	Pipeline *pipeline.Service

	// Auth guards every route except /health and /metrics. Nil means
	// no authentication.
	Auth *auth.Authenticator

	// Metrics records per-request counters. Nil disables recording.
	Metrics *observability.Metrics

	// MetricsHandler serves GET /metrics (Prometheus text). Nil turns
	// the route into a 404.
	MetricsHandler http.Handler

	// BasePath is the additional URL prefix the routes are mounted
	// under, e.g. "/api/v1". Bare paths are always served too.
	BasePath string

	// Version is reported by /health.
	Version string

	Logger *slog.Logger
}

// Router dispatches API requests.
type Router struct {
	pipeline *pipeline.Service
	auth     *auth.Authenticator
	metrics  *observability.Metrics
	metricsH http.Handler
	selector *jq.Selector
	basePath string
	version  string
	logger   *slog.Logger
}

// New builds a Router. The jq selector behind the select query
// parameter runs with its default execution caps.
func New(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		pipeline: opts.Pipeline,
		auth:     opts.Auth,
		metrics:  opts.Metrics,
		metricsH: opts.MetricsHandler,
		selector: jq.NewSelector(0, 0),
		basePath: strings.TrimRight(opts.BasePath, "/"),
		version:  opts.Version,
		logger:   vflog.WithComponent(logger, "api"),
	}
}

// Handler returns the fully assembled HTTP handler: request ID
// assignment, request metrics, then routing.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	rt.register(mux, "")
	if rt.basePath != "" {
		rt.register(mux, rt.basePath)
	}
	return requestid.Middleware(rt.measure(mux))
}

// register mounts every route under the given prefix.
func (rt *Router) register(mux *http.ServeMux, prefix string) {
	open := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, h)
	}
	protected := func(pattern string, h http.HandlerFunc) {
		var handler http.Handler = h
		if rt.auth != nil {
			handler = rt.auth.Middleware(handler)
		}
		mux.Handle(pattern, handler)
	}

	open("GET "+prefix+"/health", rt.health)
	open("GET "+prefix+"/metrics", rt.serveMetrics)

	protected("POST "+prefix+"/workflow", rt.createWorkflow)
	protected("GET "+prefix+"/workflow/{workflow_id}", rt.getWorkflow)
	protected("GET "+prefix+"/workflow/{workflow_id}/jobs", rt.listWorkflowJobs)
	protected("DELETE "+prefix+"/workflow/{workflow_id}", rt.deleteWorkflow)

	protected("POST "+prefix+"/upload-video", rt.uploadVideo)
	protected("POST "+prefix+"/extract-audio", rt.extractAudio)
	protected("POST "+prefix+"/transcribe-audio", rt.transcribeAudio)
	protected("POST "+prefix+"/enhance-transcription", rt.enhanceTranscription)

	protected("POST "+prefix+"/summarize-content", rt.analyze(pipeline.AnalyzeSummary))
	protected("POST "+prefix+"/extract-key-points", rt.analyze(pipeline.AnalyzeKeyPoints))
	protected("POST "+prefix+"/analyze-sentiment", rt.analyze(pipeline.AnalyzeSentiment))
	protected("POST "+prefix+"/identify-topics", rt.analyze(pipeline.AnalyzeTopics))

	protected("GET "+prefix+"/jobs/{job_id}", rt.getJob)
	protected("POST "+prefix+"/jobs/{job_id}/cancel", rt.cancelJob)
}

// measure wraps the mux with request metrics keyed on the matched
// route pattern, so path parameters do not explode label cardinality.
func (rt *Router) measure(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		mux.ServeHTTP(rec, r)

		_, pattern := mux.Handler(r)
		if pattern == "" {
			pattern = "unmatched"
		}
		rt.metrics.HTTPRequest(r.Context(), r.Method, pattern, rec.status, time.Since(start))
	})
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (rt *Router) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"service":      "voxflow",
		"version":      rt.version,
		"architecture": runtime.GOOS + "/" + runtime.GOARCH,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (rt *Router) serveMetrics(w http.ResponseWriter, r *http.Request) {
	if rt.metricsH == nil {
		http.NotFound(w, r)
		return
	}
	rt.metricsH.ServeHTTP(w, r)
}

// decodeBody parses an optional JSON request body into dst. An empty
// body leaves dst zero-valued; malformed JSON is a validation error.
func decodeBody(r *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &vferrors.ValidationError{Message: "malformed JSON body: " + err.Error()}
	}
	return nil
}

// checkWorkflowID validates a client-supplied workflow id. Empty is
// allowed where the caller treats it as "create one for me".
func checkWorkflowID(id string) error {
	if id == "" || workflowIDPattern.MatchString(id) {
		return nil
	}
	return &vferrors.ValidationError{
		Field:   "workflow_id",
		Message: "workflow_id must be 1-128 characters of [A-Za-z0-9_-]",
	}
}

// requireWorkflowID validates a workflow id on endpoints where it is
// mandatory.
func requireWorkflowID(id string) error {
	if id == "" {
		return &vferrors.ValidationError{Field: "workflow_id", Message: "workflow_id is required"}
	}
	return checkWorkflowID(id)
}

// writeSelected applies the optional select query parameter to payload
// before encoding. An invalid expression is a 400.
func (rt *Router) writeSelected(w http.ResponseWriter, r *http.Request, payload any) {
	expr := r.URL.Query().Get("select")
	if expr == "" {
		httputil.WriteJSON(w, http.StatusOK, payload)
		return
	}
	selected, err := rt.selector.Apply(r.Context(), expr, payload)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, selected)
}

// writeDraining answers a submission received during graceful
// shutdown. Draining is an HTTP-layer condition, not a job error.
func writeDraining(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "10")
	httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
}
