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

package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the daemon's instruments. All record methods are
// no-ops on a nil receiver.
type Metrics struct {
	jobsStarted   metric.Int64Counter
	jobsFinished  metric.Int64Counter
	jobDuration   metric.Float64Histogram
	artifactBytes metric.Int64Counter
	cleanedBytes  metric.Int64Counter
	httpRequests  metric.Int64Counter
	httpDuration  metric.Float64Histogram
}

// NewMetrics registers the instruments on the given meter provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("voxflow")
	m := &Metrics{}

	var err error
	m.jobsStarted, err = meter.Int64Counter(
		"voxflow_jobs_started_total",
		metric.WithDescription("Jobs accepted by the executor"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: register instrument: %w", err)
	}

	m.jobsFinished, err = meter.Int64Counter(
		"voxflow_jobs_finished_total",
		metric.WithDescription("Jobs that reached a terminal status"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: register instrument: %w", err)
	}

	m.jobDuration, err = meter.Float64Histogram(
		"voxflow_job_duration_seconds",
		metric.WithDescription("Wall time from job start to terminal status"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: register instrument: %w", err)
	}

	m.artifactBytes, err = meter.Int64Counter(
		"voxflow_artifact_stored_bytes_total",
		metric.WithDescription("Bytes written into the artifact store"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: register instrument: %w", err)
	}

	m.cleanedBytes, err = meter.Int64Counter(
		"voxflow_artifact_cleaned_bytes_total",
		metric.WithDescription("Bytes reclaimed by artifact cleanup"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: register instrument: %w", err)
	}

	m.httpRequests, err = meter.Int64Counter(
		"voxflow_http_requests_total",
		metric.WithDescription("HTTP requests served"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: register instrument: %w", err)
	}

	m.httpDuration, err = meter.Float64Histogram(
		"voxflow_http_request_duration_seconds",
		metric.WithDescription("HTTP request handling duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: register instrument: %w", err)
	}

	return m, nil
}

// JobStarted records a job entering the executor.
func (m *Metrics) JobStarted(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.jobsStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// JobFinished records a terminal job with its outcome and duration.
func (m *Metrics) JobFinished(ctx context.Context, operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)
	m.jobsFinished.Add(ctx, 1, attrs)
	m.jobDuration.Record(ctx, duration.Seconds(), attrs)
}

// ArtifactStored records bytes written into the store.
func (m *Metrics) ArtifactStored(ctx context.Context, bytes int64) {
	if m == nil {
		return
	}
	m.artifactBytes.Add(ctx, bytes)
}

// ArtifactCleaned records bytes reclaimed by cleanup.
func (m *Metrics) ArtifactCleaned(ctx context.Context, bytes int64) {
	if m == nil {
		return
	}
	m.cleanedBytes.Add(ctx, bytes)
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
}
