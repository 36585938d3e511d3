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
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxflow/voxflow/internal/config"
)

func TestNewDisabled(t *testing.T) {
	p, err := New(context.Background(), config.ObservabilityConfig{}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.Nil(t, p)

	// Everything must be safe on the nil provider.
	assert.Nil(t, p.Metrics())
	assert.Nil(t, p.MetricsHandler())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewUnknownTraceMode(t *testing.T) {
	_, err := New(context.Background(), config.ObservabilityConfig{TraceMode: "jaeger"}, slog.New(slog.DiscardHandler))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown trace mode")
}

func TestMetricsExposedOnScrapeEndpoint(t *testing.T) {
	p, err := New(context.Background(), config.ObservabilityConfig{
		MetricsEnabled: true,
		ServiceName:    "voxflow",
		ServiceVersion: "test",
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { p.Shutdown(context.Background()) })

	m := p.Metrics()
	require.NotNil(t, m)
	ctx := context.Background()
	m.JobStarted(ctx, "upload_video")
	m.JobFinished(ctx, "upload_video", "completed", 1500*time.Millisecond)
	m.ArtifactStored(ctx, 4096)
	m.ArtifactCleaned(ctx, 4096)
	m.HTTPRequest(ctx, "POST", "/upload-video", 202, 3*time.Millisecond)

	rec := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "voxflow_jobs_started_total"), "scrape output missing job counter:\n%s", body)
	assert.Contains(t, body, "voxflow_artifact_stored_bytes_total")
}

func TestNilMetricsRecordersAreNoOps(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.JobStarted(ctx, "upload_video")
	m.JobFinished(ctx, "upload_video", "failed", time.Second)
	m.ArtifactStored(ctx, 1)
	m.ArtifactCleaned(ctx, 1)
	m.HTTPRequest(ctx, "GET", "/health", 200, time.Millisecond)
}
