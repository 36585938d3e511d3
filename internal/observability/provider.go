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

// Package observability wires OpenTelemetry tracing and Prometheus
// metrics for the daemon. Everything here is optional: a nil Provider
// (or nil Metrics) is a no-op, so callers never guard their call
// sites.
package observability

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials"

	"github.com/voxflow/voxflow/internal/config"
)

// Trace export modes.
const (
	TraceModeOff      = "off"
	TraceModeStdout   = "stdout"
	TraceModeOTLPGRPC = "otlp-grpc"
	TraceModeOTLPHTTP = "otlp-http"
)

// Provider owns the trace and metric pipelines.
type Provider struct {
	tp      *sdktrace.TracerProvider
	mp      *sdkmetric.MeterProvider
	metrics *Metrics
	logger  *slog.Logger
}

// New builds the provider from daemon config. TraceMode off (or empty)
// disables tracing; MetricsEnabled false disables the Prometheus
// pipeline. Returns (nil, nil) when both are off.
func New(ctx context.Context, cfg config.ObservabilityConfig, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mode := cfg.TraceMode
	if mode == "" {
		mode = TraceModeOff
	}
	if mode == TraceModeOff && !cfg.MetricsEnabled {
		return nil, nil
	}

	// Empty schema URL avoids merge conflicts with the default
	// resource's schema.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: create resource: %w", err)
	}

	p := &Provider{logger: logger}

	if mode != TraceModeOff {
		exporter, err := newTraceExporter(ctx, mode, cfg)
		if err != nil {
			return nil, err
		}
		p.tp = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(exporter),
		)
		otel.SetTracerProvider(p.tp)
		logger.Info("tracing enabled", "mode", mode, "endpoint", cfg.OTLPEndpoint)
	}

	if cfg.MetricsEnabled {
		reader, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("observability: create prometheus exporter: %w", err)
		}
		p.mp = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		)
		p.metrics, err = NewMetrics(p.mp)
		if err != nil {
			return nil, err
		}
		logger.Info("metrics enabled")
	}

	return p, nil
}

// newTraceExporter builds the span exporter for the configured mode.
func newTraceExporter(ctx context.Context, mode string, cfg config.ObservabilityConfig) (sdktrace.SpanExporter, error) {
	switch mode {
	case TraceModeStdout:
		return stdouttrace.New(
			stdouttrace.WithWriter(os.Stdout),
			stdouttrace.WithPrettyPrint(),
		)
	case TraceModeOTLPGRPC:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		} else {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(
				credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
		}
		return otlptracegrpc.New(ctx, opts...)
	case TraceModeOTLPHTTP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("observability: unknown trace mode %q", mode)
	}
}

// Metrics returns the instrument set, nil when metrics are disabled.
func (p *Provider) Metrics() *Metrics {
	if p == nil {
		return nil
	}
	return p.metrics
}

// MetricsHandler serves the Prometheus scrape endpoint, nil when
// metrics are disabled.
func (p *Provider) MetricsHandler() http.Handler {
	if p == nil || p.mp == nil {
		return nil
	}
	return promhttp.Handler()
}

// Shutdown flushes both pipelines. Safe on a nil provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var firstErr error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
