// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tracking

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the name used for the scheduler meter.
const MeterName = "github.com/relabs-tech/dyntarget/tracking"

// Metrics holds the OpenTelemetry instruments for the publish scheduler.
type Metrics struct {
	attempts metric.Int64Counter
	duration metric.Float64Histogram
	samples  metric.Int64Counter
}

// NewMetrics creates the scheduler instruments.
// If provider is nil, it returns nil (no-op metrics).
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(MeterName)

	attempts, err := meter.Int64Counter(
		"dyntarget_publish_attempts_total",
		metric.WithDescription("Publish attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"dyntarget_publish_duration_seconds",
		metric.WithDescription("Time from publish start to store outcome"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	samples, err := meter.Int64Counter(
		"dyntarget_samples_total",
		metric.WithDescription("Position samples received, split by whether they changed the last known position"),
		metric.WithUnit("{sample}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{attempts: attempts, duration: duration, samples: samples}, nil
}

// RecordAttempt records one finished publish attempt.
func (m *Metrics) RecordAttempt(ctx context.Context, elapsed time.Duration, err error) {
	if m == nil {
		return
	}

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))

	m.attempts.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordSample records one received sample.
func (m *Metrics) RecordSample(ctx context.Context, changed bool) {
	if m == nil {
		return
	}
	m.samples.Add(ctx, 1, metric.WithAttributes(attribute.Bool("changed", changed)))
}
