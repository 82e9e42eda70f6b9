// Package observe provides OpenTelemetry metrics for the trainer.
//
// Instruments are created through the OTel Metrics API and exported for
// Prometheus scraping by [InitProvider]. Tests should use [NewMetrics] with
// their own MeterProvider.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/oszuidwest/zwfm-speaktrainer"

// latencyBuckets are histogram boundaries in seconds.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}

// scoreBuckets are histogram boundaries for 0-100 scores.
var scoreBuckets = []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

// Metrics holds the metric instruments.
type Metrics struct {
	// StepDuration tracks pipeline step latency. Attribute: step.
	StepDuration metric.Float64Histogram

	// Attempts counts terminal attempt outcomes. Attributes: category, status.
	Attempts metric.Int64Counter

	// Scores records final scores. Attribute: category.
	Scores metric.Int64Histogram

	// Recordings counts finished microphone sessions. Attribute: reason.
	Recordings metric.Int64Counter

	// ActiveRecordings is 1 while the microphone is held.
	ActiveRecordings metric.Int64UpDownCounter

	// HTTPRequestDuration tracks request time. Attributes: method, route, status.
	HTTPRequestDuration metric.Float64Histogram
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StepDuration, err = m.Float64Histogram("speaktrainer.pipeline.step.duration",
		metric.WithDescription("Latency of attempt pipeline steps."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Attempts, err = m.Int64Counter("speaktrainer.attempts",
		metric.WithDescription("Attempts that reached a terminal state."),
	); err != nil {
		return nil, err
	}
	if met.Scores, err = m.Int64Histogram("speaktrainer.attempt.score",
		metric.WithDescription("Scores of finalized attempts."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Recordings, err = m.Int64Counter("speaktrainer.recordings",
		metric.WithDescription("Finished microphone recordings."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecordings, err = m.Int64UpDownCounter("speaktrainer.recordings.active",
		metric.WithDescription("Microphone recordings in progress."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("speaktrainer.http.request.duration",
		metric.WithDescription("HTTP request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// DefaultMetrics returns the package-level instance backed by the global
// MeterProvider. It panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordStep records the duration of a pipeline step.
func (m *Metrics) RecordStep(ctx context.Context, step string, d time.Duration) {
	m.StepDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("step", step)))
}

// RecordAttempt counts a terminal attempt and, when finalized, its score.
func (m *Metrics) RecordAttempt(ctx context.Context, category, status string, score int) {
	m.Attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
		attribute.String("status", status),
	))
	if status == "finalized" {
		m.Scores.Record(ctx, int64(score), metric.WithAttributes(attribute.String("category", category)))
	}
}

// RecordRecording counts a finished recording.
func (m *Metrics) RecordRecording(ctx context.Context, reason string) {
	m.Recordings.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
