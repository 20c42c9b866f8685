// Package observe holds the OpenTelemetry instruments of the scoring service
// and the HTTP plumbing that exposes them.
package observe

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "talky"

// Metrics holds all instruments. Safe for concurrent use.
type Metrics struct {
	// ScoreDuration tracks end-to-end scoring latency, by strategy.
	ScoreDuration metric.Float64Histogram

	// DecodeDuration tracks acoustic model latency.
	DecodeDuration metric.Float64Histogram

	// Attempts counts scored attempts, by strategy and passed.
	Attempts metric.Int64Counter

	// AlignmentFailures counts attempts that fell back to text divergence,
	// by reason.
	AlignmentFailures metric.Int64Counter

	// FeedbackErrors counts failed feedback generations.
	FeedbackErrors metric.Int64Counter

	// DroppedPhonemes counts G2P symbols left out of the expected sequence,
	// by reason (unmapped or no-index).
	DroppedPhonemes metric.Int64Counter

	HTTPRequestDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ScoreDuration, err = m.Float64Histogram("talky.score.duration",
		metric.WithDescription("Latency of scoring one attempt."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DecodeDuration, err = m.Float64Histogram("talky.acoustic.decode.duration",
		metric.WithDescription("Latency of acoustic model decoding."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Attempts, err = m.Int64Counter("talky.attempts",
		metric.WithDescription("Scored attempts by strategy and pass flag."),
	); err != nil {
		return nil, err
	}
	if met.AlignmentFailures, err = m.Int64Counter("talky.alignment.failures",
		metric.WithDescription("Attempts scored without forced alignment, by reason."),
	); err != nil {
		return nil, err
	}
	if met.FeedbackErrors, err = m.Int64Counter("talky.feedback.errors",
		metric.WithDescription("Failed feedback generations."),
	); err != nil {
		return nil, err
	}
	if met.DroppedPhonemes, err = m.Int64Counter("talky.phonemes.dropped",
		metric.WithDescription("Reference phonemes missing from the model vocabulary."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("talky.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance built on the global
// MeterProvider.
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

func (m *Metrics) RecordAttempt(ctx context.Context, strategy string, passed bool, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.String("passed", strconv.FormatBool(passed)),
	)
	m.Attempts.Add(ctx, 1, attrs)
	m.ScoreDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("strategy", strategy)))
}

func (m *Metrics) RecordDroppedPhoneme(ctx context.Context, reason string) {
	m.DroppedPhonemes.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) RecordAlignmentFailure(ctx context.Context, reason string) {
	m.AlignmentFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
