// Package metrics records tuning-loop instruments with OpenTelemetry and
// exposes them to Prometheus.
package metrics

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MeterName is the instrumentation scope of every instrument below
const MeterName = "github.com/GoSim-25-26J-441/agent-tuner"

// Recorder holds the loop's instruments
type Recorder struct {
	iterations    metric.Int64Counter
	games         metric.Int64Counter
	segmentReward metric.Float64Histogram
	playDuration  metric.Float64Histogram
	promotions    metric.Int64Counter
	bufferSize    metric.Int64Gauge
	evolved       metric.Int64Counter
}

// NewRecorder creates the instruments on meter
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	r := &Recorder{}
	var err error
	if r.iterations, err = meter.Int64Counter("tuner.iterations",
		metric.WithDescription("Completed tuning iterations"),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("failed to create iterations counter: %w", err)
	}
	if r.games, err = meter.Int64Counter("tuner.games",
		metric.WithDescription("Games played per segment"),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("failed to create games counter: %w", err)
	}
	if r.segmentReward, err = meter.Float64Histogram("tuner.segment.reward",
		metric.WithDescription("Average reward of the agent under test per segment"),
		metric.WithExplicitBucketBoundaries(0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1)); err != nil {
		return nil, fmt.Errorf("failed to create reward histogram: %w", err)
	}
	if r.playDuration, err = meter.Float64Histogram("tuner.segment.duration",
		metric.WithDescription("Wall time spent playing a segment"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}
	if r.promotions, err = meter.Int64Counter("tuner.promotions",
		metric.WithDescription("Iteration configs promoted to a new version"),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("failed to create promotions counter: %w", err)
	}
	if r.bufferSize, err = meter.Int64Gauge("tuner.experience.buffer_size",
		metric.WithDescription("Episodes held in the experience buffer"),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("failed to create buffer gauge: %w", err)
	}
	if r.evolved, err = meter.Int64Counter("tuner.evolve.parameters",
		metric.WithDescription("Parameters whose bounds changed during evolution"),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("failed to create evolve counter: %w", err)
	}
	return r, nil
}

// NewNop returns a recorder that drops everything
func NewNop() *Recorder {
	r, err := NewRecorder(noop.NewMeterProvider().Meter(MeterName))
	if err != nil {
		panic(err)
	}
	return r
}

// Iteration counts one finished iteration
func (r *Recorder) Iteration(ctx context.Context, mode string) {
	r.iterations.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// Segment records one played segment. A NaN average is not recorded.
func (r *Recorder) Segment(ctx context.Context, segment string, games int, avgReward float64, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("segment", segment))
	r.games.Add(ctx, int64(games), attrs)
	r.playDuration.Record(ctx, elapsed.Seconds(), attrs)
	if !math.IsNaN(avgReward) {
		r.segmentReward.Record(ctx, avgReward, attrs)
	}
}

// Promotion counts a new pool version
func (r *Recorder) Promotion(ctx context.Context, pool string) {
	r.promotions.Add(ctx, 1, metric.WithAttributes(attribute.String("pool", pool)))
}

// BufferSize reports the experience buffer length
func (r *Recorder) BufferSize(ctx context.Context, n int) {
	r.bufferSize.Record(ctx, int64(n))
}

// Evolved counts parameters whose bounds moved
func (r *Recorder) Evolved(ctx context.Context, changed int) {
	r.evolved.Add(ctx, int64(changed))
}

// Exporter is a meter provider backed by a private Prometheus registry
type Exporter struct {
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry
}

// NewPrometheus creates an exporter with its own registry
func NewPrometheus() (*Exporter, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}
	return &Exporter{
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)),
		registry: registry,
	}, nil
}

// Meter returns the tuner meter
func (e *Exporter) Meter() metric.Meter {
	return e.provider.Meter(MeterName)
}

// Handler serves the registry in the Prometheus text format
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the provider
func (e *Exporter) Shutdown(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}
