// Package metrics wires OpenTelemetry instruments for the pipeline: per-
// stage latency histograms, the adaptive VAD threshold gauge, and
// dependency-reachability counters recorded by cmd/s2sengine's /health
// probes.
//
// Grounded in the pack's lookatitude-beluga-ai o11y/meter.go (package-level
// meter, sync.Once instrument initialization, small typed recording
// functions) and examples/deployment/single_binary/main.go (prometheus.New
// reader wired into an sdkmetric.MeterProvider set as the global provider).
package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var (
	meter metric.Meter

	stageLatency    metric.Float64Histogram
	vadThreshold    metric.Int64ObservableGauge
	dependencyUp    metric.Int64Counter
	dependencyDown  metric.Int64Counter
	segmentsPerUtt  metric.Int64Histogram

	once    sync.Once
	initErr error
)

func init() {
	meter = otel.Meter("github.com/lingua-s2s/s2s-engine/pkg/metrics")
}

// NewPrometheusProvider creates an sdkmetric.MeterProvider backed by a
// Prometheus exporter, sets it as the global OTel meter provider, and
// returns it so the caller (cmd/s2sengine) can shut it down gracefully. No
// HTTP endpoint for scraping is served by this package. Must be called before any Record* function in
// this package to take effect.
func NewPrometheusProvider() (*sdkmetric.MeterProvider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter = provider.Meter("github.com/lingua-s2s/s2s-engine/pkg/metrics")
	once = sync.Once{}
	initErr = nil
	return provider, nil
}

func initInstruments() error {
	once.Do(func() {
		var err error
		stageLatency, err = meter.Float64Histogram(
			"s2s.pipeline.stage.duration",
			metric.WithDescription("Duration of one pipeline stage (asr, nmt, tts) in milliseconds"),
			metric.WithUnit("ms"),
		)
		if err != nil {
			initErr = err
			return
		}

		dependencyUp, err = meter.Int64Counter(
			"s2s.dependency.reachable",
			metric.WithDescription("Count of successful health probes per dependency"),
		)
		if err != nil {
			initErr = err
			return
		}

		dependencyDown, err = meter.Int64Counter(
			"s2s.dependency.unreachable",
			metric.WithDescription("Count of failed health probes per dependency"),
		)
		if err != nil {
			initErr = err
			return
		}

		segmentsPerUtt, err = meter.Int64Histogram(
			"s2s.pipeline.segments_per_utterance",
			metric.WithDescription("Number of sentence segments produced per utterance"),
		)
		if err != nil {
			initErr = err
			return
		}
	})
	return initErr
}

// RecordStageLatency records how long a named pipeline stage took.
func RecordStageLatency(ctx context.Context, stage string, durationMs float64) {
	if initInstruments() != nil {
		return
	}
	stageLatency.Record(ctx, durationMs, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordDependencyHealth records one health-probe outcome for a named
// dependency (nmt, tts, asr, speaker_embedding).
func RecordDependencyHealth(ctx context.Context, dependency string, healthy bool) {
	if initInstruments() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("dependency", dependency))
	if healthy {
		dependencyUp.Add(ctx, 1, attrs)
	} else {
		dependencyDown.Add(ctx, 1, attrs)
	}
}

// RecordSegmentCount records how many sentence segments one utterance's
// text was split into.
func RecordSegmentCount(ctx context.Context, count int) {
	if initInstruments() != nil {
		return
	}
	segmentsPerUtt.Record(ctx, int64(count))
}

// RegisterVADThresholdGauge registers an observable gauge that calls
// readThreshold whenever the metrics reader collects, reporting the
// current adaptive VAD silence threshold for sessionID.
func RegisterVADThresholdGauge(sessionID string, readThreshold func() int) (metric.Registration, error) {
	if err := initInstruments(); err != nil {
		return nil, err
	}
	if vadThreshold == nil {
		var err error
		vadThreshold, err = meter.Int64ObservableGauge(
			"s2s.vad.effective_threshold_ms",
			metric.WithDescription("Current adaptive VAD silence threshold"),
			metric.WithUnit("ms"),
		)
		if err != nil {
			return nil, err
		}
	}
	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(vadThreshold, int64(readThreshold()), metric.WithAttributes(attribute.String("session_id", sessionID)))
		return nil
	}, vadThreshold)
}
