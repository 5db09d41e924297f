package metrics

import (
	"context"
	"testing"
)

func TestRecordStageLatencyDoesNotPanicWithoutInit(t *testing.T) {
	ctx := context.Background()
	RecordStageLatency(ctx, "asr", 12.3)
}

func TestRecordDependencyHealth(t *testing.T) {
	ctx := context.Background()
	RecordDependencyHealth(ctx, "nmt", true)
	RecordDependencyHealth(ctx, "tts", false)
}

func TestRecordSegmentCount(t *testing.T) {
	ctx := context.Background()
	RecordSegmentCount(ctx, 3)
}

func TestNewPrometheusProviderThenRecord(t *testing.T) {
	provider, err := NewPrometheusProvider()
	if err != nil {
		t.Fatalf("NewPrometheusProvider: %v", err)
	}
	defer provider.Shutdown(context.Background())

	ctx := context.Background()
	RecordStageLatency(ctx, "nmt", 45.6)
	RecordDependencyHealth(ctx, "asr", true)
}

func TestRegisterVADThresholdGauge(t *testing.T) {
	reg, err := RegisterVADThresholdGauge("sess-1", func() int { return 500 })
	if err != nil {
		t.Fatalf("RegisterVADThresholdGauge: %v", err)
	}
	defer reg.Unregister()
}
