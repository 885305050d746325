package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestNewProviderDisabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{
		Enabled:      false,
		ServiceName:  "fritztv-test",
		ExporterType: "grpc",
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if provider.tp != nil {
		t.Error("expected noop provider (tp == nil)")
	}

	tracer := otel.Tracer("test")
	_, span := tracer.Start(context.Background(), "noop-check")
	defer span.End()
	if span.IsRecording() {
		t.Error("expected noop tracer span to be non-recording")
	}
}

func TestNewProviderInvalidExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{
		Enabled:      true,
		ServiceName:  "fritztv-test",
		ExporterType: "invalid",
	})
	if err == nil {
		t.Fatal("expected error for invalid exporter type")
	}
}

func TestProviderShutdownNoop(t *testing.T) {
	provider := &Provider{tp: nil}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("expected no error on noop shutdown, got: %v", err)
	}
}

func TestTracerReturnsUsableSpan(t *testing.T) {
	if _, err := NewProvider(context.Background(), Config{Enabled: false}); err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	tracer := Tracer("fritztv.test")
	ctx, span := tracer.Start(context.Background(), "test-span")
	defer span.End()
	if ctx.Err() != nil {
		t.Errorf("unexpected context error: %v", ctx.Err())
	}
}

func TestHTTPAttributes(t *testing.T) {
	attrs := HTTPAttributes("GET", "/stream/{id}", "/stream/0", 200)
	if len(attrs) != 4 {
		t.Fatalf("expected 4 attributes, got %d", len(attrs))
	}
}

func TestTranscodeAttributes(t *testing.T) {
	attrs := TranscodeAttributes("0", "low_latency", "udp")
	if len(attrs) != 3 {
		t.Fatalf("expected 3 attributes, got %d", len(attrs))
	}
}
