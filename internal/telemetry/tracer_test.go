// SPDX-License-Identifier: MIT
package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestNewProviderDisabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{
		Enabled:      false,
		ServiceName:  "test-service",
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
	if span.IsRecording() {
		t.Error("expected noop tracer span to be non-recording")
	}
	span.End()

	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown must not fail: %v", err)
	}
}

func TestNewProviderInvalidExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{
		Enabled:      true,
		ServiceName:  "test-service",
		ExporterType: "invalid",
	})
	if err == nil {
		t.Fatal("expected error for unsupported exporter type")
	}
}

func TestTracerReturnsUsableTracer(t *testing.T) {
	tr := Tracer("ykwatch/engine")
	if tr == nil {
		t.Fatal("expected a tracer")
	}
	_, span := tr.Start(context.Background(), "watch_item")
	span.End()
}
