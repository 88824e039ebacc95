package observability

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/config"
)

func TestRuntimeShutdownNilAndEmpty(t *testing.T) {
	var r *Runtime
	if err := r.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil runtime shutdown: %v", err)
	}

	r = &Runtime{}
	if err := r.Shutdown(context.Background()); err != nil {
		t.Fatalf("empty runtime shutdown: %v", err)
	}
}

func TestInitRuntimeAllDisabled(t *testing.T) {
	cfg := &config.Config{
		OTELMetricsEnabled: false,
		OTELTracingEnabled: false,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r, err := InitRuntime(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("init runtime disabled: %v", err)
	}
	if r == nil || r.MeterProvider == nil || r.TracerProvider == nil {
		t.Fatalf("expected runtime providers, got %+v", r)
	}
	if err := r.Shutdown(context.Background()); err != nil {
		t.Fatalf("runtime shutdown: %v", err)
	}
}

func TestInitRuntimeMetricsErrorBranch(t *testing.T) {
	cfg := &config.Config{
		OTELMetricsEnabled:       true,
		OTELTracingEnabled:       false,
		OTELExporterOTLPEndpoint: "%",
		OTELExporterOTLPInsecure: true,
		OTELServiceName:          "svc",
		OTELEnvironment:          "test",
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if _, err := InitRuntime(context.Background(), cfg, logger); err == nil {
		t.Fatal("expected runtime init error from metrics exporter")
	}
}

func TestInitRuntimeTracingErrorBranch(t *testing.T) {
	cfg := &config.Config{
		OTELMetricsEnabled:       false,
		OTELTracingEnabled:       true,
		OTELExporterOTLPEndpoint: "%",
		OTELExporterOTLPInsecure: true,
		OTELServiceName:          "svc",
		OTELEnvironment:          "test",
		OTELTraceSamplingRatio:   1,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if _, err := InitRuntime(context.Background(), cfg, logger); err == nil {
		t.Fatal("expected runtime init error from tracing exporter")
	}
}

func TestInitRuntimeEnabledInstallsGlobals(t *testing.T) {
	cfg := &config.Config{
		OTELMetricsEnabled:       true,
		OTELTracingEnabled:       true,
		OTELExporterOTLPEndpoint: "http://127.0.0.1:4318",
		OTELExporterOTLPInsecure: true,
		OTELServiceName:          "svc",
		OTELEnvironment:          "test",
		OTELTraceSamplingRatio:   1,
		OTELMetricExportInterval: time.Hour,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r, err := InitRuntime(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("init runtime enabled: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		_ = r.Shutdown(ctx)
		registerInstruments(otel.Meter(instrumentationName))
	})
	if otel.GetTracerProvider() != r.TracerProvider {
		t.Fatal("expected sdk tracer provider to be installed globally")
	}
	if otel.GetMeterProvider() != r.MeterProvider {
		t.Fatal("expected sdk meter provider to be installed globally")
	}
}

func TestRegisteredInstrumentsRecordToProvider(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	registerInstruments(mp.Meter(instrumentationName))
	t.Cleanup(func() {
		registerInstruments(otel.Meter(instrumentationName))
		_ = mp.Shutdown(ctx)
	})

	RecordRuntimeEvaluation(ctx, "single", true)
	RecordRiskAssessment(ctx, "heuristic", "low")
	RecordSnapshotRefresh(ctx, "write", "success")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	seen := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			seen[m.Name] = true
		}
	}
	for _, name := range []string{"runtime.evaluations", "risk.assessments", "runtime.snapshot.refreshes"} {
		if !seen[name] {
			t.Fatalf("expected %s to be exported, got %v", name, seen)
		}
	}
}
