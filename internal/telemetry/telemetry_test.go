package telemetry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestInitDisabled(t *testing.T) {
	if err := Init(context.Background(), "rl", "test", Options{}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	// no-op providers accept everything
	in := NewInstruments()
	ctx, span, start := in.Op(context.Background(), "ApplyChanges")
	in.Changes(ctx, 1, 0)
	in.Done(ctx, span, start, nil)
	Shutdown(context.Background())
}

func TestInitNeedsExporter(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	err := Init(context.Background(), "rl", "test", Options{Enabled: true})
	if err == nil {
		t.Fatal("expected error with no exporter configured")
	}
	Shutdown(context.Background())
}

func TestInitStdout(t *testing.T) {
	var buf bytes.Buffer
	opts := Options{Enabled: true, Stdout: true, Interval: time.Hour, Writer: &buf}
	if err := Init(context.Background(), "rl", "test", opts); err != nil {
		t.Fatalf("Init: %v", err)
	}
	in := NewInstruments()
	ctx, span, start := in.Op(context.Background(), "Save")
	in.Write(ctx, "written")
	in.Done(ctx, span, start, nil)

	Shutdown(context.Background())
	if !strings.Contains(buf.String(), "rl.persist.writes") {
		t.Errorf("metrics not flushed on shutdown:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "store.Save") {
		t.Errorf("span not flushed on shutdown:\n%s", buf.String())
	}
	_ = Init(context.Background(), "rl", "test", Options{})
}

func TestInstrumentsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	in := NewInstrumentsWith(mp.Meter("test"), tracenoop.NewTracerProvider().Tracer("test"))
	ctx := context.Background()
	in.Changes(ctx, 3, 1)
	in.Changes(ctx, 2, 0)
	in.Resolved(ctx, "accept", 4)
	in.SessionDropped(ctx)
	in.Write(ctx, "written")
	in.Write(ctx, "blocked")
	_, span, start := in.Op(ctx, "Reject")
	in.Done(ctx, span, start, errors.New("node not found"))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if data, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range data.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}

	want := map[string]int64{
		"rl.changes.applied":  5,
		"rl.changes.skipped":  1,
		"rl.pending.resolved": 4,
		"rl.session.dropped":  1,
		"rl.persist.writes":   2,
		"rl.persist.blocked":  1,
		"rl.store.errors":     1,
	}
	for name, v := range want {
		if sums[name] != v {
			t.Errorf("%s = %d, want %d", name, sums[name], v)
		}
	}
}
