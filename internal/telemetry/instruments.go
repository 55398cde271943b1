package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const storeScopeName = "github.com/steveyegge/redline/store"

// Instruments holds the spans and counters recorded by the document store.
// Every store operation gets a span and a duration sample; the counters track
// what the operations did.
type Instruments struct {
	tracer trace.Tracer

	dur            metric.Float64Histogram
	errs           metric.Int64Counter
	applied        metric.Int64Counter
	skipped        metric.Int64Counter
	resolved       metric.Int64Counter
	sessionDropped metric.Int64Counter
	writes         metric.Int64Counter
	blocked        metric.Int64Counter
}

// NewInstruments registers the store's instruments on the global providers.
// With telemetry disabled those are no-ops.
func NewInstruments() *Instruments {
	return NewInstrumentsWith(Meter(storeScopeName), Tracer(storeScopeName))
}

// NewInstrumentsWith registers the store's instruments on m and t.
func NewInstrumentsWith(m metric.Meter, t trace.Tracer) *Instruments {
	dur, _ := m.Float64Histogram("rl.store.operation.duration",
		metric.WithDescription("Store operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("rl.store.errors",
		metric.WithDescription("Store operations that returned an error"),
	)
	applied, _ := m.Int64Counter("rl.changes.applied",
		metric.WithDescription("Change requests applied to the document"),
	)
	skipped, _ := m.Int64Counter("rl.changes.skipped",
		metric.WithDescription("Change requests skipped (unknown ids, malformed, duplicates)"),
	)
	resolved, _ := m.Int64Counter("rl.pending.resolved",
		metric.WithDescription("Pending leaf blocks accepted or rejected"),
	)
	dropped, _ := m.Int64Counter("rl.session.dropped",
		metric.WithDescription("Live-session snapshots dropped inside the write-lock window"),
	)
	writes, _ := m.Int64Counter("rl.persist.writes",
		metric.WithDescription("Document writes by outcome"),
	)
	blocked, _ := m.Int64Counter("rl.persist.blocked",
		metric.WithDescription("Document writes refused by the shrink guard"),
	)
	return &Instruments{
		tracer:         t,
		dur:            dur,
		errs:           errs,
		applied:        applied,
		skipped:        skipped,
		resolved:       resolved,
		sessionDropped: dropped,
		writes:         writes,
		blocked:        blocked,
	}
}

// Op starts a span for the named store operation.
func (in *Instruments) Op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("rl.operation", name)}, attrs...)
	ctx, span := in.tracer.Start(ctx, "store."+name, trace.WithAttributes(all...))
	return ctx, span, time.Now()
}

// Done ends the span, records duration and optional error.
func (in *Instruments) Done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	in.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		in.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

// Changes counts the outcome of one change batch.
func (in *Instruments) Changes(ctx context.Context, applied, skipped int) {
	in.applied.Add(ctx, int64(applied))
	in.skipped.Add(ctx, int64(skipped))
}

// Resolved counts pending leaves resolved by action ("accept" or "reject").
func (in *Instruments) Resolved(ctx context.Context, action string, n int) {
	in.resolved.Add(ctx, int64(n), metric.WithAttributes(attribute.String("rl.action", action)))
}

// SessionDropped counts a dropped live-session snapshot.
func (in *Instruments) SessionDropped(ctx context.Context) {
	in.sessionDropped.Add(ctx, 1)
}

// Write counts a persistence attempt by outcome.
func (in *Instruments) Write(ctx context.Context, outcome string) {
	in.writes.Add(ctx, 1, metric.WithAttributes(attribute.String("rl.outcome", outcome)))
	if outcome == "blocked" {
		in.blocked.Add(ctx, 1)
	}
}
