// Package observability wraps OpenTelemetry tracing and metrics for the
// fact-check pipeline and exposes Server-Timing helpers for HTTP handlers.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// InstrumentationName names the tracer and meter.
	InstrumentationName = "github.com/jo-hoe/reelcheck"

	AttrJobID    = "reelcheck.job.id"
	AttrProvider = "reelcheck.provider"
	AttrStage    = "reelcheck.stage"
	AttrOutcome  = "reelcheck.outcome"
)

// Outcomes recorded on the run counter.
const (
	OutcomeCompleted      = "completed"
	OutcomeFailed         = "failed"
	OutcomeDownloadFailed = "download_failed"
)

// Telemetry holds the tracer and pipeline instruments.
type Telemetry struct {
	tracer        trace.Tracer
	runCount      metric.Int64Counter
	stageDuration metric.Float64Histogram
}

// New creates Telemetry from the given providers.
func New(tp trace.TracerProvider, mp metric.MeterProvider) *Telemetry {
	meter := mp.Meter(InstrumentationName)
	t := &Telemetry{tracer: tp.Tracer(InstrumentationName)}

	var err error
	t.runCount, err = meter.Int64Counter(
		"reelcheck.pipeline.runs",
		metric.WithDescription("Finished pipeline runs by outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		t.runCount, _ = metricnoop.NewMeterProvider().Meter("").Int64Counter("reelcheck.pipeline.runs") //nolint:errcheck
	}
	t.stageDuration, err = meter.Float64Histogram(
		"reelcheck.pipeline.stage.duration",
		metric.WithDescription("Duration of pipeline stages in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		t.stageDuration, _ = metricnoop.NewMeterProvider().Meter("").Float64Histogram("reelcheck.pipeline.stage.duration") //nolint:errcheck
	}
	return t
}

// NewNoop creates Telemetry that records nothing.
func NewNoop() *Telemetry {
	return New(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
}

// StartRun starts the root span of one pipeline run.
func (t *Telemetry) StartRun(ctx context.Context, jobID, provider string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "reelcheck.run", trace.WithAttributes(
		attribute.String(AttrJobID, jobID),
		attribute.String(AttrProvider, provider),
	))
}

// Stage is an in-progress pipeline stage.
type Stage struct {
	span     trace.Span
	name     string
	provider string
	start    time.Time
	t        *Telemetry
}

// StartStage opens a child span for a stage and starts its timer.
func (t *Telemetry) StartStage(ctx context.Context, name, provider string) (context.Context, *Stage) {
	ctx, span := t.tracer.Start(ctx, "reelcheck."+name, trace.WithAttributes(
		attribute.String(AttrStage, name),
		attribute.String(AttrProvider, provider),
	))
	return ctx, &Stage{span: span, name: name, provider: provider, start: time.Now(), t: t}
}

// End records the stage duration and closes its span, marking it failed when err is set.
func (s *Stage) End(ctx context.Context, err error) {
	ms := float64(time.Since(s.start).Microseconds()) / 1000
	s.t.stageDuration.Record(ctx, ms, metric.WithAttributes(
		attribute.String(AttrStage, s.name),
		attribute.String(AttrProvider, s.provider),
	))
	RecordError(s.span, err)
	s.span.End()
}

// RecordOutcome counts a finished run.
func (t *Telemetry) RecordOutcome(ctx context.Context, provider, outcome string) {
	t.runCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrProvider, provider),
		attribute.String(AttrOutcome, outcome),
	))
}

// RecordError records err on span and marks it failed. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
