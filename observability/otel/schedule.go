package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Span and metric attribute keys for schedule operations.
const (
	AttrLinearID = attribute.Key("schedule.linear_id")
	AttrCommand  = attribute.Key("schedule.command")
	AttrSequence = attribute.Key("schedule.sequence")
	AttrReason   = attribute.Key("schedule.rejection")
	AttrOutcome  = attribute.Key("schedule.outcome")
)

// Outcomes recorded on transition metrics.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
)

// StartSchedule opens a span for a ledger operation on one schedule. command
// may be empty for reads.
func StartSchedule(ctx context.Context, tracer trace.Tracer, op, linearID, command string) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = Tracer()
	}
	attrs := []attribute.KeyValue{AttrLinearID.String(linearID)}
	if command != "" {
		attrs = append(attrs, AttrCommand.String(command))
	}
	return tracer.Start(ctx, op, trace.WithAttributes(attrs...))
}

// MarkRecorded annotates span with the sequence of the appended version.
func MarkRecorded(span trace.Span, sequence uint64) {
	span.SetAttributes(AttrSequence.Int64(int64(sequence)))
	span.SetStatus(codes.Ok, "")
}

// MarkRejected flags span as a rule rejection carrying reason.
func MarkRejected(span trace.Span, reason string) {
	span.SetAttributes(AttrReason.String(reason))
	span.SetStatus(codes.Error, reason)
}

// MarkFailed records an infrastructure failure on span.
func MarkFailed(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// ScheduleInstruments exports transition counts and validation latency over
// OTLP alongside the Prometheus collectors.
type ScheduleInstruments struct {
	transitions metric.Int64Counter
	duration    metric.Float64Histogram
}

// NewScheduleInstruments registers the schedule instruments on provider, or on
// the global provider when nil. Instruments created from the global provider
// before Init forward to the exporter once it is installed.
func NewScheduleInstruments(provider metric.MeterProvider) (*ScheduleInstruments, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(InstrumentationName)
	transitions, err := meter.Int64Counter("jct.schedule.transitions",
		metric.WithDescription("Schedule transitions by command and outcome."))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("jct.schedule.validation.duration",
		metric.WithDescription("Time spent validating a schedule transition."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &ScheduleInstruments{transitions: transitions, duration: duration}, nil
}

// RecordTransition counts one validated transition. reason is empty for
// accepted transitions.
func (s *ScheduleInstruments) RecordTransition(ctx context.Context, command, reason string, elapsed time.Duration) {
	if s == nil {
		return
	}
	outcome := OutcomeAccepted
	attrs := []attribute.KeyValue{AttrCommand.String(command)}
	if reason != "" {
		outcome = OutcomeRejected
		attrs = append(attrs, AttrReason.String(reason))
	}
	attrs = append(attrs, AttrOutcome.String(outcome))
	s.transitions.Add(ctx, 1, metric.WithAttributes(attrs...))
	if elapsed > 0 {
		s.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(AttrCommand.String(command)))
	}
}
