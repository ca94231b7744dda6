package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by round and phase spans.
const (
	AttrProfile  = attribute.Key("tpbench.profile")
	AttrRole     = attribute.Key("tpbench.role")
	AttrRound    = attribute.Key("tpbench.round")
	AttrTopic    = attribute.Key("tpbench.topic")
	AttrExpected = attribute.Key("tpbench.messages.expected")
	AttrSent     = attribute.Key("tpbench.messages.sent")
	AttrReceived = attribute.Key("tpbench.messages.received")
	AttrLost     = attribute.Key("tpbench.messages.lost")
)

// StartRoundSpan starts the parent span of one benchmark round.
func StartRoundSpan(ctx context.Context, tracer trace.Tracer, profile, role, topic string, round int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "round "+role,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrProfile.String(profile),
			AttrRole.String(role),
			AttrTopic.String(topic),
			AttrRound.Int(round),
		),
	)
}

// StartPhaseSpan starts a child span for one phase of a round, such as
// match-wait or transfer.
func StartPhaseSpan(ctx context.Context, tracer trace.Tracer, phase string) (context.Context, trace.Span) {
	kind := trace.SpanKindInternal
	switch phase {
	case "transfer", "sentinel":
		kind = trace.SpanKindProducer
	case "completion":
		kind = trace.SpanKindConsumer
	}
	return tracer.Start(ctx, phase, trace.WithSpanKind(kind))
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
