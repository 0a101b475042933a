package nats

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestHeaderCarrierRoundTripsTraceContext(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	parent := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}))

	prop := propagation.TraceContext{}
	msg := &nats.Msg{Subject: "reports.ingest"}
	prop.Inject(parent, (*headerCarrier)(msg))
	if msg.Header.Get("traceparent") == "" {
		t.Fatalf("expected traceparent header, got %v", msg.Header)
	}

	got := trace.SpanContextFromContext(prop.Extract(context.Background(), (*headerCarrier)(msg)))
	if got.TraceID() != traceID || got.SpanID() != spanID {
		t.Fatalf("expected trace context restored, got %s/%s", got.TraceID(), got.SpanID())
	}
}

func TestHeaderCarrierWithoutHeaders(t *testing.T) {
	c := (*headerCarrier)(&nats.Msg{})
	if c.Get("traceparent") != "" || len(c.Keys()) != 0 {
		t.Fatalf("expected empty carrier")
	}
}
