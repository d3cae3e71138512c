/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTestTracer installs an in-memory span exporter for test assertions.
func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(
		trace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestInitTraceProviderNoopWhenEmpty(t *testing.T) {
	shutdown, err := InitTraceProvider(context.Background(), "", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestStartRunSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartRunSpan(ctx, "run-1", "v1")
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "run.start" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "run.start")
	}

	attrs := spans[0].Attributes
	foundRunID := false
	foundVersion := false
	for _, a := range attrs {
		if string(a.Key) == "corvusforge.run_id" && a.Value.AsString() == "run-1" {
			foundRunID = true
		}
		if string(a.Key) == "corvusforge.pipeline_version" && a.Value.AsString() == "v1" {
			foundVersion = true
		}
	}
	if !foundRunID {
		t.Error("missing corvusforge.run_id attribute")
	}
	if !foundVersion {
		t.Error("missing corvusforge.pipeline_version attribute")
	}
}

func TestStartStageSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartStageSpan(ctx, "run-1", "s5_implementation", "NOT_STARTED")
	EndStageSpan(span, "RUNNING", false)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "stage.execute" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "stage.execute")
	}

	attrs := spans[0].Attributes
	foundStage := false
	foundToState := false
	for _, a := range attrs {
		if string(a.Key) == "corvusforge.stage_id" && a.Value.AsString() == "s5_implementation" {
			foundStage = true
		}
		if string(a.Key) == "corvusforge.to_state" && a.Value.AsString() == "RUNNING" {
			foundToState = true
		}
	}
	if !foundStage {
		t.Error("missing corvusforge.stage_id attribute")
	}
	if !foundToState {
		t.Error("missing corvusforge.to_state attribute")
	}
}

func TestStartLedgerAppendSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartLedgerAppendSpan(ctx, "run-1", "s0_intake")
	EndLedgerAppendSpan(span, "deadbeef")

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "ledger.append" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "ledger.append")
	}

	found := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "corvusforge.entry_hash" && a.Value.AsString() == "deadbeef" {
			found = true
		}
	}
	if !found {
		t.Error("missing corvusforge.entry_hash attribute")
	}
}

func TestSinkDispatchSpanRecordsOutcome(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartSinkDispatchSpan(ctx, "env-1", "stage_transition")
	EndSinkDispatchSpan(span, 2, 1)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}

	foundSucceeded := false
	foundFailed := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "corvusforge.sinks_succeeded" && a.Value.AsInt64() == 2 {
			foundSucceeded = true
		}
		if string(a.Key) == "corvusforge.sinks_failed" && a.Value.AsInt64() == 1 {
			foundFailed = true
		}
	}
	if !foundSucceeded {
		t.Error("missing corvusforge.sinks_succeeded attribute")
	}
	if !foundFailed {
		t.Error("missing corvusforge.sinks_failed attribute")
	}
}

func TestNestedSpans(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	ctx, runSpan := StartRunSpan(ctx, "run-1", "v1")
	_, stageSpan := StartStageSpan(ctx, "run-1", "s0_intake", "NOT_STARTED")
	stageSpan.End()
	runSpan.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}

	stageStub := spans[0]
	runStub := spans[1]

	if stageStub.Parent.TraceID() != runStub.SpanContext.TraceID() {
		t.Error("stage span should share trace ID with run span")
	}
	if !stageStub.Parent.SpanID().IsValid() {
		t.Error("stage span should have a valid parent span ID")
	}
}
