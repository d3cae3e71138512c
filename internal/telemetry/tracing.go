/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for the corvusforge
// orchestrator.
//
// Custom span attributes use the `corvusforge.` prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "corvusforge.dev/orchestrator"
)

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC
// exporter. If endpoint is empty, tracing is disabled (noop provider is
// used). Returns a shutdown function that must be called on application
// exit.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("corvusforge-orchestrator"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// --- Span helpers ---

// StartRunSpan creates the parent span for a pipeline run.
func StartRunSpan(ctx context.Context, runID, pipelineVersion string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "run.start",
		trace.WithAttributes(
			attribute.String("corvusforge.run_id", runID),
			attribute.String("corvusforge.pipeline_version", pipelineVersion),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartStageSpan creates a child span for one stage's execution.
func StartStageSpan(ctx context.Context, runID, stageID, fromState string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "stage.execute",
		trace.WithAttributes(
			attribute.String("corvusforge.run_id", runID),
			attribute.String("corvusforge.stage_id", stageID),
			attribute.String("corvusforge.from_state", fromState),
		),
	)
}

// EndStageSpan enriches the stage span with its outcome.
func EndStageSpan(span trace.Span, toState string, cascaded bool) {
	span.SetAttributes(
		attribute.String("corvusforge.to_state", toState),
		attribute.Bool("corvusforge.cascaded", cascaded),
	)
	span.End()
}

// StartLedgerAppendSpan creates a child span for one ledger append call.
func StartLedgerAppendSpan(ctx context.Context, runID, stageID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "ledger.append",
		trace.WithAttributes(
			attribute.String("corvusforge.run_id", runID),
			attribute.String("corvusforge.stage_id", stageID),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndLedgerAppendSpan enriches the ledger span with the entry it produced.
func EndLedgerAppendSpan(span trace.Span, entryHash string) {
	span.SetAttributes(attribute.String("corvusforge.entry_hash", entryHash))
	span.End()
}

// StartSinkDispatchSpan creates a child span for fanning an envelope out to
// the sink registry.
func StartSinkDispatchSpan(ctx context.Context, envelopeID, kind string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "sink.dispatch",
		trace.WithAttributes(
			attribute.String("corvusforge.envelope_id", envelopeID),
			attribute.String("corvusforge.envelope_kind", kind),
		),
	)
}

// EndSinkDispatchSpan enriches the dispatch span with the per-sink outcome.
func EndSinkDispatchSpan(span trace.Span, succeeded, failed int) {
	span.SetAttributes(
		attribute.Int("corvusforge.sinks_succeeded", succeeded),
		attribute.Int("corvusforge.sinks_failed", failed),
	)
	span.End()
}
