/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for the health
// monitor. Each evaluation run is a parent span with one child span per
// source and nested spans for the ESM queries.
//
// Custom span attributes use the `esmhealth.` prefix.
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

const tracerName = "esmhealth"

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC
// exporter. If endpoint is empty, tracing is disabled (noop provider is
// used). Returns a shutdown function that must be called on exit.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		// No-op: tracing disabled
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(), // TLS configurable via env (OTEL_EXPORTER_OTLP_INSECURE)
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("esmhealth"),
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

// StartRunSpan creates the parent span for one evaluation run.
func StartRunSpan(ctx context.Context, runID string, sourceCount int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "healthcheck.run",
		trace.WithAttributes(
			attribute.String("esmhealth.run_id", runID),
			attribute.Int("esmhealth.sources", sourceCount),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartSourceSpan creates a child span for one source evaluation.
func StartSourceSpan(ctx context.Context, source, kind string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "healthcheck.source",
		trace.WithAttributes(
			attribute.String("esmhealth.source", source),
			attribute.String("esmhealth.kind", kind),
		),
	)
}

// EndSourceSpan enriches a source span with the evaluation outcome.
func EndSourceSpan(span trace.Span, status string, idleMinutes int, idleKnown bool) {
	span.SetAttributes(attribute.String("esmhealth.status", status))
	if idleKnown {
		span.SetAttributes(attribute.Int("esmhealth.idle_minutes", idleMinutes))
	}
	span.End()
}

// StartQuerySpan creates a child span for an ESM API query.
func StartQuerySpan(ctx context.Context, source, window string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "esm.query",
		trace.WithAttributes(
			attribute.String("esmhealth.source", source),
			attribute.String("esmhealth.window", window),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
