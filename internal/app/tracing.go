/*-------------------------------------------------------------------------
 *
 * tracing.go
 *    OpenTelemetry tracer provider setup
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/app/tracing.go
 *
 *-------------------------------------------------------------------------
 */

package app

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

/*
 * InitTracing installs an SDK tracer provider as the global provider so
 * pipeline spans carry real trace ids, which the engine copies into log
 * lines. No exporter is attached; spans are only used for correlation
 * until one is configured.
 */
func InitTracing(service string) func(context.Context) error {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", service))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp.Shutdown
}
