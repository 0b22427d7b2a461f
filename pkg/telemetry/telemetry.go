// Package telemetry traces pipeline steps with OpenTelemetry and counts invocations.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	invoke "github.com/stateforward/go-invoke"
	"github.com/stateforward/go-invoke/embedded"
)

const name = "github.com/stateforward/go-invoke"

type Telemetry struct {
	tracer      trace.Tracer
	invocations metric.Int64Counter
	failures    metric.Int64Counter
	duration    metric.Float64Histogram
}

// New instruments with the given providers, or the global ones when nil.
func New(tracerProvider trace.TracerProvider, meterProvider metric.MeterProvider) (*Telemetry, error) {
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}
	if meterProvider == nil {
		meterProvider = otel.GetMeterProvider()
	}
	meter := meterProvider.Meter(name)
	invocations, err := meter.Int64Counter("invoke.invocations",
		metric.WithDescription("Invocations that returned a result, by outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create invocations counter: %w", err)
	}
	failures, err := meter.Int64Counter("invoke.failures",
		metric.WithDescription("Invocations that escalated an error"))
	if err != nil {
		return nil, fmt.Errorf("failed to create failures counter: %w", err)
	}
	duration, err := meter.Float64Histogram("invoke.duration",
		metric.WithDescription("Invocation duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}
	return &Telemetry{
		tracer:      tracerProvider.Tracer(name),
		invocations: invocations,
		failures:    failures,
		duration:    duration,
	}, nil
}

// Trace implements invoke.Trace. Invoke steps are also counted.
func (telemetry *Telemetry) Trace(ctx context.Context, step string, elements ...embedded.Element) (context.Context, func(...any)) {
	attributes := []attribute.KeyValue{attribute.String("invoke.step", step)}
	for _, element := range elements {
		if action, ok := element.(embedded.Action); ok {
			attributes = append(attributes, attribute.String("invoke.action", action.Identifier()))
			continue
		}
		attributes = append(attributes, attribute.String("invoke.element", element.Id()))
	}
	ctx, span := telemetry.tracer.Start(ctx, step, trace.WithAttributes(attributes...))
	started := time.Now()
	return ctx, func(results ...any) {
		defer span.End()
		var failed error
		for _, result := range results {
			switch result := result.(type) {
			case error:
				failed = result
			case invoke.Outcome:
				attributes = append(attributes, attribute.String("invoke.outcome", result.String()))
			case invoke.Verdict:
				attributes = append(attributes, attribute.String("invoke.verdict", result.String()))
			}
		}
		if failed != nil {
			span.RecordError(failed)
			span.SetStatus(codes.Error, failed.Error())
		}
		span.SetAttributes(attributes...)
		if step != "Invoke" {
			return
		}
		set := metric.WithAttributes(attributes...)
		if failed != nil {
			telemetry.failures.Add(ctx, 1, set)
		} else {
			telemetry.invocations.Add(ctx, 1, set)
		}
		telemetry.duration.Record(ctx, float64(time.Since(started).Microseconds())/1000.0, set)
	}
}
