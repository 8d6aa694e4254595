// MIT License
//
// Copyright (c) 2022-2026 GoAkt Team
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/tochemey/sagamatch"

// Telemetry holds the tracer and the instruments shared by the matcher,
// the sink and the poll loops.
type Telemetry struct {
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer

	meterProvider metric.MeterProvider
	meter         metric.Meter

	metrics *Metrics
}

// New creates an instance of Telemetry. The global otel providers are used
// unless overridden with WithTracerProvider or WithMeterProvider.
func New(options ...Option) (*Telemetry, error) {
	telemetry := &Telemetry{
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}

	for _, opt := range options {
		opt.Apply(telemetry)
	}

	telemetry.tracer = telemetry.tracerProvider.Tracer(instrumentationName)
	telemetry.meter = telemetry.meterProvider.Meter(instrumentationName)

	metrics, err := NewMetrics(telemetry.meter)
	if err != nil {
		return nil, err
	}
	telemetry.metrics = metrics
	return telemetry, nil
}

// Default returns a Telemetry bound to the global providers.
// It panics when the instruments cannot be created, which the global
// no-op and SDK providers never do.
func Default() *Telemetry {
	telemetry, err := New()
	if err != nil {
		panic(err)
	}
	return telemetry
}

// TracerProvider returns the tracer provider in use
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	return t.tracerProvider
}

// Tracer returns the tracer
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// MeterProvider returns the meter provider in use
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// Meter returns the meter
func (t *Telemetry) Meter() metric.Meter {
	return t.meter
}

// Metrics returns the coordinator instruments
func (t *Telemetry) Metrics() *Metrics {
	return t.metrics
}

// StartSpan starts a child span of the span carried by ctx.
func (t *Telemetry) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
