package warehouse

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentuity/go-warehouse/logger"
)

const instrumentationName = "github.com/agentuity/go-warehouse/warehouse"

type telemetry struct {
	tracer trace.Tracer
	mode   attribute.KeyValue
	hits   metric.Int64Counter
	misses metric.Int64Counter
	writes metric.Int64Counter
}

func newTelemetry(o options, mode Mode, log logger.Logger) *telemetry {
	t := &telemetry{
		tracer: o.tracerProvider.Tracer(instrumentationName),
		mode:   attribute.String("warehouse.mode", string(mode)),
	}
	if err := t.instruments(o.meterProvider.Meter(instrumentationName)); err != nil {
		log.Warn("failed to create warehouse metrics, disabling them: %s", err)
		_ = t.instruments(noop.NewMeterProvider().Meter(instrumentationName))
	}
	return t
}

func (t *telemetry) instruments(meter metric.Meter) error {
	var err error
	if t.hits, err = meter.Int64Counter("warehouse.hits", metric.WithDescription("Reads that found a fresh entry")); err != nil {
		return err
	}
	if t.misses, err = meter.Int64Counter("warehouse.misses", metric.WithDescription("Reads that found no fresh entry")); err != nil {
		return err
	}
	if t.writes, err = meter.Int64Counter("warehouse.writes", metric.WithDescription("Entries written")); err != nil {
		return err
	}
	return nil
}

func (t *telemetry) start(ctx context.Context, op string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "warehouse."+op, trace.WithAttributes(t.mode))
}

func (t *telemetry) end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (t *telemetry) read(ctx context.Context, span trace.Span, found bool) {
	span.SetAttributes(attribute.Bool("warehouse.hit", found))
	if found {
		t.hits.Add(ctx, 1, metric.WithAttributes(t.mode))
	} else {
		t.misses.Add(ctx, 1, metric.WithAttributes(t.mode))
	}
}

func (t *telemetry) wrote(ctx context.Context) {
	t.writes.Add(ctx, 1, metric.WithAttributes(t.mode))
}
