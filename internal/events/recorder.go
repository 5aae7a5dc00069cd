package events

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/BTreeMap/RumiPet"

type instruments struct {
	eventsTotal metric.Int64Counter
	errorsTotal metric.Int64Counter
}

var (
	instOnce sync.Once
	inst     instruments
)

// initInstruments registers the counters against the current global MeterProvider.
// Called lazily on first use so a provider installed at startup is picked up.
func initInstruments() {
	instOnce.Do(func() {
		m := otel.GetMeterProvider().Meter(meterName)
		inst.eventsTotal, _ = m.Int64Counter("rumipet.events.total",
			metric.WithDescription("Total engine events recorded"),
		)
		inst.errorsTotal, _ = m.Int64Counter("rumipet.errors.total",
			metric.WithDescription("Total degraded-path engine events"),
		)
	})
}

// TelemetryRecorder logs each event through slog and counts it with OTel metrics.
type TelemetryRecorder struct {
	logger *slog.Logger
}

// NewTelemetryRecorder returns a recorder that logs through logger (slog.Default when nil).
func NewTelemetryRecorder(logger *slog.Logger) *TelemetryRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelemetryRecorder{logger: logger}
}

// Record implements Recorder.
func (r *TelemetryRecorder) Record(e Event) {
	initInstruments()
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("type", e.Type),
		attribute.String("component", e.Component),
	)

	if e.Err != nil {
		r.logger.Warn("TelemetryRecorder.Record: "+e.Message,
			"id", e.ID, "type", e.Type, "component", e.Component, "subject", e.Subject, "error", e.Err)
		if inst.errorsTotal != nil {
			inst.errorsTotal.Add(ctx, 1, attrs)
		}
	} else {
		r.logger.Info("TelemetryRecorder.Record: "+e.Message,
			"id", e.ID, "type", e.Type, "component", e.Component, "subject", e.Subject)
	}
	if inst.eventsTotal != nil {
		inst.eventsTotal.Add(ctx, 1, attrs)
	}
}
