// Package otel provides OpenTelemetry metric exporter bindings for authgate
// counters.
//
// [NewExporter] registers an Int64ObservableCounter instrument for each
// counter. A single callback reads [authgate.Metrics.Snapshot] on each
// collection cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider. Callers supply the Meter.
//   - Mutate service state.
package otel
