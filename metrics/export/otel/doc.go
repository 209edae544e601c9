// Package otel exposes goHook engine metrics through OpenTelemetry.
//
// [NewOTelExporter] registers an Int64ObservableCounter per engine counter and
// an Int64ObservableGauge per histogram bucket. The caller owns the
// MeterProvider.
package otel
