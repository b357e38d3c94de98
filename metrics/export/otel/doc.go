// Package otel mirrors authcore Engine metrics onto an OpenTelemetry meter.
//
// [NewExporter] registers one Int64ObservableCounter per counter. Each latency
// histogram becomes a "_bucket" gauge labelled by "le" plus "_count" and
// "_sum" counters, the same series the Prometheus exporter writes. A single
// callback reads [authcore.Engine.MetricsSnapshot] on each collection. The
// caller owns the MeterProvider.
package otel
