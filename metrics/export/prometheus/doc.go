// Package prometheus exposes authcore Engine metrics through
// prometheus/client_golang.
//
// [Collector] implements prometheus.Collector over [authcore.Engine.MetricsSnapshot];
// register it on any registry, or use [Handler] for a ready /metrics endpoint.
// Metric names are shared with the OTel exporter via internaldefs.
package prometheus
