package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("otel: nil meter")
	ErrNilSource = errors.New("otel: nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// Option configures an Exporter.
type Option func(*options)

type options struct {
	attrs []attribute.KeyValue
}

// WithAttributes attaches kv to every observation, e.g. a node name when
// several engines report to one collector.
func WithAttributes(kv ...attribute.KeyValue) Option {
	return func(o *options) { o.attrs = append(o.attrs, kv...) }
}

// latencyInstruments carry one snapshot histogram. Buckets share a single
// gauge and are told apart by the "le" attribute.
type latencyInstruments struct {
	id     authcore.MetricID
	bucket metric.Int64ObservableGauge
	count  metric.Int64ObservableCounter
	sum    metric.Float64ObservableCounter
}

// Exporter publishes an Engine's counters and latency histograms through
// observable instruments. Close unregisters the callback.
type Exporter struct {
	source   metricsSource
	base     attribute.Set
	buckets  [8]attribute.Set
	counters map[authcore.MetricID]metric.Int64ObservableCounter
	latency  []latencyInstruments
	dropped  metric.Int64ObservableCounter
	reg      metric.Registration
}

func NewExporter(meter metric.Meter, engine *authcore.Engine, opts ...Option) (*Exporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewExporterFromSource(meter, engine, opts...)
}

func NewExporterFromSource(meter metric.Meter, source metricsSource, opts ...Option) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	e := &Exporter{
		source:   source,
		base:     attribute.NewSet(o.attrs...),
		counters: make(map[authcore.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs)),
	}
	for i, le := range internaldefs.HistogramBoundLabels {
		kv := append(append([]attribute.KeyValue(nil), o.attrs...), attribute.String("le", le))
		e.buckets[i] = attribute.NewSet(kv...)
	}

	r := registrar{meter: meter}
	for _, def := range internaldefs.CounterDefs {
		e.counters[def.ID] = r.counter(def.Name, def.Help)
	}
	for _, def := range internaldefs.HistogramDefs {
		e.latency = append(e.latency, latencyInstruments{
			id:     def.ID,
			bucket: r.gauge(def.Name+"_bucket", "Cumulative observations per upper bound."),
			count:  r.counter(def.Name+"_count", "Total observations."),
			sum:    r.sum(def.Name+"_sum", "Sum of observations."),
		})
	}
	e.dropped = r.counter(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp)
	if r.err != nil {
		return nil, r.err
	}

	reg, err := meter.RegisterCallback(e.observe, r.observables...)
	if err != nil {
		return nil, fmt.Errorf("otel: register callback: %w", err)
	}
	e.reg = reg
	return e, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	base := metric.WithAttributeSet(e.base)

	for id, ins := range e.counters {
		o.ObserveInt64(ins, int64(snap.Counters[id]), base)
	}
	for _, h := range e.latency {
		raw, ok := snap.Histograms[h.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, n := range cumulative {
			o.ObserveInt64(h.bucket, int64(n), metric.WithAttributeSet(e.buckets[i]))
		}
		o.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]), base)
		o.ObserveFloat64(h.sum, snap.HistogramSums[h.id].Seconds(), base)
	}
	o.ObserveInt64(e.dropped, int64(e.source.AuditDropped()), base)
	return nil
}

func (e *Exporter) Close() error {
	if e == nil || e.reg == nil {
		return nil
	}
	return e.reg.Unregister()
}

// registrar creates instruments and keeps the first error, so construction
// reads as a flat list.
type registrar struct {
	meter       metric.Meter
	observables []metric.Observable
	err         error
}

func (r *registrar) counter(name, help string) metric.Int64ObservableCounter {
	if r.err != nil {
		return nil
	}
	ins, err := r.meter.Int64ObservableCounter(name, metric.WithDescription(help))
	r.track(name, ins, err)
	return ins
}

func (r *registrar) gauge(name, help string) metric.Int64ObservableGauge {
	if r.err != nil {
		return nil
	}
	ins, err := r.meter.Int64ObservableGauge(name, metric.WithDescription(help))
	r.track(name, ins, err)
	return ins
}

func (r *registrar) sum(name, help string) metric.Float64ObservableCounter {
	if r.err != nil {
		return nil
	}
	ins, err := r.meter.Float64ObservableCounter(name, metric.WithDescription(help), metric.WithUnit("s"))
	r.track(name, ins, err)
	return ins
}

func (r *registrar) track(name string, ins metric.Observable, err error) {
	if err != nil {
		r.err = fmt.Errorf("otel: create %s: %w", name, err)
		return
	}
	r.observables = append(r.observables, ins)
}
