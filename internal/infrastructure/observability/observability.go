// Package observability assembles the vendor-neutral observability.Observability
// from concrete tracer, logger and metric adapters.
package observability

import (
	"github.com/Zhima-Mochi/minishop-orders/internal/observability"
)

type provider struct {
	tracer  observability.Tracer
	logger  observability.Logger
	metrics observability.Metrics
}

// instruments resolves metric keys registered at startup. Keys that were never
// registered resolve to no-op instruments so callers never nil-check.
type instruments struct {
	counters   map[observability.MetricKey]observability.Counter
	histograms map[observability.MetricKey]observability.Histogram
}

func (m instruments) Counter(name observability.MetricKey) observability.Counter {
	return lookup(m.counters, name, observability.NopCounter())
}

func (m instruments) Histogram(name observability.MetricKey) observability.Histogram {
	return lookup(m.histograms, name, observability.NopHistogram())
}

func lookup[T comparable](m map[observability.MetricKey]T, name observability.MetricKey, nop T) T {
	var zero T
	if v, ok := m[name]; ok && v != zero {
		return v
	}
	return nop
}

// New assembles a provider. Any nil argument falls back to its no-op.
//
//	counters, histograms := prometrics.Instruments(prometrics.New(reg, "", ""))
//	tel := observability.New(oteltrace.New("minishop-orders"), logger, counters, histograms)
func New(
	tracer observability.Tracer,
	logger observability.Logger,
	counters map[observability.MetricKey]observability.Counter,
	histograms map[observability.MetricKey]observability.Histogram,
) observability.Observability {
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	var metrics observability.Metrics = observability.NopMetrics()
	if len(counters) > 0 || len(histograms) > 0 {
		metrics = instruments{counters: counters, histograms: histograms}
	}
	return &provider{tracer: tracer, logger: logger, metrics: metrics}
}

func (p *provider) Tracer() observability.Tracer   { return p.tracer }
func (p *provider) Logger() observability.Logger   { return p.logger }
func (p *provider) Metrics() observability.Metrics { return p.metrics }
