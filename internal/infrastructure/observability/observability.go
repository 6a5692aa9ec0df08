package observability

import (
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

type provider struct {
	tracer  observability.Tracer
	logger  observability.Logger
	metrics observability.Metrics
}

type registeredMetrics struct {
	counters   map[observability.MetricKey]observability.Counter
	histograms map[observability.MetricKey]observability.Histogram
}

func (m *registeredMetrics) Counter(name observability.MetricKey) observability.Counter {
	if m == nil || m.counters == nil {
		return observability.NopCounter()
	}
	if c, ok := m.counters[name]; ok && c != nil {
		return c
	}
	return observability.NopCounter()
}

func (m *registeredMetrics) Histogram(name observability.MetricKey) observability.Histogram {
	if m == nil || m.histograms == nil {
		return observability.NopHistogram()
	}
	if h, ok := m.histograms[name]; ok && h != nil {
		return h
	}
	return observability.NopHistogram()
}

// Instruments holds the metric instruments handed to New.
type Instruments struct {
	Counters   map[observability.MetricKey]observability.Counter
	Histograms map[observability.MetricKey]observability.Histogram
}

// RegisterDefaults creates every instrument listed in observability.DefaultCounters and
// observability.DefaultHistograms on the registry.
func RegisterDefaults(reg prometrics.Registry, buckets []float64) Instruments {
	in := Instruments{
		Counters:   make(map[observability.MetricKey]observability.Counter, len(observability.DefaultCounters)),
		Histograms: make(map[observability.MetricKey]observability.Histogram, len(observability.DefaultHistograms)),
	}
	for _, def := range observability.DefaultCounters {
		in.Counters[def.Key] = reg.Counter(string(def.Key), def.Help, def.Labels...)
	}
	for _, def := range observability.DefaultHistograms {
		in.Histograms[def.Key] = reg.Histogram(string(def.Key), def.Help, buckets, def.Labels...)
	}
	return in
}

// New assembles an Observability provider backed by the supplied tracer, logger, and metric instruments.
func New(
	tracer observability.Tracer,
	logger observability.Logger,
	instruments Instruments,
) observability.Observability {
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	var metrics observability.Metrics = observability.NopMetrics()
	if len(instruments.Counters) > 0 || len(instruments.Histograms) > 0 {
		m := &registeredMetrics{
			counters:   make(map[observability.MetricKey]observability.Counter, len(instruments.Counters)),
			histograms: make(map[observability.MetricKey]observability.Histogram, len(instruments.Histograms)),
		}
		for k, v := range instruments.Counters {
			if v == nil {
				continue
			}
			m.counters[k] = v
		}
		for k, v := range instruments.Histograms {
			if v == nil {
				continue
			}
			m.histograms[k] = v
		}
		metrics = m
	}

	return &provider{
		tracer:  tracer,
		logger:  logger,
		metrics: metrics,
	}
}

func (p *provider) Tracer() observability.Tracer {
	return p.tracer
}

func (p *provider) Logger() observability.Logger {
	return p.logger
}

func (p *provider) Metrics() observability.Metrics {
	if p.metrics == nil {
		return observability.NopMetrics()
	}
	return p.metrics
}
