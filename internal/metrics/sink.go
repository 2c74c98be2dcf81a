package metrics

import (
	"context"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for engine metrics
const meterName = "github.com/cuongbtq/jobengine"

// Sink receives counts and gauges
type Sink interface {
	Count(ctx context.Context, name string, n int64, tags map[string]string)
	Gauge(ctx context.Context, name string, value float64, tags map[string]string)
}

// Nop discards everything
type Nop struct{}

func (Nop) Count(context.Context, string, int64, map[string]string)   {}
func (Nop) Gauge(context.Context, string, float64, map[string]string) {}

// OTel exports to an OpenTelemetry meter. Instruments are created on first use.
type OTel struct {
	meter metric.Meter

	mu       sync.Mutex
	counters map[string]metric.Int64Counter
	gauges   map[string]metric.Float64Gauge
}

// NewOTel creates a sink on the global MeterProvider
func NewOTel() *OTel {
	return NewOTelWithMeter(otel.Meter(meterName))
}

// NewOTelWithMeter creates a sink on the given meter
func NewOTelWithMeter(meter metric.Meter) *OTel {
	return &OTel{
		meter:    meter,
		counters: make(map[string]metric.Int64Counter),
		gauges:   make(map[string]metric.Float64Gauge),
	}
}

func (s *OTel) Count(ctx context.Context, name string, n int64, tags map[string]string) {
	s.counter(name).Add(ctx, n, metric.WithAttributes(attributes(tags)...))
}

func (s *OTel) Gauge(ctx context.Context, name string, value float64, tags map[string]string) {
	s.gauge(name).Record(ctx, value, metric.WithAttributes(attributes(tags)...))
}

func (s *OTel) counter(name string) metric.Int64Counter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.counters[name]; ok {
		return c
	}
	// the API returns a noop instrument alongside any error
	c, _ := s.meter.Int64Counter(name)
	s.counters[name] = c
	return c
}

func (s *OTel) gauge(name string) metric.Float64Gauge {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g, ok := s.gauges[name]; ok {
		return g
	}
	g, _ := s.meter.Float64Gauge(name)
	s.gauges[name] = g
	return g
}

func attributes(tags map[string]string) []attribute.KeyValue {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, tags[k]))
	}
	return attrs
}
