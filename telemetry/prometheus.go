package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics implements Metrics on top of github.com/prometheus/client_golang,
// for embedders that scrape /metrics directly instead of running an OTLP
// collector alongside ClueMetrics.
//
// Labels carried as `tags` to IncCounter/RecordTimer/RecordGauge are paired
// up (k1, v1, k2, v2, ...) and rendered as a single "k=v,k=v" label value on
// the "tags" dimension. The underlying vectors are unexported, so this
// adapter offers no per-tag label dimensions.
type PrometheusMetrics struct {
	counters   *prometheus.CounterVec
	histograms *prometheus.HistogramVec
	gauges     *prometheus.GaugeVec
}

// NewPrometheusMetrics registers the runtime's metric families with reg and
// returns a Metrics implementation backed by them.
func NewPrometheusMetrics(reg prometheus.Registerer) Metrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		counters: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventagent",
			Name:      "events_total",
			Help:      "Counter metrics emitted by the event-sourced agent runtime.",
		}, []string{"name", "tags"}),
		histograms: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "eventagent",
			Name:      "durations_seconds",
			Help:      "Duration metrics emitted by the event-sourced agent runtime.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"name", "tags"}),
		gauges: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "eventagent",
			Name:      "gauges",
			Help:      "Gauge metrics emitted by the event-sourced agent runtime.",
		}, []string{"name", "tags"}),
	}
}

func (m *PrometheusMetrics) IncCounter(name string, value float64, tags ...string) {
	m.counters.WithLabelValues(name, joinTags(tags)).Add(value)
}

func (m *PrometheusMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	m.histograms.WithLabelValues(name, joinTags(tags)).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordGauge(name string, value float64, tags ...string) {
	m.gauges.WithLabelValues(name, joinTags(tags)).Set(value)
}

func joinTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	out := make([]byte, 0, 32)
	for i := 0; i < len(tags); i += 2 {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, tags[i]...)
		out = append(out, '=')
		if i+1 < len(tags) {
			out = append(out, tags[i+1]...)
		}
	}
	return string(out)
}
