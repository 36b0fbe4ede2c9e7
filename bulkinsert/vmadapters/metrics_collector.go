package vmadapters

import (
	"io"
	"sort"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// MetricsCollector implements bulkinsert.MetricsCollector using VictoriaMetrics/metrics.
// It maps the bulkinsert metrics interface to VictoriaMetrics instruments:
//   - RecordDuration -> Histogram (seconds)
//   - IncrementCounter -> Counter
//   - RecordValue -> Gauge (last recorded value)
//
// Each distinct label combination becomes its own time series.
type MetricsCollector struct {
	set *metrics.Set
}

// NewMetricsCollector creates a collector with its own, empty metrics.Set.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithSet(metrics.NewSet())
}

// NewMetricsCollectorWithSet creates a collector that registers its metrics in the given set.
func NewMetricsCollectorWithSet(set *metrics.Set) *MetricsCollector {
	return &MetricsCollector{set: set}
}

// RecordDuration records a duration in seconds.
func (m *MetricsCollector) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	m.set.GetOrCreateHistogram(seriesName(metric, labels)).Update(duration.Seconds())
}

// IncrementCounter increments a counter by one.
func (m *MetricsCollector) IncrementCounter(metric string, labels map[string]string) {
	m.set.GetOrCreateCounter(seriesName(metric, labels)).Inc()
}

// RecordValue sets a gauge to the given value.
func (m *MetricsCollector) RecordValue(metric string, value float64, labels map[string]string) {
	m.set.GetOrCreateGauge(seriesName(metric, labels), nil).Set(value)
}

// WritePrometheus writes all collected metrics in the Prometheus text exposition format.
func (m *MetricsCollector) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}

// labelValueEscaper applies the Prometheus text format escaping for label values.
var labelValueEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// seriesName builds `metric{k1="v1",k2="v2"}` with the label keys sorted.
func seriesName(metric string, labels map[string]string) string {
	if len(labels) == 0 {
		return metric
	}

	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(metric)
	b.WriteByte('{')

	for i, key := range keys {
		if i > 0 {
			b.WriteByte(',')
		}

		b.WriteString(key)
		b.WriteByte('=')
		b.WriteByte('"')
		b.WriteString(labelValueEscaper.Replace(labels[key]))
		b.WriteByte('"')
	}

	b.WriteByte('}')

	return b.String()
}
