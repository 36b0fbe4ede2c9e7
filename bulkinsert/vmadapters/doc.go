// Package vmadapters implements the bulkinsert MetricsCollector on top of VictoriaMetrics/metrics.
//
// Metrics are kept in a metrics.Set and can be exposed in the Prometheus text format with WritePrometheus.
package vmadapters
