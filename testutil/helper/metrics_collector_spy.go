package helper

import (
	"maps"
	"sync"
	"time"
)

// MetricsCollectorSpy is a MetricsCollector implementation that captures metrics calls for testing.
type MetricsCollectorSpy struct {
	durationRecords []SpyDurationRecord
	counterRecords  []SpyCounterRecord
	valueRecords    []SpyValueRecord
	mu              sync.Mutex
}

// SpyDurationRecord represents a recorded duration metric call.
type SpyDurationRecord struct {
	Metric   string
	Duration time.Duration
	Labels   map[string]string
}

// SpyCounterRecord represents a recorded counter increment call.
type SpyCounterRecord struct {
	Metric string
	Labels map[string]string
}

// SpyValueRecord represents a recorded value metric call.
type SpyValueRecord struct {
	Metric string
	Value  float64
	Labels map[string]string
}

// NewMetricsCollectorSpy creates a new MetricsCollectorSpy.
func NewMetricsCollectorSpy() *MetricsCollectorSpy {
	return &MetricsCollectorSpy{}
}

// RecordDuration implements the MetricsCollector interface.
func (s *MetricsCollectorSpy) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.durationRecords = append(s.durationRecords, SpyDurationRecord{
		Metric:   metric,
		Duration: duration,
		Labels:   maps.Clone(labels),
	})
}

// IncrementCounter implements the MetricsCollector interface.
func (s *MetricsCollectorSpy) IncrementCounter(metric string, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counterRecords = append(s.counterRecords, SpyCounterRecord{
		Metric: metric,
		Labels: maps.Clone(labels),
	})
}

// RecordValue implements the MetricsCollector interface.
func (s *MetricsCollectorSpy) RecordValue(metric string, value float64, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.valueRecords = append(s.valueRecords, SpyValueRecord{
		Metric: metric,
		Value:  value,
		Labels: maps.Clone(labels),
	})
}

// GetDurationRecords returns a copy of all captured duration records.
func (s *MetricsCollectorSpy) GetDurationRecords() []SpyDurationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]SpyDurationRecord, len(s.durationRecords))
	copy(records, s.durationRecords)

	return records
}

// GetCounterRecords returns a copy of all captured counter records.
func (s *MetricsCollectorSpy) GetCounterRecords() []SpyCounterRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]SpyCounterRecord, len(s.counterRecords))
	copy(records, s.counterRecords)

	return records
}

// GetValueRecords returns a copy of all captured value records.
func (s *MetricsCollectorSpy) GetValueRecords() []SpyValueRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]SpyValueRecord, len(s.valueRecords))
	copy(records, s.valueRecords)

	return records
}

// HasDurationRecord checks if there's a duration record with the metric name and matching labels.
func (s *MetricsCollectorSpy) HasDurationRecord(metric string, labels map[string]string) bool {
	for _, record := range s.GetDurationRecords() {
		if record.Metric == metric && containsLabels(record.Labels, labels) {
			return true
		}
	}

	return false
}

// HasCounterRecord checks if there's a counter record with the metric name and matching labels.
func (s *MetricsCollectorSpy) HasCounterRecord(metric string, labels map[string]string) bool {
	for _, record := range s.GetCounterRecords() {
		if record.Metric == metric && containsLabels(record.Labels, labels) {
			return true
		}
	}

	return false
}

func containsLabels(actual, expected map[string]string) bool {
	for k, v := range expected {
		if actual[k] != v {
			return false
		}
	}

	return true
}
