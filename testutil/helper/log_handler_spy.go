package helper

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

// LogHandlerSpy is a slog.Handler implementation that captures log records for testing.
type LogHandlerSpy struct {
	records     []slog.Record
	mu          sync.Mutex
	logToStdout bool
}

// NewLogHandlerSpy creates a new LogHandlerSpy.
// Switchable to log to stdout, which can be useful for debugging tests by seeing the actual log output.
func NewLogHandlerSpy(logToStdOut bool) *LogHandlerSpy {
	return &LogHandlerSpy{
		records:     make([]slog.Record, 0),
		logToStdout: logToStdOut,
	}
}

// Handle implements slog.Handler interface.
func (h *LogHandlerSpy) Handle(ctx context.Context, record slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, record)

	if h.logToStdout {
		jsonHandler := slog.NewJSONHandler(os.Stdout, nil)
		_ = jsonHandler.Handle(ctx, record)
	}

	return nil
}

// Enabled implements slog.Handler interface.
func (h *LogHandlerSpy) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

// WithAttrs implements slog.Handler interface.
func (h *LogHandlerSpy) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

// WithGroup implements slog.Handler interface.
func (h *LogHandlerSpy) WithGroup(_ string) slog.Handler {
	return h
}

// GetRecordCount returns the number of captured log records.
func (h *LogHandlerSpy) GetRecordCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.records)
}

// HasLogWithMessage starts a fluent chain to check a log record of the given level.
func (h *LogHandlerSpy) HasLogWithMessage(level slog.Level, message string) *LogRecordMatcher {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, record := range h.records {
		if record.Level == level && record.Message == message {
			return &LogRecordMatcher{record: record, found: true}
		}
	}

	return &LogRecordMatcher{found: false}
}

// HasInfoLogWithMessage starts a fluent chain to check an info-level log record.
func (h *LogHandlerSpy) HasInfoLogWithMessage(message string) *LogRecordMatcher {
	return h.HasLogWithMessage(slog.LevelInfo, message)
}

// HasWarnLogWithMessage starts a fluent chain to check a warn-level log record.
func (h *LogHandlerSpy) HasWarnLogWithMessage(message string) *LogRecordMatcher {
	return h.HasLogWithMessage(slog.LevelWarn, message)
}

// HasErrorLogWithMessage starts a fluent chain to check an error-level log record.
func (h *LogHandlerSpy) HasErrorLogWithMessage(message string) *LogRecordMatcher {
	return h.HasLogWithMessage(slog.LevelError, message)
}

// LogRecordMatcher provides a fluent interface for checking log record attributes.
type LogRecordMatcher struct {
	record slog.Record
	found  bool
}

// WithDurationMS checks if the log record has a duration_ms attribute with a non-negative value.
func (m *LogRecordMatcher) WithDurationMS() *LogRecordMatcher {
	return m.withNonNegative("duration_ms")
}

// WithRecordCount checks if the log record has a record_count attribute with a non-negative value.
func (m *LogRecordMatcher) WithRecordCount() *LogRecordMatcher {
	return m.withNonNegative("record_count")
}

// WithAttr checks if the log record has a string attribute with the given value.
func (m *LogRecordMatcher) WithAttr(key, value string) *LogRecordMatcher {
	if !m.found {
		return m
	}

	hasAttr := false
	m.record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == key && attr.Value.String() == value {
			hasAttr = true
			return false
		}

		return true
	})

	m.found = hasAttr

	return m
}

func (m *LogRecordMatcher) withNonNegative(key string) *LogRecordMatcher {
	if !m.found {
		return m
	}

	hasValue := false
	m.record.Attrs(func(attr slog.Attr) bool {
		if attr.Key != key {
			return true
		}

		switch attr.Value.Kind() {
		case slog.KindInt64:
			hasValue = attr.Value.Int64() >= 0
		case slog.KindFloat64:
			hasValue = attr.Value.Float64() >= 0
		case slog.KindUint64:
			hasValue = true
		default:
			// other kinds are not numeric
		}

		return false
	})

	m.found = hasValue

	return m
}

// Assert returns true if all conditions in the fluent chain were met.
func (m *LogRecordMatcher) Assert() bool {
	return m.found
}
