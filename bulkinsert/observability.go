package bulkinsert

import (
	"context"
	"errors"
	"math"
	"time"
)

// Logger interface for operational logging, warnings, and error reporting.
// *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ContextualLogger interface for context-aware logging, e.g. with automatic trace correlation.
// *slog.Logger satisfies it.
type ContextualLogger interface {
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}

// MetricsCollector interface for collecting batch insert performance and operational metrics.
type MetricsCollector interface {
	RecordDuration(metric string, duration time.Duration, labels map[string]string)
	IncrementCounter(metric string, labels map[string]string)
	RecordValue(metric string, value float64, labels map[string]string)
}

// ContextualMetricsCollector extends MetricsCollector with context-aware methods.
// The context-aware methods are used when available, otherwise the base MetricsCollector methods.
type ContextualMetricsCollector interface {
	MetricsCollector
	RecordDurationContext(ctx context.Context, metric string, duration time.Duration, labels map[string]string)
	IncrementCounterContext(ctx context.Context, metric string, labels map[string]string)
	RecordValueContext(ctx context.Context, metric string, value float64, labels map[string]string)
}

const (
	MetricBatchDuration     = "bulkinsert_batch_duration_seconds"
	MetricRecordsPersisted  = "bulkinsert_records_persisted"
	MetricBatchErrors       = "bulkinsert_batch_errors_total"
	MetricBenchmarkDuration = "bulkinsert_benchmark_duration_seconds"

	LabelStrategy  = "strategy"
	LabelStatus    = "status"
	LabelErrorType = "error_type"

	StatusSuccess = "success"
	StatusError   = "error"

	ErrorTypeConfiguration = "configuration"
	ErrorTypeTimeout       = "timeout"
	ErrorTypeDuplicateID   = "duplicate_id"
	ErrorTypeOverflow      = "allocation_overflow"
	ErrorTypePersistence   = "persistence"
	ErrorTypeInconsistent  = "inconsistent_result"
)

const (
	logMsgBatchPersisted    = "bulkinsert operation: batch persisted"
	logMsgBatchRejected     = "bulkinsert operation: batch rejected"
	logMsgBatchFailed       = "bulkinsert operation: batch failed"
	logMsgBenchmarkFinished = "bulkinsert operation: benchmark finished"
	logAttrError            = "error"
	logAttrErrorType        = "error_type"
	logAttrStrategy         = "strategy"
	logAttrRecordCount      = "record_count"
	logAttrDurationMS       = "duration_ms"
	logAttrElapsedMS        = "elapsed_ms"
	logAttrRunID            = "run_id"
)

// ClassifyError maps an error to one of the ErrorType… label values.
func ClassifyError(err error) string {
	switch {
	case errors.Is(err, ErrConfiguration):
		return ErrorTypeConfiguration
	case errors.Is(err, ErrAllocationOverflow):
		return ErrorTypeOverflow
	case errors.Is(err, ErrPersistenceTimeout):
		return ErrorTypeTimeout
	case errors.Is(err, ErrDuplicateID):
		return ErrorTypeDuplicateID
	case errors.Is(err, ErrInconsistentResult):
		return ErrorTypeInconsistent
	default:
		return ErrorTypePersistence
	}
}

// observer bundles the optional logging and metrics sinks shared by the executor and the benchmark runner.
type observer struct {
	logger           Logger
	contextualLogger ContextualLogger
	metricsCollector MetricsCollector
}

// logInfo logs at info level to every configured logger.
func (o observer) logInfo(ctx context.Context, msg string, args ...any) {
	if o.logger != nil {
		o.logger.Info(msg, args...)
	}

	if o.contextualLogger != nil {
		o.contextualLogger.InfoContext(ctx, msg, args...)
	}
}

// logError logs at the error level to every configured logger.
func (o observer) logError(ctx context.Context, msg string, err error, args ...any) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)

	if o.logger != nil {
		o.logger.Error(msg, allArgs...)
	}

	if o.contextualLogger != nil {
		o.contextualLogger.ErrorContext(ctx, msg, allArgs...)
	}
}

// logWarn logs at warn level to every configured logger.
func (o observer) logWarn(ctx context.Context, msg string, args ...any) {
	if o.logger != nil {
		o.logger.Warn(msg, args...)
	}

	if o.contextualLogger != nil {
		o.contextualLogger.WarnContext(ctx, msg, args...)
	}
}

func (o observer) recordDuration(ctx context.Context, metric string, d time.Duration, labels map[string]string) {
	if o.metricsCollector == nil {
		return
	}

	if contextual, ok := o.metricsCollector.(ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metric, d, labels)
		return
	}

	o.metricsCollector.RecordDuration(metric, d, labels)
}

func (o observer) recordValue(ctx context.Context, metric string, value float64, labels map[string]string) {
	if o.metricsCollector == nil {
		return
	}

	if contextual, ok := o.metricsCollector.(ContextualMetricsCollector); ok {
		contextual.RecordValueContext(ctx, metric, value, labels)
		return
	}

	o.metricsCollector.RecordValue(metric, value, labels)
}

func (o observer) incrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if o.metricsCollector == nil {
		return
	}

	if contextual, ok := o.metricsCollector.(ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metric, labels)
		return
	}

	o.metricsCollector.IncrementCounter(metric, labels)
}

// recordBatchSuccess records duration and record count of a committed batch.
func (o observer) recordBatchSuccess(ctx context.Context, strategy IdentifierStrategy, count int, d time.Duration) {
	labels := map[string]string{LabelStrategy: strategy.String(), LabelStatus: StatusSuccess}
	o.recordDuration(ctx, MetricBatchDuration, d, labels)
	o.recordValue(ctx, MetricRecordsPersisted, float64(count), labels)
}

// recordBatchError records duration and error counter of a failed batch.
func (o observer) recordBatchError(ctx context.Context, strategy IdentifierStrategy, errorType string, d time.Duration) {
	o.recordDuration(ctx, MetricBatchDuration, d, map[string]string{
		LabelStrategy: strategy.String(),
		LabelStatus:   StatusError,
	})
	o.incrementCounter(ctx, MetricBatchErrors, map[string]string{
		LabelStrategy:  strategy.String(),
		LabelStatus:    StatusError,
		LabelErrorType: errorType,
	})
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
