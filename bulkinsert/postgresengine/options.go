package postgresengine

import (
	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/bulkinsert"
)

// Option defines a functional option for configuring Engine.
type Option func(*Engine) error

// WithTableNames sets the table per identifier strategy.
func WithTableNames(autoIncrement, dbSequence, clientGenerated string) Option {
	return func(e *Engine) error {
		if autoIncrement == "" || dbSequence == "" || clientGenerated == "" {
			return bulkinsert.ErrEmptyTableName
		}

		e.tableNames = map[bulkinsert.IdentifierStrategy]string{
			bulkinsert.AutoIncrement:   autoIncrement,
			bulkinsert.DbSequence:      dbSequence,
			bulkinsert.ClientGenerated: clientGenerated,
		}

		return nil
	}
}

// WithSequenceTableName sets the table that holds the table-generator rows.
func WithSequenceTableName(tableName string) Option {
	return func(e *Engine) error {
		if tableName == "" {
			return bulkinsert.ErrEmptyTableName
		}

		e.sequenceTableName = tableName

		return nil
	}
}

// WithSequenceName sets the table-generator row used by AllocateBlock.
func WithSequenceName(name string) Option {
	return func(e *Engine) error {
		if name == "" {
			return bulkinsert.ErrEmptyTableName
		}

		e.sequenceName = name

		return nil
	}
}

// WithInitialSequenceValue sets the first id of the table generator when its row does not exist yet.
func WithInitialSequenceValue(value int64) Option {
	return func(e *Engine) error {
		if value < 1 {
			return bulkinsert.ErrInvalidSeed
		}

		e.initialSequenceValue = value

		return nil
	}
}

// WithChunkSize sets the maximum number of rows per INSERT statement.
func WithChunkSize(size int) Option {
	return func(e *Engine) error {
		if size < 1 {
			return bulkinsert.ErrInvalidRecordCount
		}

		e.chunkSize = size

		return nil
	}
}

// WithLogger sets the logger for the Engine.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL statements with execution timing (development use)
// Error level: Critical failures that cause operation failures.
func WithLogger(logger bulkinsert.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Engine, which records the duration of each SQL operation.
func WithMetrics(collector bulkinsert.MetricsCollector) Option {
	return func(e *Engine) error {
		e.metricsCollector = collector
		return nil
	}
}
