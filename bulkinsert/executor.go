package bulkinsert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
)

// DefaultPersistTimeout bounds one round trip to the Persister unless overridden with WithPersistTimeout.
const DefaultPersistTimeout = 2 * time.Minute

// BatchInsertExecutor persists a batch of Records under one IdentifierStrategy and returns them with their final ids.
type BatchInsertExecutor struct {
	persister      Persister
	allocator      *SequenceAllocator
	sequence       *BlockSequence
	persistTimeout time.Duration
	observer
}

// ExecutorOption defines a functional option for configuring a BatchInsertExecutor.
type ExecutorOption func(*BatchInsertExecutor) error

// WithSequenceAllocator sets the shared allocator used by the ClientGenerated strategy.
func WithSequenceAllocator(allocator *SequenceAllocator) ExecutorOption {
	return func(e *BatchInsertExecutor) error {
		e.allocator = allocator
		return nil
	}
}

// WithBlockSequence sets the block sequence used by the DbSequence strategy.
func WithBlockSequence(sequence *BlockSequence) ExecutorOption {
	return func(e *BatchInsertExecutor) error {
		e.sequence = sequence
		return nil
	}
}

// WithPersistTimeout sets the deadline around the persistence round trip. Zero disables it.
func WithPersistTimeout(timeout time.Duration) ExecutorOption {
	return func(e *BatchInsertExecutor) error {
		if timeout < 0 {
			return configurationError(ErrInvalidTimeout)
		}

		e.persistTimeout = timeout

		return nil
	}
}

// WithLogger sets the logger for the BatchInsertExecutor.
//
// Info level: committed batches with strategy, record count and duration
// Warn level: rejected batches (configuration errors)
// Error level: failed batches.
func WithLogger(logger Logger) ExecutorOption {
	return func(e *BatchInsertExecutor) error {
		e.logger = logger
		return nil
	}
}

// WithContextualLogger sets the context-aware logger for the BatchInsertExecutor.
func WithContextualLogger(logger ContextualLogger) ExecutorOption {
	return func(e *BatchInsertExecutor) error {
		e.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the BatchInsertExecutor.
func WithMetrics(collector MetricsCollector) ExecutorOption {
	return func(e *BatchInsertExecutor) error {
		e.metricsCollector = collector
		return nil
	}
}

// NewBatchInsertExecutor creates a BatchInsertExecutor on top of the given Persister.
func NewBatchInsertExecutor(persister Persister, options ...ExecutorOption) (*BatchInsertExecutor, error) {
	if persister == nil {
		return nil, configurationError(ErrNilPersister)
	}

	e := &BatchInsertExecutor{
		persister:      persister,
		persistTimeout: DefaultPersistTimeout,
	}

	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Execute validates the batch, assigns ids per strategy, and persists all records as one transactional unit.
//
// The returned records have the same length and order as the input and each carries a unique id.
// Errors wrapping ErrConfiguration are raised before any I/O.
// Errors wrapping ErrPersistence mean that no record of the batch was committed; retry the whole batch, never a subset.
// ErrInconsistentResult without ErrPersistence means the store committed the batch but returned a broken result.
func (e *BatchInsertExecutor) Execute(ctx context.Context, strategy IdentifierStrategy, records Records) (Records, error) {
	start := time.Now()

	assigned, assignErr := NewIdentifierAssigner(e.allocator, e.sequence).Assign(ctx, strategy, records)
	if assignErr != nil {
		e.failed(ctx, strategy, len(records), assignErr, time.Since(start))
		return nil, assignErr
	}

	persisted, persistErr := e.persist(ctx, strategy, assigned)
	if persistErr != nil {
		e.failed(ctx, strategy, len(records), persistErr, time.Since(start))
		return nil, persistErr
	}

	if verifyErr := verifyPersisted(assigned, persisted); verifyErr != nil {
		e.failed(ctx, strategy, len(records), verifyErr, time.Since(start))
		return nil, verifyErr
	}

	duration := time.Since(start)
	e.logInfo(
		ctx,
		logMsgBatchPersisted,
		logAttrStrategy, strategy.String(),
		logAttrRecordCount, len(persisted),
		logAttrDurationMS, toMilliseconds(duration),
	)
	e.recordBatchSuccess(ctx, strategy, len(persisted), duration)

	return persisted, nil
}

// persist calls the Persister under the configured deadline.
func (e *BatchInsertExecutor) persist(ctx context.Context, strategy IdentifierStrategy, records Records) (Records, error) {
	persistCtx := ctx
	if e.persistTimeout > 0 {
		var cancel context.CancelFunc
		persistCtx, cancel = context.WithTimeout(ctx, e.persistTimeout)
		defer cancel()
	}

	persisted, err := e.persister.SaveBatch(persistCtx, strategy, records)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(persistCtx.Err(), context.DeadlineExceeded) {
			return nil, persistenceError(ErrPersistenceTimeout, err)
		}

		return nil, persistenceError(err)
	}

	return persisted, nil
}

// failed logs and records a failed batch; configuration errors are logged as warnings.
func (e *BatchInsertExecutor) failed(ctx context.Context, strategy IdentifierStrategy, count int, err error, d time.Duration) {
	errorType := ClassifyError(err)

	if errorType == ErrorTypeConfiguration {
		e.logWarn(ctx, logMsgBatchRejected, logAttrError, err.Error(), logAttrStrategy, strategy.String(), logAttrRecordCount, count)
	} else {
		e.logError(ctx, logMsgBatchFailed, err, logAttrErrorType, errorType, logAttrStrategy, strategy.String(), logAttrRecordCount, count)
	}

	e.recordBatchError(ctx, strategy, errorType, d)
}

// verifyPersisted checks that the persister honored its contract: same length and order, every id set and unique,
// pre-assigned ids unchanged.
func verifyPersisted(submitted Records, persisted Records) error {
	if len(persisted) != len(submitted) {
		return inconsistentResult(
			fmt.Errorf("submitted %d records, got %d back", len(submitted), len(persisted)),
		)
	}

	for i := range persisted {
		switch {
		case !persisted[i].HasID():
			return inconsistentResult(fmt.Errorf("record %d has no id", i))
		case submitted[i].HasID() && submitted[i].IDOrZero() != persisted[i].IDOrZero():
			return inconsistentResult(
				fmt.Errorf("record %d: id changed from %d to %d", i, submitted[i].IDOrZero(), persisted[i].IDOrZero()),
			)
		case submitted[i].Title != persisted[i].Title ||
			submitted[i].Author != persisted[i].Author ||
			!submitted[i].Price.Equal(persisted[i].Price):
			return inconsistentResult(fmt.Errorf("record %d is out of order", i))
		}
	}

	ids := lo.Map(persisted, func(r Record, _ int) int64 { return r.IDOrZero() })
	if duplicates := lo.FindDuplicates(ids); len(duplicates) > 0 {
		return inconsistentResult(fmt.Errorf("duplicate ids in result: %v", duplicates))
	}

	return nil
}
