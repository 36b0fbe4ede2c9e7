package bulkinsert

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	syntheticTitle  = "Hello JPA"
	syntheticAuthor = "JW"
)

// RecordGenerator builds the i-th (zero-based) synthetic record of a benchmark run.
type RecordGenerator func(i int, now time.Time) (Record, error)

// SyntheticRecord is the default RecordGenerator: a fixed title and author, and the price i+1.
func SyntheticRecord(i int, now time.Time) (Record, error) {
	return BuildRecord(
		fmt.Sprintf("%s #%d", syntheticTitle, i+1),
		syntheticAuthor,
		now,
		decimal.NewFromInt(int64(i+1)),
		AuditStamp{At: now, By: DefaultAuditor},
	)
}

// BenchmarkResult is the outcome of one benchmark run.
type BenchmarkResult struct {
	RunID         uuid.UUID
	Count         int
	Strategy      IdentifierStrategy
	ElapsedMillis int64
	PersistedIDs  []int64
}

// BenchmarkRunner generates N synthetic records, persists them through a BatchInsertExecutor
// and measures the wall-clock time of the batch.
type BenchmarkRunner struct {
	executor  *BatchInsertExecutor
	generator RecordGenerator
	clock     func() time.Time
	observer
}

// RunnerOption defines a functional option for configuring a BenchmarkRunner.
type RunnerOption func(*BenchmarkRunner) error

// WithRecordGenerator replaces SyntheticRecord.
func WithRecordGenerator(generator RecordGenerator) RunnerOption {
	return func(r *BenchmarkRunner) error {
		if generator != nil {
			r.generator = generator
		}

		return nil
	}
}

// WithClock sets the clock used for publication dates and audit stamps of generated records.
func WithClock(clock func() time.Time) RunnerOption {
	return func(r *BenchmarkRunner) error {
		if clock != nil {
			r.clock = clock
		}

		return nil
	}
}

// WithRunnerLogger sets the logger that receives one info line per finished run.
func WithRunnerLogger(logger Logger) RunnerOption {
	return func(r *BenchmarkRunner) error {
		r.logger = logger
		return nil
	}
}

// WithRunnerContextualLogger sets the context-aware logger of the BenchmarkRunner.
func WithRunnerContextualLogger(logger ContextualLogger) RunnerOption {
	return func(r *BenchmarkRunner) error {
		r.contextualLogger = logger
		return nil
	}
}

// WithRunnerMetrics sets the metrics collector that receives the elapsed time per run.
func WithRunnerMetrics(collector MetricsCollector) RunnerOption {
	return func(r *BenchmarkRunner) error {
		r.metricsCollector = collector
		return nil
	}
}

// NewBenchmarkRunner creates a BenchmarkRunner driving the given executor.
func NewBenchmarkRunner(executor *BatchInsertExecutor, options ...RunnerOption) (*BenchmarkRunner, error) {
	if executor == nil {
		return nil, configurationError(ErrNilExecutor)
	}

	r := &BenchmarkRunner{
		executor:  executor,
		generator: SyntheticRecord,
		clock:     time.Now,
	}

	for _, option := range options {
		if err := option(r); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Run generates n records, persists them under the strategy and reports the elapsed time.
//
// Record generation is not part of the measured time. n must be positive, otherwise an error
// wrapping ErrInvalidRecordCount is returned before any I/O.
func (r *BenchmarkRunner) Run(ctx context.Context, n int, strategy IdentifierStrategy) (BenchmarkResult, error) {
	if err := validateRun(n, strategy); err != nil {
		return BenchmarkResult{}, err
	}

	records, genErr := r.generate(n)
	if genErr != nil {
		return BenchmarkResult{}, genErr
	}

	runID, uuidErr := uuid.NewV7()
	if uuidErr != nil {
		runID = uuid.New()
	}

	start := time.Now()
	persisted, execErr := r.executor.Execute(ctx, strategy, records)
	elapsed := time.Since(start)

	if execErr != nil {
		return BenchmarkResult{}, execErr
	}

	ids := lo.Map(persisted, func(record Record, _ int) int64 { return record.IDOrZero() })

	if len(ids) != n || len(lo.Uniq(ids)) != n {
		return BenchmarkResult{}, inconsistentResult(
			fmt.Errorf("expected %d unique ids, got %d ids of which %d unique", n, len(ids), len(lo.Uniq(ids))),
		)
	}

	result := BenchmarkResult{
		RunID:         runID,
		Count:         n,
		Strategy:      strategy,
		ElapsedMillis: elapsed.Milliseconds(),
		PersistedIDs:  ids,
	}

	r.logInfo(
		ctx,
		logMsgBenchmarkFinished,
		logAttrRunID, runID.String(),
		logAttrStrategy, strategy.String(),
		logAttrRecordCount, n,
		logAttrElapsedMS, result.ElapsedMillis,
	)
	r.recordDuration(ctx, MetricBenchmarkDuration, elapsed, map[string]string{
		LabelStrategy: strategy.String(),
		LabelStatus:   StatusSuccess,
	})

	return result, nil
}

// RunAll runs the benchmark once per strategy, in the given order, all strategies if none are given.
//
// A failing strategy does not stop the others; all failures are returned together.
func (r *BenchmarkRunner) RunAll(ctx context.Context, n int, strategies ...IdentifierStrategy) ([]BenchmarkResult, error) {
	if len(strategies) == 0 {
		strategies = AllIdentifierStrategies()
	}

	for _, strategy := range strategies {
		if err := validateRun(n, strategy); err != nil {
			return nil, err
		}
	}

	results := make([]BenchmarkResult, 0, len(strategies))
	var runErrs *multierror.Error

	for _, strategy := range strategies {
		if ctx.Err() != nil {
			runErrs = multierror.Append(runErrs, fmt.Errorf("%s: %w", strategy, ctx.Err()))
			break
		}

		result, err := r.Run(ctx, n, strategy)
		if err != nil {
			runErrs = multierror.Append(runErrs, fmt.Errorf("%s: %w", strategy, err))
			continue
		}

		results = append(results, result)
	}

	return results, runErrs.ErrorOrNil()
}

func (r *BenchmarkRunner) generate(n int) (Records, error) {
	now := r.clock()
	records := make(Records, n)

	for i := range records {
		record, err := r.generator(i, now)
		if err != nil {
			return nil, err
		}

		records[i] = record
	}

	return records, nil
}

func validateRun(n int, strategy IdentifierStrategy) error {
	if n <= 0 {
		return configurationError(fmt.Errorf("%w: %d", ErrInvalidRecordCount, n))
	}

	if !strategy.Valid() {
		return configurationError(fmt.Errorf("%w: %s", ErrUnknownIdentifierStrategy, strategy))
	}

	return nil
}
