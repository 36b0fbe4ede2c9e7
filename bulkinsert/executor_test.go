package bulkinsert_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/bulkinsert"
	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/bulkinsert/memoryengine"
	. "github.com/AntonStoeckl/idstrategy-bulkinsert-go/testutil/helper" //nolint:revive
)

type executorFixture struct {
	engine    *memoryengine.Engine
	allocator *bulkinsert.SequenceAllocator
	sequence  *bulkinsert.BlockSequence
	executor  *bulkinsert.BatchInsertExecutor
}

func givenExecutor(t *testing.T, engineOptions []memoryengine.Option, options ...bulkinsert.ExecutorOption) executorFixture {
	engine, err := memoryengine.NewEngine(engineOptions...)
	require.NoError(t, err)

	allocator := GivenAllocator(t, 0)
	sequence := GivenBlockSequence(t, engine, bulkinsert.DefaultAllocationSize)

	allOptions := append(
		[]bulkinsert.ExecutorOption{
			bulkinsert.WithSequenceAllocator(allocator),
			bulkinsert.WithBlockSequence(sequence),
		},
		options...,
	)

	executor, err := bulkinsert.NewBatchInsertExecutor(engine, allOptions...)
	require.NoError(t, err)

	return executorFixture{engine: engine, allocator: allocator, sequence: sequence, executor: executor}
}

func Test_NewBatchInsertExecutor_When_ConfigurationIsInvalid_ShouldFail(t *testing.T) {
	// act
	_, nilErr := bulkinsert.NewBatchInsertExecutor(nil)
	_, timeoutErr := bulkinsert.NewBatchInsertExecutor(NewPersisterSpy(nil), bulkinsert.WithPersistTimeout(-time.Second))

	// assert
	assert.ErrorIs(t, nilErr, bulkinsert.ErrConfiguration)
	assert.ErrorIs(t, nilErr, bulkinsert.ErrNilPersister)
	assert.ErrorIs(t, timeoutErr, bulkinsert.ErrConfiguration)
	assert.ErrorIs(t, timeoutErr, bulkinsert.ErrInvalidTimeout)
}

func Test_Execute_PreservesOrderAndAssignsUniqueIDs(t *testing.T) {
	for _, strategy := range bulkinsert.AllIdentifierStrategies() {
		t.Run(strategy.String(), func(t *testing.T) {
			// setup
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			f := givenExecutor(t, nil)

			// arrange
			records := FixtureRecords(t, 250)

			// act
			persisted, err := f.executor.Execute(ctx, strategy, records)

			// assert
			require.NoError(t, err)
			AssertOrderAndUniqueness(t, records, persisted)
			assert.Len(t, f.engine.Rows(strategy), 250)
			assert.Equal(t, 1, f.engine.SaveBatchCalls())

			for _, record := range records {
				assert.False(t, record.HasID(), "the input batch must not be mutated")
			}
		})
	}
}

func Test_Execute_When_StrategyIsDbSequence_ShouldFetchBlocksOnDemand(t *testing.T) {
	// setup
	ctx := context.Background()
	f := givenExecutor(t, nil)

	// act
	persisted, err := f.executor.Execute(ctx, bulkinsert.DbSequence, FixtureRecords(t, 250))

	// assert
	require.NoError(t, err)
	assert.Equal(t, int64(3), f.sequence.RoundTrips())
	assert.Equal(t, 3, f.engine.AllocateBlockCalls())
	assert.Equal(t, int64(1), persisted[0].IDOrZero())
	assert.Equal(t, int64(250), persisted[249].IDOrZero())
}

func Test_Execute_When_StrategyIsAutoIncrement_ShouldNotTouchIdSources(t *testing.T) {
	// setup
	ctx := context.Background()
	f := givenExecutor(t, nil)

	// act
	_, err := f.executor.Execute(ctx, bulkinsert.AutoIncrement, FixtureRecords(t, 10))

	// assert
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.allocator.Last())
	assert.Equal(t, int64(0), f.sequence.RoundTrips())
}

func Test_Execute_When_ClientGeneratedRecordsArePreassigned_ShouldKeepTheirIDs(t *testing.T) {
	// setup
	ctx := context.Background()
	f := givenExecutor(t, nil)

	// arrange
	records := FixtureRecordsWithIDs(t, 5, 1000)

	// act
	persisted, err := f.executor.Execute(ctx, bulkinsert.ClientGenerated, records)

	// assert
	require.NoError(t, err)
	for i, record := range persisted {
		assert.Equal(t, int64(1000+i), record.IDOrZero())
	}

	assert.Equal(t, int64(0), f.allocator.Last(), "the allocator must not be used for pre-assigned records")
}

func Test_Execute_When_BatchIsInvalid_ShouldFailBeforeAnyIO(t *testing.T) {
	mixed := func(t *testing.T) bulkinsert.Records {
		records := FixtureRecords(t, 3)
		records[1] = records[1].WithID(5)

		return records
	}

	tests := []struct {
		name        string
		strategy    bulkinsert.IdentifierStrategy
		records     func(t *testing.T) bulkinsert.Records
		expectedErr error
	}{
		{
			name:        "mixed id states for ClientGenerated",
			strategy:    bulkinsert.ClientGenerated,
			records:     mixed,
			expectedErr: bulkinsert.ErrMixedIdentifierStates,
		},
		{
			name:        "mixed id states for AutoIncrement",
			strategy:    bulkinsert.AutoIncrement,
			records:     mixed,
			expectedErr: bulkinsert.ErrMixedIdentifierStates,
		},
		{
			name:     "pre-assigned ids for AutoIncrement",
			strategy: bulkinsert.AutoIncrement,
			records: func(t *testing.T) bulkinsert.Records {
				return FixtureRecordsWithIDs(t, 3, 1)
			},
			expectedErr: bulkinsert.ErrPreassignedID,
		},
		{
			name:     "pre-assigned ids for DbSequence",
			strategy: bulkinsert.DbSequence,
			records: func(t *testing.T) bulkinsert.Records {
				return FixtureRecordsWithIDs(t, 3, 1)
			},
			expectedErr: bulkinsert.ErrPreassignedID,
		},
		{
			name:     "empty batch",
			strategy: bulkinsert.ClientGenerated,
			records: func(*testing.T) bulkinsert.Records {
				return bulkinsert.Records{}
			},
			expectedErr: bulkinsert.ErrEmptyBatch,
		},
		{
			name:     "unknown strategy",
			strategy: bulkinsert.IdentifierStrategy(42),
			records: func(t *testing.T) bulkinsert.Records {
				return FixtureRecords(t, 3)
			},
			expectedErr: bulkinsert.ErrUnknownIdentifierStrategy,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// setup
			f := givenExecutor(t, nil)

			// act
			_, err := f.executor.Execute(context.Background(), tc.strategy, tc.records(t))

			// assert
			assert.ErrorIs(t, err, bulkinsert.ErrConfiguration)
			assert.ErrorIs(t, err, tc.expectedErr)
			assert.Equal(t, 0, f.engine.SaveBatchCalls())
			assert.Equal(t, 0, f.engine.AllocateBlockCalls())
			assert.Equal(t, int64(0), f.allocator.Last())
		})
	}
}

func Test_Execute_When_PreassignedBatchPrecedesGeneratedBatch_ShouldNotReuseIDs(t *testing.T) {
	// setup
	ctx := context.Background()
	f := givenExecutor(t, nil)

	// arrange
	_, err := f.executor.Execute(ctx, bulkinsert.ClientGenerated, FixtureRecordsWithIDs(t, 5, 1))
	require.NoError(t, err)

	// act
	persisted, err := f.executor.Execute(ctx, bulkinsert.ClientGenerated, FixtureRecords(t, 5))

	// assert
	require.NoError(t, err)
	assert.Equal(t, []int64{6, 7, 8, 9, 10}, lo.Map(persisted, func(r bulkinsert.Record, _ int) int64 { return r.IDOrZero() }))
	assert.Len(t, f.engine.Rows(bulkinsert.ClientGenerated), 10)
	assert.Equal(t, int64(10), f.allocator.Last())
}

func Test_Execute_When_PreassignedIDsAreBelowTheAllocator_ShouldNotMoveItBackwards(t *testing.T) {
	// setup
	ctx := context.Background()
	f := givenExecutor(t, nil)
	f.allocator.AdvanceTo(100)

	// act
	_, err := f.executor.Execute(ctx, bulkinsert.ClientGenerated, FixtureRecordsWithIDs(t, 3, 1))

	// assert
	require.NoError(t, err)
	assert.Equal(t, int64(100), f.allocator.Last())
}

func Test_Execute_When_IdSourceIsMissing_ShouldFailBeforeAnyIO(t *testing.T) {
	for _, strategy := range []bulkinsert.IdentifierStrategy{bulkinsert.DbSequence, bulkinsert.ClientGenerated} {
		t.Run(strategy.String(), func(t *testing.T) {
			// setup
			spy := NewPersisterSpy(nil)
			executor, err := bulkinsert.NewBatchInsertExecutor(spy)
			require.NoError(t, err)

			// act
			_, err = executor.Execute(context.Background(), strategy, FixtureRecords(t, 3))

			// assert
			assert.ErrorIs(t, err, bulkinsert.ErrConfiguration)
			assert.ErrorIs(t, err, bulkinsert.ErrMissingSequence)
			assert.Equal(t, 0, spy.Calls())
		})
	}
}

func Test_Execute_When_PersistenceFails_ShouldCommitNothing(t *testing.T) {
	// setup
	ctx := context.Background()
	f := givenExecutor(t, nil)

	// arrange
	f.engine.FailNextSave(nil)

	// act
	persisted, err := f.executor.Execute(ctx, bulkinsert.ClientGenerated, FixtureRecords(t, 10))

	// assert
	assert.Nil(t, persisted)
	assert.ErrorIs(t, err, bulkinsert.ErrPersistence)
	assert.ErrorIs(t, err, memoryengine.ErrInjectedFailure)
	assert.Empty(t, f.engine.Rows(bulkinsert.ClientGenerated))
}

func Test_Execute_When_PersisterFails_ShouldHaveHandedOverTheAssignedIDs(t *testing.T) {
	// setup
	ctx := context.Background()
	cause := errors.New("connection reset by peer")
	spy := NewPersisterSpy(nil).FailWith(cause)
	metricsSpy := NewMetricsCollectorSpy()

	executor, err := bulkinsert.NewBatchInsertExecutor(
		spy,
		bulkinsert.WithSequenceAllocator(GivenAllocator(t, 41)),
		bulkinsert.WithMetrics(metricsSpy),
	)
	require.NoError(t, err)

	// act
	persisted, execErr := executor.Execute(ctx, bulkinsert.ClientGenerated, FixtureRecords(t, 3))

	// assert
	assert.Nil(t, persisted)
	assert.ErrorIs(t, execErr, bulkinsert.ErrPersistence)
	assert.ErrorIs(t, execErr, cause)

	received := spy.Received()
	require.Len(t, received, 1)
	assert.Equal(t, []int64{42, 43, 44}, lo.Map(received[0], func(r bulkinsert.Record, _ int) int64 { return r.IDOrZero() }))
	assert.Equal(t, []string{"Book #1", "Book #2", "Book #3"}, lo.Map(received[0], func(r bulkinsert.Record, _ int) string { return r.Title }))

	durations := metricsSpy.GetDurationRecords()
	require.Len(t, durations, 1)
	assert.Equal(t, bulkinsert.MetricBatchDuration, durations[0].Metric)
	assert.Equal(t, bulkinsert.StatusError, durations[0].Labels[bulkinsert.LabelStatus])
}

func Test_Execute_When_IdAlreadyExists_ShouldRejectTheWholeBatch(t *testing.T) {
	// setup
	ctx := context.Background()
	f := givenExecutor(t, nil)

	// arrange
	GivenPersistedBatch(ctx, t, f.engine, bulkinsert.ClientGenerated, FixtureRecordsWithIDs(t, 1, 3))

	// act
	_, err := f.executor.Execute(ctx, bulkinsert.ClientGenerated, FixtureRecordsWithIDs(t, 5, 1))

	// assert
	assert.ErrorIs(t, err, bulkinsert.ErrPersistence)
	assert.ErrorIs(t, err, bulkinsert.ErrDuplicateID)
	assert.Len(t, f.engine.Rows(bulkinsert.ClientGenerated), 1)
}

func Test_Execute_When_PersistExceedsDeadline_ShouldReturnTimeout(t *testing.T) {
	// setup
	f := givenExecutor(
		t,
		[]memoryengine.Option{memoryengine.WithLatency(time.Second)},
		bulkinsert.WithPersistTimeout(20*time.Millisecond),
	)

	// act
	_, err := f.executor.Execute(context.Background(), bulkinsert.ClientGenerated, FixtureRecords(t, 3))

	// assert
	assert.ErrorIs(t, err, bulkinsert.ErrPersistence)
	assert.ErrorIs(t, err, bulkinsert.ErrPersistenceTimeout)
	assert.Empty(t, f.engine.Rows(bulkinsert.ClientGenerated))
}

type waitForCancelPersister struct{}

func (waitForCancelPersister) SaveBatch(
	ctx context.Context,
	_ bulkinsert.IdentifierStrategy,
	_ bulkinsert.Records,
) (bulkinsert.Records, error) {

	<-ctx.Done()

	return nil, ctx.Err()
}

func Test_Execute_When_PersisterWaitsForItsContext_ShouldReturnAtTheDeadline(t *testing.T) {
	// setup
	executor, err := bulkinsert.NewBatchInsertExecutor(
		waitForCancelPersister{},
		bulkinsert.WithSequenceAllocator(GivenAllocator(t, 0)),
		bulkinsert.WithPersistTimeout(20*time.Millisecond),
	)
	require.NoError(t, err)

	// act
	start := time.Now()
	_, execErr := executor.Execute(context.Background(), bulkinsert.ClientGenerated, FixtureRecords(t, 3))

	// assert
	assert.ErrorIs(t, execErr, bulkinsert.ErrPersistenceTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func Test_Execute_When_PersisterBreaksItsContract_ShouldReturnInconsistentResult(t *testing.T) {
	tests := []struct {
		name    string
		rewrite func(records bulkinsert.Records) bulkinsert.Records
	}{
		{
			name: "records missing",
			rewrite: func(records bulkinsert.Records) bulkinsert.Records {
				return records[:len(records)-1]
			},
		},
		{
			name: "order changed",
			rewrite: func(records bulkinsert.Records) bulkinsert.Records {
				records[0], records[1] = records[1], records[0]
				return records
			},
		},
		{
			name: "duplicate ids",
			rewrite: func(records bulkinsert.Records) bulkinsert.Records {
				for i := range records {
					records[i] = records[i].WithID(1)
				}

				return records
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// setup
			spy := NewPersisterSpy(nil).RewriteResult(tc.rewrite)
			executor, err := bulkinsert.NewBatchInsertExecutor(spy)
			require.NoError(t, err)

			// act
			_, err = executor.Execute(context.Background(), bulkinsert.AutoIncrement, FixtureRecords(t, 3))

			// assert
			assert.ErrorIs(t, err, bulkinsert.ErrInconsistentResult)
			assert.NotErrorIs(t, err, bulkinsert.ErrPersistence, "the store already committed the batch")
			assert.Equal(t, bulkinsert.ErrorTypeInconsistent, bulkinsert.ClassifyError(err))
		})
	}
}

func Test_Execute_When_AllocatorIsExhausted_ShouldReturnOverflow(t *testing.T) {
	// setup
	spy := NewPersisterSpy(nil)
	allocator := GivenAllocator(t, 9223372036854775806)
	executor, err := bulkinsert.NewBatchInsertExecutor(spy, bulkinsert.WithSequenceAllocator(allocator))
	require.NoError(t, err)

	// act
	_, err = executor.Execute(context.Background(), bulkinsert.ClientGenerated, FixtureRecords(t, 2))

	// assert
	assert.ErrorIs(t, err, bulkinsert.ErrAllocationOverflow)
	assert.Equal(t, bulkinsert.ErrorTypeOverflow, bulkinsert.ClassifyError(err))
	assert.Equal(t, 0, spy.Calls())
}
