package memoryengine_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/bulkinsert"
	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/bulkinsert/memoryengine"
	. "github.com/AntonStoeckl/idstrategy-bulkinsert-go/testutil/helper" //nolint:revive
)

func givenEngine(t *testing.T, options ...memoryengine.Option) *memoryengine.Engine {
	engine, err := memoryengine.NewEngine(options...)
	require.NoError(t, err)

	return engine
}

func Test_NewEngine_When_OptionIsInvalid_ShouldFail(t *testing.T) {
	_, nameErr := memoryengine.NewEngine(memoryengine.WithSequenceName(""))
	_, seedErr := memoryengine.NewEngine(memoryengine.WithInitialSequenceValue(0))

	assert.ErrorIs(t, nameErr, bulkinsert.ErrEmptyTableName)
	assert.ErrorIs(t, seedErr, bulkinsert.ErrInvalidSeed)
}

func Test_SaveBatch_When_AutoIncrement_ShouldAssignIDsInInputOrder(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := givenEngine(t)

	// arrange
	GivenPersistedBatch(ctx, t, engine, bulkinsert.AutoIncrement, FixtureRecords(t, 2))
	records := FixtureRecords(t, 3)

	// act
	persisted, err := engine.SaveBatch(ctx, bulkinsert.AutoIncrement, records)

	// assert
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4, 5}, []int64{persisted[0].IDOrZero(), persisted[1].IDOrZero(), persisted[2].IDOrZero()})
	AssertOrderAndUniqueness(t, records, persisted)
}

func Test_SaveBatch_When_BatchContainsDuplicateID_ShouldStoreNothing(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := givenEngine(t)

	// arrange
	records := FixtureRecordsWithIDs(t, 3, 10)
	records[2] = records[2].WithID(10)

	// act
	_, err := engine.SaveBatch(ctx, bulkinsert.ClientGenerated, records)

	// assert
	assert.ErrorIs(t, err, bulkinsert.ErrPersistence)
	assert.ErrorIs(t, err, bulkinsert.ErrDuplicateID)
	assert.Empty(t, engine.Rows(bulkinsert.ClientGenerated))
}

func Test_SaveBatch_When_IDIsMissing_ShouldFail(t *testing.T) {
	// setup
	engine := givenEngine(t)

	// act
	_, err := engine.SaveBatch(context.Background(), bulkinsert.DbSequence, FixtureRecords(t, 1))

	// assert
	assert.ErrorIs(t, err, bulkinsert.ErrPersistence)
	assert.ErrorContains(t, err, "id must not be null")
}

func Test_SaveBatch_When_ContextIsCanceled_ShouldFail(t *testing.T) {
	// setup
	engine := givenEngine(t, memoryengine.WithLatency(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// act
	_, err := engine.SaveBatch(ctx, bulkinsert.AutoIncrement, FixtureRecords(t, 1))

	// assert
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, engine.SaveBatchCalls())
}

func Test_SaveBatch_TablesAreSeparatedPerStrategy(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := givenEngine(t)

	// act
	GivenPersistedBatch(ctx, t, engine, bulkinsert.ClientGenerated, FixtureRecordsWithIDs(t, 2, 7))
	GivenPersistedBatch(ctx, t, engine, bulkinsert.DbSequence, FixtureRecordsWithIDs(t, 2, 7))

	// assert
	assert.Len(t, engine.Rows(bulkinsert.ClientGenerated), 2)
	assert.Len(t, engine.Rows(bulkinsert.DbSequence), 2)
	assert.Empty(t, engine.Rows(bulkinsert.AutoIncrement))
}

func Test_AllocateBlock_HandsOutConsecutiveBlocks(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := givenEngine(t, memoryengine.WithInitialSequenceValue(5))

	// act
	first1, count1, err1 := engine.AllocateBlock(ctx, 100)
	first2, count2, err2 := engine.AllocateBlock(ctx, 50)

	// assert
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, int64(5), first1)
	assert.Equal(t, int64(100), count1)
	assert.Equal(t, int64(105), first2)
	assert.Equal(t, int64(50), count2)
	assert.Equal(t, 2, engine.AllocateBlockCalls())
}

func Test_AllocateBlock_When_InputIsInvalidOrRangeExhausted_ShouldFail(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := givenEngine(t, memoryengine.WithInitialSequenceValue(math.MaxInt64-10))

	// act
	_, _, sizeErr := engine.AllocateBlock(ctx, 0)
	_, _, overflowErr := engine.AllocateBlock(ctx, 20)

	// assert
	assert.ErrorIs(t, sizeErr, bulkinsert.ErrConfiguration)
	assert.ErrorIs(t, sizeErr, bulkinsert.ErrInvalidAllocationSize)
	assert.ErrorIs(t, overflowErr, bulkinsert.ErrAllocationOverflow)
}

func Test_MaxID_And_TruncateAll(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := givenEngine(t)

	// arrange
	GivenPersistedBatch(ctx, t, engine, bulkinsert.ClientGenerated, FixtureRecordsWithIDs(t, 3, 40))
	_, _, err := engine.AllocateBlock(ctx, 10)
	require.NoError(t, err)

	// act
	maxID, maxErr := engine.MaxID(ctx, bulkinsert.ClientGenerated)
	emptyMaxID, emptyErr := engine.MaxID(ctx, bulkinsert.AutoIncrement)
	truncateErr := engine.TruncateAll(ctx)
	first, _, allocErr := engine.AllocateBlock(ctx, 10)

	// assert
	assert.NoError(t, maxErr)
	assert.NoError(t, emptyErr)
	assert.NoError(t, truncateErr)
	assert.NoError(t, allocErr)
	assert.Equal(t, int64(42), maxID)
	assert.Equal(t, int64(0), emptyMaxID)
	assert.Empty(t, engine.Rows(bulkinsert.ClientGenerated))
	assert.Equal(t, int64(1), first, "truncate resets the table generator")
}
