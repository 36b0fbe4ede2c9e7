package mysqlengine_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/bulkinsert"
	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/bulkinsert/mysqlengine"
	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/internal/dbconfig"
	. "github.com/AntonStoeckl/idstrategy-bulkinsert-go/testutil/helper" //nolint:revive
)

func givenMySQLEngine(t *testing.T, options ...mysqlengine.Option) mysqlengine.Engine {
	dsn := os.Getenv(dbconfig.EnvMySQLDSN)
	if dsn == "" {
		t.Skipf("%s is not set, skipping MySQL integration test", dbconfig.EnvMySQLDSN)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := dbconfig.MySQLGorm(ctx, dsn, false)
	require.NoError(t, err, "error connecting to DB in test setup")

	t.Cleanup(func() {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
	})

	engine, err := mysqlengine.NewEngine(db, options...)
	require.NoError(t, err)
	require.NoError(t, engine.CreateSchema(ctx))
	require.NoError(t, engine.TruncateAll(ctx))

	return engine
}

func Test_SaveBatch_PersistsEveryStrategyInOrder(t *testing.T) {
	for _, strategy := range bulkinsert.AllIdentifierStrategies() {
		t.Run(strategy.String(), func(t *testing.T) {
			// setup
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			engine := givenMySQLEngine(t, mysqlengine.WithBatchSize(40))

			// arrange
			records := FixtureRecords(t, 250)
			if !strategy.DatabaseAssignsID() {
				records = FixtureRecordsWithIDs(t, 250, 1)
			}

			// act
			persisted, err := engine.SaveBatch(ctx, strategy, records)

			// assert
			require.NoError(t, err)
			AssertOrderAndUniqueness(t, records, persisted)

			count, countErr := engine.CountRows(ctx, strategy)
			assert.NoError(t, countErr)
			assert.Equal(t, int64(250), count)

			maxID, maxErr := engine.MaxID(ctx, strategy)
			assert.NoError(t, maxErr)
			assert.Equal(t, int64(250), maxID)
		})
	}
}

func Test_SaveBatch_When_IDAlreadyExists_ShouldCommitNothing(t *testing.T) {
	// setup
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	engine := givenMySQLEngine(t, mysqlengine.WithBatchSize(2))

	// arrange
	records := FixtureRecordsWithIDs(t, 5, 1)
	records[4] = records[4].WithID(1)

	// act
	_, err := engine.SaveBatch(ctx, bulkinsert.ClientGenerated, records)

	// assert
	assert.ErrorIs(t, err, bulkinsert.ErrPersistence)
	assert.ErrorIs(t, err, bulkinsert.ErrDuplicateID)

	count, countErr := engine.CountRows(ctx, bulkinsert.ClientGenerated)
	assert.NoError(t, countErr)
	assert.Equal(t, int64(0), count)
}

func Test_AllocateBlock_HandsOutConsecutiveBlocks(t *testing.T) {
	// setup
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	engine := givenMySQLEngine(t)
	sequence := GivenBlockSequence(t, engine, 100)

	// act
	ids, err := sequence.NextN(ctx, 250)

	// assert
	require.NoError(t, err)
	assert.Equal(t, int64(1), ids[0])
	assert.Equal(t, int64(250), ids[249])
	assert.Equal(t, int64(3), sequence.RoundTrips())
}
