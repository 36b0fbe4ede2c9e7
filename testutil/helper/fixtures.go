package helper

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/bulkinsert"
)

// FixedClock returns a clock that always returns the same, second-precise UTC time.
func FixedClock() func() time.Time {
	now := time.Date(2024, 3, 14, 9, 26, 53, 0, time.UTC)

	return func() time.Time { return now }
}

// FixtureRecord builds the i-th (zero-based) fixture record: title "Book #i+1", price i+1.
func FixtureRecord(t testing.TB, i int) bulkinsert.Record {
	now := FixedClock()()

	record, err := bulkinsert.BuildRecord(
		fmt.Sprintf("Book #%d", i+1),
		"Test Author",
		now.AddDate(0, 0, -i),
		decimal.NewFromInt(int64(i+1)),
		bulkinsert.AuditStamp{At: now, By: bulkinsert.DefaultAuditor},
	)
	require.NoError(t, err)

	return record
}

// FixtureRecords builds n fixture records without ids.
func FixtureRecords(t testing.TB, n int) bulkinsert.Records {
	records := make(bulkinsert.Records, n)
	for i := range records {
		records[i] = FixtureRecord(t, i)
	}

	return records
}

// FixtureRecordsWithIDs builds n fixture records carrying the ids firstID, firstID+1, ...
func FixtureRecordsWithIDs(t testing.TB, n int, firstID int64) bulkinsert.Records {
	records := FixtureRecords(t, n)
	for i := range records {
		records[i] = records[i].WithID(firstID + int64(i))
	}

	return records
}

// GivenAllocator creates a SequenceAllocator starting after seed.
func GivenAllocator(t testing.TB, seed int64) *bulkinsert.SequenceAllocator {
	allocator, err := bulkinsert.NewSequenceAllocator(seed)
	require.NoError(t, err)

	return allocator
}

// GivenBlockSequence creates a BlockSequence on top of the allocator.
func GivenBlockSequence(t testing.TB, allocator bulkinsert.BlockAllocator, size int64) *bulkinsert.BlockSequence {
	sequence, err := bulkinsert.NewBlockSequence(allocator, size)
	require.NoError(t, err)

	return sequence
}

// GivenPersistedBatch persists records through the Persister and fails the test on error.
func GivenPersistedBatch(
	ctx context.Context,
	t testing.TB,
	persister bulkinsert.Persister,
	strategy bulkinsert.IdentifierStrategy,
	records bulkinsert.Records,
) bulkinsert.Records {

	persisted, err := persister.SaveBatch(ctx, strategy, records)
	require.NoError(t, err, "error in arranging test data")

	return persisted
}

// AssertOrderAndUniqueness asserts that persisted mirrors submitted in order and that every id is set and unique.
func AssertOrderAndUniqueness(t testing.TB, submitted, persisted bulkinsert.Records) {
	t.Helper()

	require.Len(t, persisted, len(submitted))

	seen := make(map[int64]struct{}, len(persisted))
	for i := range persisted {
		assert.True(t, persisted[i].HasID(), "record %d has no id", i)
		assert.Equal(t, submitted[i].Title, persisted[i].Title, "record %d out of order", i)
		assert.True(t, submitted[i].Price.Equal(persisted[i].Price), "record %d price differs", i)

		_, duplicate := seen[persisted[i].IDOrZero()]
		assert.False(t, duplicate, "id %d handed out twice", persisted[i].IDOrZero())
		seen[persisted[i].IDOrZero()] = struct{}{}
	}
}
