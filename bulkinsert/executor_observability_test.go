package bulkinsert_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/bulkinsert"
	. "github.com/AntonStoeckl/idstrategy-bulkinsert-go/testutil/helper" //nolint:revive
)

func Test_Observability_Execute_WithLogger_LogsPersistedBatch(t *testing.T) {
	// setup
	testHandler := NewLogHandlerSpy(false)
	f := givenExecutor(t, nil, bulkinsert.WithLogger(slog.New(testHandler)))

	// act
	_, err := f.executor.Execute(context.Background(), bulkinsert.ClientGenerated, FixtureRecords(t, 10))

	// assert
	require.NoError(t, err)
	assert.Equal(t, 1, testHandler.GetRecordCount())
	assert.True(t,
		testHandler.HasInfoLogWithMessage("bulkinsert operation: batch persisted").
			WithDurationMS().
			WithRecordCount().
			WithAttr("strategy", "client-generated").
			Assert(), "should log the persisted batch with duration, record count and strategy",
	)
}

func Test_Observability_Execute_WithLogger_LogsRejectedBatchAsWarning(t *testing.T) {
	// setup
	testHandler := NewLogHandlerSpy(false)
	f := givenExecutor(t, nil, bulkinsert.WithLogger(slog.New(testHandler)))

	// act
	_, err := f.executor.Execute(context.Background(), bulkinsert.AutoIncrement, FixtureRecordsWithIDs(t, 2, 1))

	// assert
	assert.ErrorIs(t, err, bulkinsert.ErrConfiguration)
	assert.True(t,
		testHandler.HasWarnLogWithMessage("bulkinsert operation: batch rejected").
			WithRecordCount().
			WithAttr("strategy", "auto-increment").
			Assert(), "should log the rejected batch as a warning",
	)
	assert.False(t, testHandler.HasErrorLogWithMessage("bulkinsert operation: batch failed").Assert())
}

func Test_Observability_Execute_WithContextualLogger_LogsFailedBatchAsError(t *testing.T) {
	// setup
	testHandler := NewLogHandlerSpy(false)
	f := givenExecutor(t, nil, bulkinsert.WithContextualLogger(slog.New(testHandler)))

	// arrange
	f.engine.FailNextSave(nil)

	// act
	_, err := f.executor.Execute(context.Background(), bulkinsert.DbSequence, FixtureRecords(t, 10))

	// assert
	assert.ErrorIs(t, err, bulkinsert.ErrPersistence)
	assert.True(t,
		testHandler.HasErrorLogWithMessage("bulkinsert operation: batch failed").
			WithAttr("error_type", bulkinsert.ErrorTypePersistence).
			WithAttr("strategy", "db-sequence").
			WithRecordCount().
			Assert(), "should log the failed batch as an error with its classification",
	)
}

func Test_Observability_Execute_WithMetrics_RecordsSuccess(t *testing.T) {
	// setup
	metricsSpy := NewMetricsCollectorSpy()
	f := givenExecutor(t, nil, bulkinsert.WithMetrics(metricsSpy))

	// act
	_, err := f.executor.Execute(context.Background(), bulkinsert.AutoIncrement, FixtureRecords(t, 25))

	// assert
	require.NoError(t, err)
	assert.True(t, metricsSpy.HasDurationRecord(bulkinsert.MetricBatchDuration, map[string]string{
		bulkinsert.LabelStrategy: "auto-increment",
		bulkinsert.LabelStatus:   bulkinsert.StatusSuccess,
	}))

	valueRecords := metricsSpy.GetValueRecords()
	require.Len(t, valueRecords, 1)
	assert.Equal(t, bulkinsert.MetricRecordsPersisted, valueRecords[0].Metric)
	assert.InDelta(t, 25.0, valueRecords[0].Value, 0.0001)
	assert.Empty(t, metricsSpy.GetCounterRecords())
}

func Test_Observability_Execute_WithMetrics_RecordsErrorsByType(t *testing.T) {
	// setup
	metricsSpy := NewMetricsCollectorSpy()
	f := givenExecutor(t, nil, bulkinsert.WithMetrics(metricsSpy))

	// arrange
	GivenPersistedBatch(context.Background(), t, f.engine, bulkinsert.ClientGenerated, FixtureRecordsWithIDs(t, 1, 1))

	// act
	_, err := f.executor.Execute(context.Background(), bulkinsert.ClientGenerated, FixtureRecordsWithIDs(t, 1, 1))

	// assert
	assert.ErrorIs(t, err, bulkinsert.ErrDuplicateID)
	assert.True(t, metricsSpy.HasCounterRecord(bulkinsert.MetricBatchErrors, map[string]string{
		bulkinsert.LabelStrategy:  "client-generated",
		bulkinsert.LabelStatus:    bulkinsert.StatusError,
		bulkinsert.LabelErrorType: bulkinsert.ErrorTypeDuplicateID,
	}))
	assert.True(t, metricsSpy.HasDurationRecord(bulkinsert.MetricBatchDuration, map[string]string{
		bulkinsert.LabelStatus: bulkinsert.StatusError,
	}))
}

func Test_ClassifyError(t *testing.T) {
	f := givenExecutor(t, nil)

	_, configErr := f.executor.Execute(context.Background(), bulkinsert.AutoIncrement, bulkinsert.Records{})

	assert.Equal(t, bulkinsert.ErrorTypeConfiguration, bulkinsert.ClassifyError(configErr))
	assert.Equal(t, bulkinsert.ErrorTypeOverflow, bulkinsert.ClassifyError(bulkinsert.ErrAllocationOverflow))
	assert.Equal(t, bulkinsert.ErrorTypeTimeout, bulkinsert.ClassifyError(bulkinsert.ErrPersistenceTimeout))
	assert.Equal(t, bulkinsert.ErrorTypeDuplicateID, bulkinsert.ClassifyError(bulkinsert.ErrDuplicateID))
	assert.Equal(t, bulkinsert.ErrorTypeInconsistent, bulkinsert.ClassifyError(bulkinsert.ErrInconsistentResult))
	assert.Equal(t, bulkinsert.ErrorTypePersistence, bulkinsert.ClassifyError(bulkinsert.ErrPersistence))
}
