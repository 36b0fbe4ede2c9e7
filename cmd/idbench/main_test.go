package main

import (
	"bytes"
	"context"
	"io"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/bulkinsert"
)

func givenMemoryConfig(t *testing.T, args ...string) Config {
	t.Helper()

	cfg, err := parseConfig(append([]string{"-engine", "memory"}, args...), envFrom(nil), io.Discard)
	require.NoError(t, err)

	return cfg
}

func Test_Run_WithMemoryEngine_ReportsEveryStrategy(t *testing.T) {
	// arrange
	cfg := givenMemoryConfig(t, "-count", "250", "-output", "json", "-create-schema", "-truncate")
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}

	// act
	err := run(context.Background(), cfg, stdout, stderr)

	// assert
	require.NoError(t, err)

	var decoded report
	require.NoError(t, jsoniter.Unmarshal(stdout.Bytes(), &decoded))
	require.Len(t, decoded.Results, 3)
	assert.Empty(t, decoded.Errors)

	for i, strategy := range bulkinsert.AllIdentifierStrategies() {
		assert.Equal(t, strategy.String(), decoded.Results[i].Strategy)
		assert.Equal(t, 250, decoded.Results[i].Count)
		assert.Equal(t, decoded.Results[i].FirstID+249, decoded.Results[i].LastID)
	}

	assert.Contains(t, stderr.String(), "bulkinsert operation: benchmark finished")
}

func Test_Run_WithMetrics_ShouldAppendPrometheusOutput(t *testing.T) {
	// arrange
	cfg := givenMemoryConfig(t, "-count", "10", "-strategy", "client-generated", "-metrics")
	stdout := &bytes.Buffer{}

	// act
	err := run(context.Background(), cfg, stdout, io.Discard)

	// assert
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "client-generated")
	assert.Contains(t, stdout.String(), bulkinsert.MetricBenchmarkDuration)
	assert.Contains(t, stdout.String(), bulkinsert.MetricBatchDuration)
}

func Test_Run_When_ContextIsCanceled_ShouldReportTheFailure(t *testing.T) {
	// arrange
	cfg := givenMemoryConfig(t, "-count", "10", "-output", "json")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stdout := &bytes.Buffer{}

	// act
	err := run(ctx, cfg, stdout, io.Discard)

	// assert
	require.Error(t, err)

	var decoded report
	require.NoError(t, jsoniter.Unmarshal(stdout.Bytes(), &decoded))
	assert.Empty(t, decoded.Results)
	assert.NotEmpty(t, decoded.Errors)
}
