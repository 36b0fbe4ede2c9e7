// Package bulkinsert compares identifier-generation strategies for bulk-inserting rows.
//
// It defines the three strategies, the id sources behind them, a batch executor that persists
// a whole batch as one transactional unit, and a benchmark runner that measures the elapsed
// wall-clock time per strategy. Storage is pluggable through the Persister and BlockAllocator
// interfaces, implemented by the memoryengine, postgresengine and mysqlengine packages.
//
// Identifier strategies:
//   - AutoIncrement: the database assigns the id during the insert
//   - DbSequence: ids come from a server-side generator in blocks (BlockSequence)
//   - ClientGenerated: ids come from a process-local counter (SequenceAllocator)
//
// Common usage pattern:
//
//	allocator, _ := bulkinsert.NewSequenceAllocator(0)
//	sequence, _ := bulkinsert.NewBlockSequence(engine, bulkinsert.DefaultAllocationSize)
//
//	executor, _ := bulkinsert.NewBatchInsertExecutor(
//		engine,
//		bulkinsert.WithSequenceAllocator(allocator),
//		bulkinsert.WithBlockSequence(sequence),
//		bulkinsert.WithPersistTimeout(30*time.Second),
//	)
//
//	runner, _ := bulkinsert.NewBenchmarkRunner(executor)
//	result, err := runner.Run(ctx, 10000, bulkinsert.ClientGenerated)
//	if err != nil {
//		// errors.Is(err, bulkinsert.ErrConfiguration) -> rejected before any I/O
//		// errors.Is(err, bulkinsert.ErrPersistence)   -> nothing committed, retry the whole batch
//	}
package bulkinsert
