// Package memoryengine provides an in-memory implementation of the bulkinsert Persister and BlockAllocator.
//
// It keeps one table per identifier strategy with its own auto-increment counter, and a
// table-generator row per sequence name. Batches are all-or-nothing: a duplicate primary key
// rejects the whole batch. It is used for dry runs of the benchmark CLI and as the store in tests.
package memoryengine
