// Package helper provides test doubles and fixtures for the bulkinsert packages.
//
// It contains a slog handler that captures log records, a metrics collector spy,
// spies for the Persister and BlockAllocator collaborators, and record fixtures.
package helper
