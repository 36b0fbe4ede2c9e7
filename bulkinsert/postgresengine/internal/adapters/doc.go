// Package adapters provide database adapter implementations for the PostgreSQL bulk insert engine.
//
// This package implements the adapter pattern to support multiple PostgreSQL database libraries:
// pgx.Pool, sql.DB, and sqlx.DB. All adapters provide the same functionality through
// a common DBAdapter interface, including transactions, so the engine can commit a whole
// batch atomically with any supported connection type.
package adapters
