// Package postgresengine provides a PostgreSQL implementation of the bulkinsert Persister and BlockAllocator.
//
// The Engine works with pgx.Pool, sql.DB (lib/pq), or sqlx.DB through a common adapter layer.
// Batches are written with multi-row INSERT statements built by goqu, one statement per chunk,
// all chunks of a batch inside one transaction. The AutoIncrement table uses an identity column
// and reads the generated ids back with RETURNING; the DbSequence strategy reserves id blocks
// from a table generator (one row per sequence name in the sequence table).
//
// Tables (names are configurable with WithTableNames and WithSequenceTableName):
//
//	auto_incremented_id_books  AutoIncrement
//	sequence_id_books          DbSequence
//	custom_id_books            ClientGenerated
//	sequence_table             table generator (name, next_val)
package postgresengine
