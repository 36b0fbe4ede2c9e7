// Package dbconfig provides database connection factories for the bulk insert engines.
//
// It creates PostgreSQL connections for the three supported adapters (pgx.Pool, sql.DB, sqlx.DB)
// and MySQL connections through gorm, all with the same pool settings, plus the DSN defaults
// and environment variables used by the CLI and the integration tests.
package dbconfig
