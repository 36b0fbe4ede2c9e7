package adapters

import "context"

// Querier runs plain SQL strings, either directly on the pool or inside a transaction.
type Querier interface {
	Query(ctx context.Context, query string) (DBRows, error)
	Exec(ctx context.Context, query string) (DBResult, error)
}

// DBAdapter defines the interface for database operations needed by the engine.
type DBAdapter interface {
	Querier
	BeginTx(ctx context.Context) (DBTx, error)
}

// DBTx is an open transaction. Rollback after Commit is a no-op.
type DBTx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DBRows defines the interface for query result rows.
type DBRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// DBResult defines the interface for execution results.
type DBResult interface {
	RowsAffected() (int64, error)
}
