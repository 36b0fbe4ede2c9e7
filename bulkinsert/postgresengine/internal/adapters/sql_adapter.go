package adapters

import (
	"context"
	"database/sql"
)

// SQLAdapter implements DBAdapter for sql.DB.
type SQLAdapter struct {
	db *sql.DB
}

// NewSQLAdapter creates a new SQL adapter.
func NewSQLAdapter(db *sql.DB) *SQLAdapter {
	return &SQLAdapter{db: db}
}

// Query executes a query using the sql.DB and returns wrapped rows.
func (s *SQLAdapter) Query(ctx context.Context, query string) (DBRows, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdRows{rows: rows}, nil
}

// Exec executes a query using the sql.DB and returns wrapped result.
func (s *SQLAdapter) Exec(ctx context.Context, query string) (DBResult, error) {
	result, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdResult{result: result}, nil
}

// BeginTx starts a transaction with the default isolation level.
func (s *SQLAdapter) BeginTx(ctx context.Context) (DBTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &stdTx{tx: tx}, nil
}
