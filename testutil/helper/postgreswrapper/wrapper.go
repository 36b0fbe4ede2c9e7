// Package postgreswrapper creates postgresengine.Engine instances for integration tests,
// with the adapter selected by the DB_ADAPTER environment variable.
package postgreswrapper

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/bulkinsert/postgresengine"
	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/internal/dbconfig"
)

// Adapter type constants
const (
	typePGXPool = "pgx"
	typeSQLDB   = "sql"
	typeSQLX    = "sqlx"
)

// Wrapper interface to abstract over different adapter types
type Wrapper interface {
	GetEngine() postgresengine.Engine
	Close()
}

// PGXPoolWrapper wraps pgxpool-based testing
type PGXPoolWrapper struct {
	pool   *pgxpool.Pool
	engine postgresengine.Engine
}

func (w *PGXPoolWrapper) GetEngine() postgresengine.Engine {
	return w.engine
}

func (w *PGXPoolWrapper) Close() {
	w.pool.Close()
}

// SQLDBWrapper wraps sql.DB-based testing
type SQLDBWrapper struct {
	db     *sql.DB
	engine postgresengine.Engine
}

func (w *SQLDBWrapper) GetEngine() postgresengine.Engine {
	return w.engine
}

func (w *SQLDBWrapper) Close() {
	_ = w.db.Close() // ignore error
}

// SQLXWrapper wraps sqlx.DB-based testing
type SQLXWrapper struct {
	db     *sqlx.DB
	engine postgresengine.Engine
}

func (w *SQLXWrapper) GetEngine() postgresengine.Engine {
	return w.engine
}

func (w *SQLXWrapper) Close() {
	_ = w.db.Close() // ignore error
}

// CreateWrapperWithTestConfig connects to the database named by BULKINSERT_PG_DSN and creates the schema.
// The test is skipped if the variable is not set.
func CreateWrapperWithTestConfig(t testing.TB, options ...postgresengine.Option) Wrapper {
	dsn := os.Getenv(dbconfig.EnvPostgresDSN)
	if dsn == "" {
		t.Skipf("%s is not set, skipping PostgreSQL integration test", dbconfig.EnvPostgresDSN)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wrapper Wrapper
	adapterTypeFromEnv := strings.ToLower(os.Getenv("DB_ADAPTER"))

	switch adapterTypeFromEnv {
	case typePGXPool, "":
		pool, err := dbconfig.PostgresPGXPool(ctx, dsn)
		require.NoError(t, err, "error connecting to DB pool in test setup")
		engine, err := postgresengine.NewEngineFromPGXPool(pool, options...)
		require.NoError(t, err)
		wrapper = &PGXPoolWrapper{pool: pool, engine: engine}

	case typeSQLDB:
		db, err := dbconfig.PostgresSQLDB(ctx, dsn)
		require.NoError(t, err, "error connecting to DB in test setup")
		engine, err := postgresengine.NewEngineFromSQLDB(db, options...)
		require.NoError(t, err)
		wrapper = &SQLDBWrapper{db: db, engine: engine}

	case typeSQLX:
		db, err := dbconfig.PostgresSQLX(ctx, dsn)
		require.NoError(t, err, "error connecting to DB in test setup")
		engine, err := postgresengine.NewEngineFromSQLX(db, options...)
		require.NoError(t, err)
		wrapper = &SQLXWrapper{db: db, engine: engine}

	default: // neither one of the known types nor empty
		panic(fmt.Sprintf("unsupported adapter type from env: %s", adapterTypeFromEnv))
	}

	require.NoError(t, wrapper.GetEngine().CreateSchema(ctx), "error creating the schema")

	return wrapper
}

// CleanUp truncates all tables of the engine behind the wrapper.
func CleanUp(t testing.TB, wrapper Wrapper) {
	err := wrapper.GetEngine().TruncateAll(context.Background())
	require.NoError(t, err, "error cleaning up the tables")
}
