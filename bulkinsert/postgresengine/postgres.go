package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect import
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/bulkinsert"
	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/bulkinsert/postgresengine/internal/adapters"
)

const (
	defaultAutoIncrementTableName   = "auto_incremented_id_books"
	defaultDbSequenceTableName      = "sequence_id_books"
	defaultClientGeneratedTableName = "custom_id_books"
	defaultSequenceTableName        = "sequence_table"
	defaultSequenceName             = "book_seq"
	defaultInitialSequenceValue     = int64(1)
	defaultChunkSize                = 1000
	dialectPostgres                 = "postgres"
	colID                           = "id"
	colTitle                        = "title"
	colAuthor                       = "author"
	colPublicationDate              = "publication_date"
	colPrice                        = "price"
	colCreatedDatetime              = "created_datetime"
	colUpdatedDatetime              = "updated_datetime"
	colCreatedBy                    = "created_by"
	colUpdatedBy                    = "updated_by"
	colSequenceName                 = "name"
	colNextVal                      = "next_val"
	pgUniqueViolation               = "23505"
	pgNumericValueOutOfRange        = "22003"
	logMsgBuildQueryFailed          = "failed to build sql query"
	logMsgDBExecFailed              = "database execution failed"
	logMsgRollbackFailed            = "failed to roll back transaction"
	logMsgSQLExecuted               = "executed sql for: "
	logAttrError                    = "error"
	logAttrStrategy                 = "strategy"
	logAttrRecordCount              = "record_count"
	logAttrDurationMS               = "duration_ms"
	logActionInsert                 = "insert"
	logActionAllocateBlock          = "allocate block"
	logActionMaxID                  = "max id"
	logActionCreateSchema           = "create schema"
	logActionTruncate               = "truncate"

	// MetricSQLDuration is the duration of one SQL operation, labeled with the operation and status.
	MetricSQLDuration = "bulkinsert_postgres_sql_duration_seconds"
	labelOperation    = "operation"
)

// Engine persists bulkinsert records in PostgreSQL. It implements bulkinsert.Persister,
// bulkinsert.BlockAllocator and bulkinsert.MaxIDReader.
type Engine struct {
	db                   adapters.DBAdapter
	tableNames           map[bulkinsert.IdentifierStrategy]string
	sequenceTableName    string
	sequenceName         string
	initialSequenceValue int64
	chunkSize            int
	logger               bulkinsert.Logger
	metricsCollector     bulkinsert.MetricsCollector
}

// NewEngineFromPGXPool creates a new Engine using a pgx Pool with optional configuration.
func NewEngineFromPGXPool(db *pgxpool.Pool, options ...Option) (Engine, error) {
	if db == nil {
		return Engine{}, errors.Join(bulkinsert.ErrConfiguration, bulkinsert.ErrNilDatabaseConnection)
	}

	return newEngine(adapters.NewPGXAdapter(db), options...)
}

// NewEngineFromSQLDB creates a new Engine using a sql.DB with optional configuration.
func NewEngineFromSQLDB(db *sql.DB, options ...Option) (Engine, error) {
	if db == nil {
		return Engine{}, errors.Join(bulkinsert.ErrConfiguration, bulkinsert.ErrNilDatabaseConnection)
	}

	return newEngine(adapters.NewSQLAdapter(db), options...)
}

// NewEngineFromSQLX creates a new Engine using a sqlx.DB with optional configuration.
func NewEngineFromSQLX(db *sqlx.DB, options ...Option) (Engine, error) {
	if db == nil {
		return Engine{}, errors.Join(bulkinsert.ErrConfiguration, bulkinsert.ErrNilDatabaseConnection)
	}

	return newEngine(adapters.NewSQLXAdapter(db), options...)
}

func newEngine(db adapters.DBAdapter, options ...Option) (Engine, error) {
	e := Engine{
		db: db,
		tableNames: map[bulkinsert.IdentifierStrategy]string{
			bulkinsert.AutoIncrement:   defaultAutoIncrementTableName,
			bulkinsert.DbSequence:      defaultDbSequenceTableName,
			bulkinsert.ClientGenerated: defaultClientGeneratedTableName,
		},
		sequenceTableName:    defaultSequenceTableName,
		sequenceName:         defaultSequenceName,
		initialSequenceValue: defaultInitialSequenceValue,
		chunkSize:            defaultChunkSize,
	}

	for _, option := range options {
		if err := option(&e); err != nil {
			return Engine{}, errors.Join(bulkinsert.ErrConfiguration, err)
		}
	}

	return e, nil
}

// SaveBatch inserts all records of the batch in one transaction and returns them with their ids.
//
// For AutoIncrement the ids generated by the identity column are read back with RETURNING,
// in the order of the VALUES list. For the other strategies every record must carry its id already.
func (e Engine) SaveBatch(
	ctx context.Context,
	strategy bulkinsert.IdentifierStrategy,
	records bulkinsert.Records,
) (bulkinsert.Records, error) {

	tableName, err := e.tableName(strategy)
	if err != nil {
		return nil, err
	}

	chunks := lo.Chunk(records, e.chunkSize)

	queries, buildErr := e.buildInsertQueries(ctx, tableName, strategy, chunks)
	if buildErr != nil {
		e.logError(logMsgBuildQueryFailed, buildErr)
		return nil, buildErr
	}

	start := time.Now()

	persisted, txErr := e.inTransaction(ctx, func(tx adapters.DBTx) (bulkinsert.Records, error) {
		persisted := make(bulkinsert.Records, 0, len(records))

		for i, query := range queries {
			chunkResult, chunkErr := e.insertChunk(ctx, tx, strategy, query, chunks[i])
			if chunkErr != nil {
				return nil, chunkErr
			}

			persisted = append(persisted, chunkResult...)
		}

		return persisted, nil
	})

	e.observe(logActionInsert, start, txErr, logAttrStrategy, strategy.String(), logAttrRecordCount, len(records))

	if txErr != nil {
		return nil, classifyDBError(txErr)
	}

	return persisted, nil
}

// AllocateBlock reserves size consecutive ids from the table-generator row and returns the first one.
// The row is created with the initial sequence value if it does not exist yet.
func (e Engine) AllocateBlock(ctx context.Context, size int64) (int64, int64, error) {
	if size <= 0 {
		return 0, 0, errors.Join(bulkinsert.ErrConfiguration, bulkinsert.ErrInvalidAllocationSize)
	}

	ensureQuery, updateQuery, buildErr := e.buildAllocateBlockQueries(size)
	if buildErr != nil {
		e.logError(logMsgBuildQueryFailed, buildErr)
		return 0, 0, buildErr
	}

	start := time.Now()

	first, txErr := e.inTransactionInt64(ctx, func(tx adapters.DBTx) (int64, error) {
		if _, err := tx.Exec(ctx, ensureQuery); err != nil {
			return 0, err
		}

		return queryInt64(ctx, tx, updateQuery)
	})

	e.observe(logActionAllocateBlock, start, txErr, logAttrRecordCount, size)

	if txErr != nil {
		return 0, 0, classifyDBError(txErr)
	}

	return first, size, nil
}

// MaxID returns the highest stored id of the strategy's table, 0 if the table is empty.
func (e Engine) MaxID(ctx context.Context, strategy bulkinsert.IdentifierStrategy) (int64, error) {
	tableName, err := e.tableName(strategy)
	if err != nil {
		return 0, err
	}

	query, buildErr := buildMaxIDQuery(tableName)
	if buildErr != nil {
		e.logError(logMsgBuildQueryFailed, buildErr)
		return 0, buildErr
	}

	start := time.Now()
	maxID, queryErr := queryInt64(ctx, e.db, query)
	e.observe(logActionMaxID, start, queryErr, logAttrStrategy, strategy.String())

	if queryErr != nil {
		return 0, classifyDBError(queryErr)
	}

	return maxID, nil
}

// CountRows returns the number of stored rows of the strategy's table.
func (e Engine) CountRows(ctx context.Context, strategy bulkinsert.IdentifierStrategy) (int64, error) {
	tableName, err := e.tableName(strategy)
	if err != nil {
		return 0, err
	}

	query, _, buildErr := goqu.Dialect(dialectPostgres).From(tableName).Select(goqu.COUNT(goqu.Star())).ToSQL()
	if buildErr != nil {
		return 0, errors.Join(bulkinsert.ErrPersistence, bulkinsert.ErrBuildingQueryFailed, buildErr)
	}

	count, queryErr := queryInt64(ctx, e.db, query)
	if queryErr != nil {
		return 0, classifyDBError(queryErr)
	}

	return count, nil
}

// CreateSchema creates the three book tables and the sequence table if they do not exist.
func (e Engine) CreateSchema(ctx context.Context) error {
	start := time.Now()

	var execErr error
	for _, statement := range e.schemaStatements() {
		if _, execErr = e.db.Exec(ctx, statement); execErr != nil {
			break
		}
	}

	e.observe(logActionCreateSchema, start, execErr)

	if execErr != nil {
		return classifyDBError(execErr)
	}

	return nil
}

// TruncateAll removes all rows, restarts the identity column and drops the table-generator rows.
func (e Engine) TruncateAll(ctx context.Context) error {
	truncateQuery, _, err := goqu.Dialect(dialectPostgres).
		Truncate(
			e.tableNames[bulkinsert.AutoIncrement],
			e.tableNames[bulkinsert.DbSequence],
			e.tableNames[bulkinsert.ClientGenerated],
			e.sequenceTableName,
		).
		Identity("RESTART").
		ToSQL()
	if err != nil {
		return errors.Join(bulkinsert.ErrPersistence, bulkinsert.ErrBuildingQueryFailed, err)
	}

	start := time.Now()
	_, execErr := e.db.Exec(ctx, truncateQuery)
	e.observe(logActionTruncate, start, execErr)

	if execErr != nil {
		return classifyDBError(execErr)
	}

	return nil
}

func (e Engine) tableName(strategy bulkinsert.IdentifierStrategy) (string, error) {
	tableName, ok := e.tableNames[strategy]
	if !ok {
		return "", errors.Join(
			bulkinsert.ErrConfiguration,
			fmt.Errorf("%w: %s", bulkinsert.ErrUnknownIdentifierStrategy, strategy),
		)
	}

	return tableName, nil
}

// buildInsertQueries builds one INSERT statement per chunk, concurrently, keeping the chunk order.
func (e Engine) buildInsertQueries(
	ctx context.Context,
	tableName string,
	strategy bulkinsert.IdentifierStrategy,
	chunks []bulkinsert.Records,
) ([]string, error) {

	queries := make([]string, len(chunks))
	group, _ := errgroup.WithContext(ctx)

	for i, chunk := range chunks {
		group.Go(func() error {
			query, err := buildInsertQuery(tableName, strategy, chunk)
			if err != nil {
				return err
			}

			queries[i] = query

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return queries, nil
}

func (e Engine) insertChunk(
	ctx context.Context,
	tx adapters.DBTx,
	strategy bulkinsert.IdentifierStrategy,
	query string,
	chunk bulkinsert.Records,
) (bulkinsert.Records, error) {

	if !strategy.DatabaseAssignsID() {
		result, err := tx.Exec(ctx, query)
		if err != nil {
			return nil, err
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return nil, err
		}

		if rowsAffected != int64(len(chunk)) {
			return nil, errors.Join(
				bulkinsert.ErrInconsistentResult,
				fmt.Errorf("inserted %d rows, expected %d", rowsAffected, len(chunk)),
			)
		}

		persisted := make(bulkinsert.Records, len(chunk))
		copy(persisted, chunk)

		return persisted, nil
	}

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	persisted := make(bulkinsert.Records, 0, len(chunk))
	for rows.Next() {
		if len(persisted) == len(chunk) {
			return nil, errors.Join(bulkinsert.ErrInconsistentResult, errors.New("more generated ids than rows"))
		}

		var id int64
		if scanErr := rows.Scan(&id); scanErr != nil {
			return nil, scanErr
		}

		persisted = append(persisted, chunk[len(persisted)].WithID(id))
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	if len(persisted) != len(chunk) {
		return nil, errors.Join(
			bulkinsert.ErrInconsistentResult,
			fmt.Errorf("got %d generated ids for %d rows", len(persisted), len(chunk)),
		)
	}

	return persisted, nil
}

func (e Engine) inTransaction(
	ctx context.Context,
	work func(tx adapters.DBTx) (bulkinsert.Records, error),
) (bulkinsert.Records, error) {

	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}

	result, workErr := work(tx)
	if workErr != nil {
		e.rollback(tx)
		return nil, workErr
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		e.rollback(tx)
		return nil, commitErr
	}

	return result, nil
}

func (e Engine) inTransactionInt64(ctx context.Context, work func(tx adapters.DBTx) (int64, error)) (int64, error) {
	var value int64

	_, err := e.inTransaction(ctx, func(tx adapters.DBTx) (bulkinsert.Records, error) {
		var workErr error
		value, workErr = work(tx)

		return nil, workErr
	})

	return value, err
}

// rollback uses a fresh context so a canceled caller context does not leave the transaction open.
func (e Engine) rollback(tx adapters.DBTx) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tx.Rollback(ctx); err != nil {
		e.logError(logMsgRollbackFailed, err)
	}
}

func (e Engine) schemaStatements() []string {
	const bookColumns = `
		title VARCHAR(255) NOT NULL,
		author VARCHAR(255) NOT NULL,
		publication_date TIMESTAMPTZ,
		price NUMERIC(20,5),
		created_datetime TIMESTAMPTZ NOT NULL,
		updated_datetime TIMESTAMPTZ NOT NULL,
		created_by BIGINT NOT NULL,
		updated_by BIGINT NOT NULL`

	return []string{
		fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,%s)`,
			pq.QuoteIdentifier(e.tableNames[bulkinsert.AutoIncrement]), bookColumns,
		),
		fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (id BIGINT PRIMARY KEY,%s)`,
			pq.QuoteIdentifier(e.tableNames[bulkinsert.DbSequence]), bookColumns,
		),
		fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (id BIGINT PRIMARY KEY,%s)`,
			pq.QuoteIdentifier(e.tableNames[bulkinsert.ClientGenerated]), bookColumns,
		),
		fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (name VARCHAR(255) PRIMARY KEY, next_val BIGINT NOT NULL)`,
			pq.QuoteIdentifier(e.sequenceTableName),
		),
	}
}

func (e Engine) buildAllocateBlockQueries(size int64) (string, string, error) {
	ensureQuery, _, err := goqu.Dialect(dialectPostgres).
		Insert(e.sequenceTableName).
		Rows(goqu.Record{colSequenceName: e.sequenceName, colNextVal: e.initialSequenceValue}).
		OnConflict(goqu.DoNothing()).
		ToSQL()
	if err != nil {
		return "", "", errors.Join(bulkinsert.ErrPersistence, bulkinsert.ErrBuildingQueryFailed, err)
	}

	updateQuery, _, err := goqu.Dialect(dialectPostgres).
		Update(e.sequenceTableName).
		Set(goqu.Record{colNextVal: goqu.L("? + ?", goqu.C(colNextVal), size)}).
		Where(goqu.C(colSequenceName).Eq(e.sequenceName)).
		Returning(goqu.L("? - ?", goqu.C(colNextVal), size)).
		ToSQL()
	if err != nil {
		return "", "", errors.Join(bulkinsert.ErrPersistence, bulkinsert.ErrBuildingQueryFailed, err)
	}

	return ensureQuery, updateQuery, nil
}

func buildInsertQuery(tableName string, strategy bulkinsert.IdentifierStrategy, chunk bulkinsert.Records) (string, error) {
	rows := make([]any, len(chunk))
	for i, record := range chunk {
		row := goqu.Record{
			colTitle:           record.Title,
			colAuthor:          record.Author,
			colPublicationDate: record.PublicationDate,
			colPrice:           record.Price.String(),
			colCreatedDatetime: record.CreatedAt,
			colUpdatedDatetime: record.UpdatedAt,
			colCreatedBy:       record.CreatedBy,
			colUpdatedBy:       record.UpdatedBy,
		}

		if !strategy.DatabaseAssignsID() {
			if !record.HasID() {
				return "", errors.Join(
					bulkinsert.ErrPersistence,
					bulkinsert.ErrBuildingQueryFailed,
					fmt.Errorf("record %d has no id", i),
				)
			}

			row[colID] = record.IDOrZero()
		}

		rows[i] = row
	}

	insert := goqu.Dialect(dialectPostgres).Insert(tableName).Rows(rows...)
	if strategy.DatabaseAssignsID() {
		insert = insert.Returning(goqu.C(colID))
	}

	query, _, err := insert.ToSQL()
	if err != nil {
		return "", errors.Join(bulkinsert.ErrPersistence, bulkinsert.ErrBuildingQueryFailed, err)
	}

	return query, nil
}

func buildMaxIDQuery(tableName string) (string, error) {
	query, _, err := goqu.Dialect(dialectPostgres).
		From(tableName).
		Select(goqu.COALESCE(goqu.MAX(colID), 0)).
		ToSQL()
	if err != nil {
		return "", errors.Join(bulkinsert.ErrPersistence, bulkinsert.ErrBuildingQueryFailed, err)
	}

	return query, nil
}

func queryInt64(ctx context.Context, db adapters.Querier, query string) (int64, error) {
	rows, err := db.Query(ctx, query)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if rowsErr := rows.Err(); rowsErr != nil {
			return 0, rowsErr
		}

		return 0, sql.ErrNoRows
	}

	var value int64
	if scanErr := rows.Scan(&value); scanErr != nil {
		return 0, scanErr
	}

	return value, rows.Err()
}

// classifyDBError maps driver errors of pgx and lib/pq onto the bulkinsert error sentinels.
func classifyDBError(err error) error {
	if errors.Is(err, bulkinsert.ErrPersistence) || errors.Is(err, bulkinsert.ErrConfiguration) {
		return err
	}

	code := ""

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code = pgErr.Code
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code = string(pqErr.Code)
	}

	switch code {
	case pgUniqueViolation:
		return errors.Join(bulkinsert.ErrPersistence, bulkinsert.ErrDuplicateID, err)
	case pgNumericValueOutOfRange:
		return errors.Join(bulkinsert.ErrAllocationOverflow, err)
	default:
		return errors.Join(bulkinsert.ErrPersistence, err)
	}
}

// observe logs the executed SQL operation and records its duration.
func (e Engine) observe(action string, start time.Time, err error, args ...any) {
	duration := time.Since(start)

	status := bulkinsert.StatusSuccess
	if err != nil {
		status = bulkinsert.StatusError
		e.logError(logMsgDBExecFailed+": "+action, err, args...)
	}

	if e.logger != nil {
		allArgs := append([]any{logAttrDurationMS, toMilliseconds(duration)}, args...)
		e.logger.Debug(logMsgSQLExecuted+action, allArgs...)
	}

	if e.metricsCollector != nil {
		e.metricsCollector.RecordDuration(MetricSQLDuration, duration, map[string]string{
			labelOperation:         action,
			bulkinsert.LabelStatus: status,
		})
	}
}

func (e Engine) logError(msg string, err error, args ...any) {
	if e.logger == nil {
		return
	}

	allArgs := append([]any{logAttrError, err.Error()}, args...)
	e.logger.Error(msg, allArgs...)
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
