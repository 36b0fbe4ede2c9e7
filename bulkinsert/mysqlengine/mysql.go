package mysqlengine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql" // dialect import
	"github.com/go-sql-driver/mysql"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/bulkinsert"
)

const (
	// MetricSQLDuration is the duration of one SQL operation, labeled with the operation and status.
	MetricSQLDuration = "bulkinsert_mysql_sql_duration_seconds"
	labelOperation    = "operation"
)

const (
	defaultSequenceName         = "book_seq"
	defaultInitialSequenceValue = int64(1)
	defaultBatchSize            = 1000
	dialectMySQL                = "mysql"
	colID                       = "id"
	colSequenceName             = "name"
	colNextVal                  = "next_val"
	mysqlDuplicateEntry         = 1062
	mysqlOutOfRange             = 1264
	mysqlDataOutOfRange         = 1690
	logMsgDBExecFailed          = "database execution failed"
	logMsgSQLExecuted           = "executed sql for: "
	logAttrError                = "error"
	logAttrStrategy             = "strategy"
	logAttrRecordCount          = "record_count"
	logAttrDurationMS           = "duration_ms"
	logActionInsert             = "insert"
	logActionAllocateBlock      = "allocate block"
	logActionMaxID              = "max id"
	logActionCreateSchema       = "create schema"
	logActionTruncate           = "truncate"
)

// Engine persists bulkinsert records in MySQL through gorm. It implements bulkinsert.Persister,
// bulkinsert.BlockAllocator and bulkinsert.MaxIDReader.
type Engine struct {
	db                   *gorm.DB
	sequenceName         string
	initialSequenceValue int64
	batchSize            int
	logger               bulkinsert.Logger
	metricsCollector     bulkinsert.MetricsCollector
}

// Option defines a functional option for configuring Engine.
type Option func(*Engine) error

// WithSequenceName sets the table-generator row used by AllocateBlock.
func WithSequenceName(name string) Option {
	return func(e *Engine) error {
		if name == "" {
			return bulkinsert.ErrEmptyTableName
		}

		e.sequenceName = name

		return nil
	}
}

// WithInitialSequenceValue sets the first id of the table generator when its row does not exist yet.
func WithInitialSequenceValue(value int64) Option {
	return func(e *Engine) error {
		if value < 1 {
			return bulkinsert.ErrInvalidSeed
		}

		e.initialSequenceValue = value

		return nil
	}
}

// WithBatchSize sets the number of rows gorm puts into one INSERT statement.
func WithBatchSize(size int) Option {
	return func(e *Engine) error {
		if size < 1 {
			return bulkinsert.ErrInvalidRecordCount
		}

		e.batchSize = size

		return nil
	}
}

// WithLogger sets the logger for the Engine.
//
// Debug level: executed operations with timing
// Error level: failed operations.
func WithLogger(logger bulkinsert.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector that receives the duration of every SQL operation as MetricSQLDuration.
func WithMetrics(collector bulkinsert.MetricsCollector) Option {
	return func(e *Engine) error {
		e.metricsCollector = collector
		return nil
	}
}

// NewEngine creates a new Engine on top of an open gorm connection.
func NewEngine(db *gorm.DB, options ...Option) (Engine, error) {
	if db == nil {
		return Engine{}, errors.Join(bulkinsert.ErrConfiguration, bulkinsert.ErrNilDatabaseConnection)
	}

	e := Engine{
		db:                   db,
		sequenceName:         defaultSequenceName,
		initialSequenceValue: defaultInitialSequenceValue,
		batchSize:            defaultBatchSize,
	}

	for _, option := range options {
		if err := option(&e); err != nil {
			return Engine{}, errors.Join(bulkinsert.ErrConfiguration, err)
		}
	}

	return e, nil
}

// SaveBatch inserts all records of the batch in one transaction and returns them with their ids.
func (e Engine) SaveBatch(
	ctx context.Context,
	strategy bulkinsert.IdentifierStrategy,
	records bulkinsert.Records,
) (bulkinsert.Records, error) {

	if !strategy.Valid() {
		return nil, errors.Join(
			bulkinsert.ErrConfiguration,
			fmt.Errorf("%w: %s", bulkinsert.ErrUnknownIdentifierStrategy, strategy),
		)
	}

	if !strategy.DatabaseAssignsID() {
		if _, missing := lo.Find(records, func(r bulkinsert.Record) bool { return !r.HasID() }); missing {
			return nil, errors.Join(bulkinsert.ErrPersistence, errors.New("id must not be null"))
		}
	}

	start := time.Now()
	var persisted bulkinsert.Records

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var insertErr error

		switch strategy {
		case bulkinsert.AutoIncrement:
			persisted, insertErr = insertAutoIncremented(tx, records, e.batchSize)
		case bulkinsert.DbSequence:
			persisted, insertErr = insertWithIDs(tx, records, e.batchSize, func(id int64, c bookColumns) sequenceIDBook {
				return sequenceIDBook{ID: id, bookColumns: c}
			})
		default:
			persisted, insertErr = insertWithIDs(tx, records, e.batchSize, func(id int64, c bookColumns) customIDBook {
				return customIDBook{ID: id, bookColumns: c}
			})
		}

		return insertErr
	})

	e.observe(logActionInsert, start, err, logAttrStrategy, strategy.String(), logAttrRecordCount, len(records))

	if err != nil {
		return nil, classifyDBError(err)
	}

	return persisted, nil
}

// AllocateBlock reserves size consecutive ids from the table-generator row and returns the first one.
func (e Engine) AllocateBlock(ctx context.Context, size int64) (int64, int64, error) {
	if size <= 0 {
		return 0, 0, errors.Join(bulkinsert.ErrConfiguration, bulkinsert.ErrInvalidAllocationSize)
	}

	start := time.Now()
	var first int64

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := sequenceRow{Name: e.sequenceName, NextVal: e.initialSequenceValue}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return err
		}

		var row sequenceRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(colSequenceName+" = ?", e.sequenceName).
			Take(&row).Error; err != nil {
			return err
		}

		if row.NextVal > math.MaxInt64-size {
			return bulkinsert.ErrAllocationOverflow
		}

		first = row.NextVal

		return tx.Model(&sequenceRow{}).
			Where(colSequenceName+" = ?", e.sequenceName).
			Update(colNextVal, row.NextVal+size).Error
	})

	e.observe(logActionAllocateBlock, start, err, logAttrRecordCount, size)

	if err != nil {
		return 0, 0, classifyDBError(err)
	}

	return first, size, nil
}

// MaxID returns the highest stored id of the strategy's table, 0 if the table is empty.
func (e Engine) MaxID(ctx context.Context, strategy bulkinsert.IdentifierStrategy) (int64, error) {
	query, _, buildErr := goqu.Dialect(dialectMySQL).
		From(tableName(strategy)).
		Select(goqu.COALESCE(goqu.MAX(colID), 0)).
		ToSQL()
	if buildErr != nil {
		return 0, errors.Join(bulkinsert.ErrPersistence, bulkinsert.ErrBuildingQueryFailed, buildErr)
	}

	start := time.Now()
	var maxID int64
	err := e.db.WithContext(ctx).Raw(query).Scan(&maxID).Error
	e.observe(logActionMaxID, start, err, logAttrStrategy, strategy.String())

	if err != nil {
		return 0, classifyDBError(err)
	}

	return maxID, nil
}

// CountRows returns the number of stored rows of the strategy's table.
func (e Engine) CountRows(ctx context.Context, strategy bulkinsert.IdentifierStrategy) (int64, error) {
	var count int64
	if err := e.db.WithContext(ctx).Table(tableName(strategy)).Count(&count).Error; err != nil {
		return 0, classifyDBError(err)
	}

	return count, nil
}

// CreateSchema creates or migrates the three book tables and the sequence table.
func (e Engine) CreateSchema(ctx context.Context) error {
	start := time.Now()
	err := e.db.WithContext(ctx).AutoMigrate(&autoIncrementedIDBook{}, &sequenceIDBook{}, &customIDBook{}, &sequenceRow{})
	e.observe(logActionCreateSchema, start, err)

	if err != nil {
		return classifyDBError(err)
	}

	return nil
}

// TruncateAll removes all rows, resets the auto-increment counter and drops the table-generator rows.
func (e Engine) TruncateAll(ctx context.Context) error {
	start := time.Now()

	var err error
	for _, table := range []string{tableAutoIncrementedIDBooks, tableSequenceIDBooks, tableCustomIDBooks, tableSequence} {
		query, _, buildErr := goqu.Dialect(dialectMySQL).Truncate(table).ToSQL()
		if buildErr != nil {
			return errors.Join(bulkinsert.ErrPersistence, bulkinsert.ErrBuildingQueryFailed, buildErr)
		}

		if err = e.db.WithContext(ctx).Exec(query).Error; err != nil {
			break
		}
	}

	e.observe(logActionTruncate, start, err)

	if err != nil {
		return classifyDBError(err)
	}

	return nil
}

func insertAutoIncremented(tx *gorm.DB, records bulkinsert.Records, batchSize int) (bulkinsert.Records, error) {
	rows := lo.Map(records, func(r bulkinsert.Record, _ int) autoIncrementedIDBook {
		return autoIncrementedIDBook{bookColumns: toBookColumns(r)}
	})

	if err := tx.CreateInBatches(&rows, batchSize).Error; err != nil {
		return nil, err
	}

	persisted := make(bulkinsert.Records, len(records))
	for i := range records {
		if rows[i].ID == 0 {
			return nil, errors.Join(bulkinsert.ErrInconsistentResult, fmt.Errorf("record %d got no generated id", i))
		}

		persisted[i] = records[i].WithID(rows[i].ID)
	}

	return persisted, nil
}

func insertWithIDs[T any](
	tx *gorm.DB,
	records bulkinsert.Records,
	batchSize int,
	toRow func(id int64, c bookColumns) T,
) (bulkinsert.Records, error) {

	rows := lo.Map(records, func(r bulkinsert.Record, _ int) T {
		return toRow(r.IDOrZero(), toBookColumns(r))
	})

	result := tx.CreateInBatches(&rows, batchSize)
	if result.Error != nil {
		return nil, result.Error
	}

	if result.RowsAffected != int64(len(records)) {
		return nil, errors.Join(
			bulkinsert.ErrInconsistentResult,
			fmt.Errorf("inserted %d rows, expected %d", result.RowsAffected, len(records)),
		)
	}

	persisted := make(bulkinsert.Records, len(records))
	copy(persisted, records)

	return persisted, nil
}

// classifyDBError maps gorm and MySQL driver errors onto the bulkinsert error sentinels.
func classifyDBError(err error) error {
	switch {
	case errors.Is(err, bulkinsert.ErrAllocationOverflow),
		errors.Is(err, bulkinsert.ErrPersistence),
		errors.Is(err, bulkinsert.ErrConfiguration):
		return err
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return errors.Join(bulkinsert.ErrPersistence, bulkinsert.ErrDuplicateID, err)
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlDuplicateEntry:
			return errors.Join(bulkinsert.ErrPersistence, bulkinsert.ErrDuplicateID, err)
		case mysqlOutOfRange, mysqlDataOutOfRange:
			return errors.Join(bulkinsert.ErrAllocationOverflow, err)
		}
	}

	return errors.Join(bulkinsert.ErrPersistence, err)
}

// observe logs the executed operation and records its duration.
func (e Engine) observe(action string, start time.Time, err error, args ...any) {
	duration := time.Since(start)

	status := bulkinsert.StatusSuccess
	if err != nil {
		status = bulkinsert.StatusError
	}

	if e.metricsCollector != nil {
		e.metricsCollector.RecordDuration(MetricSQLDuration, duration, map[string]string{
			labelOperation:         action,
			bulkinsert.LabelStatus: status,
		})
	}

	if e.logger == nil {
		return
	}

	if err != nil {
		allArgs := append([]any{logAttrError, err.Error()}, args...)
		e.logger.Error(logMsgDBExecFailed+": "+action, allArgs...)
	}

	durationMS := float64(duration.Microseconds()) / 1000
	allArgs := append([]any{logAttrDurationMS, durationMS}, args...)
	e.logger.Debug(logMsgSQLExecuted+action, allArgs...)
}
