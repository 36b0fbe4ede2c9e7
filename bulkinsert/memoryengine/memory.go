package memoryengine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/bulkinsert"
)

const (
	defaultSequenceName       = "book_seq"
	defaultInitialSequenceVal = int64(1)
)

// ErrInjectedFailure is returned by SaveBatch after FailNextSave was called without an explicit error.
var ErrInjectedFailure = errors.New("injected failure")

type table struct {
	rows          map[int64]bulkinsert.Record
	autoIncrement int64
}

// Engine is an in-memory store. The zero value is not usable, construct it with NewEngine.
type Engine struct {
	mu                 sync.Mutex
	tables             map[bulkinsert.IdentifierStrategy]*table
	sequences          map[string]int64
	sequenceName       string
	initialSequenceVal int64
	latency            time.Duration
	failNext           error
	saveBatchCalls     int
	allocateBlockCalls int
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

// WithInitialSequenceValue sets the first id handed out by AllocateBlock.
func WithInitialSequenceValue(value int64) Option {
	return func(e *Engine) error {
		if value < 1 {
			return bulkinsert.ErrInvalidSeed
		}

		e.initialSequenceVal = value

		return nil
	}
}

// WithLatency simulates a network round trip for every SaveBatch and AllocateBlock call.
func WithLatency(latency time.Duration) Option {
	return func(e *Engine) error {
		e.latency = latency
		return nil
	}
}

// NewEngine creates an empty in-memory Engine.
func NewEngine(options ...Option) (*Engine, error) {
	e := &Engine{
		tables:             make(map[bulkinsert.IdentifierStrategy]*table),
		sequences:          make(map[string]int64),
		sequenceName:       defaultSequenceName,
		initialSequenceVal: defaultInitialSequenceVal,
	}

	for _, strategy := range bulkinsert.AllIdentifierStrategies() {
		e.tables[strategy] = &table{rows: make(map[int64]bulkinsert.Record)}
	}

	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// SaveBatch stores all records of the batch or none of them.
func (e *Engine) SaveBatch(
	ctx context.Context,
	strategy bulkinsert.IdentifierStrategy,
	records bulkinsert.Records,
) (bulkinsert.Records, error) {

	if err := e.roundTrip(ctx); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.saveBatchCalls++

	if e.failNext != nil {
		err := e.failNext
		e.failNext = nil

		return nil, errors.Join(bulkinsert.ErrPersistence, err)
	}

	t, ok := e.tables[strategy]
	if !ok {
		return nil, errors.Join(bulkinsert.ErrConfiguration, bulkinsert.ErrUnknownIdentifierStrategy)
	}

	persisted := make(bulkinsert.Records, len(records))
	staged := make(map[int64]struct{}, len(records))
	nextAutoIncrement := t.autoIncrement

	for i, record := range records {
		if strategy.DatabaseAssignsID() {
			if nextAutoIncrement == math.MaxInt64 {
				return nil, bulkinsert.ErrAllocationOverflow
			}

			nextAutoIncrement++
			record = record.WithID(nextAutoIncrement)
		}

		if !record.HasID() {
			return nil, errors.Join(bulkinsert.ErrPersistence, fmt.Errorf("record %d: id must not be null", i))
		}

		id := record.IDOrZero()
		_, stored := t.rows[id]
		_, inBatch := staged[id]

		if stored || inBatch {
			return nil, errors.Join(bulkinsert.ErrPersistence, bulkinsert.ErrDuplicateID, fmt.Errorf("id %d", id))
		}

		staged[id] = struct{}{}
		persisted[i] = record
	}

	for _, record := range persisted {
		t.rows[record.IDOrZero()] = record
	}

	t.autoIncrement = nextAutoIncrement

	result := make(bulkinsert.Records, len(persisted))
	copy(result, persisted)

	return result, nil
}

// AllocateBlock reserves size ids from the table-generator row.
func (e *Engine) AllocateBlock(ctx context.Context, size int64) (int64, int64, error) {
	if size <= 0 {
		return 0, 0, errors.Join(bulkinsert.ErrConfiguration, bulkinsert.ErrInvalidAllocationSize)
	}

	if err := e.roundTrip(ctx); err != nil {
		return 0, 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.allocateBlockCalls++

	first, ok := e.sequences[e.sequenceName]
	if !ok {
		first = e.initialSequenceVal
	}

	if first > math.MaxInt64-size {
		return 0, 0, bulkinsert.ErrAllocationOverflow
	}

	e.sequences[e.sequenceName] = first + size

	return first, size, nil
}

// MaxID returns the highest stored id for the strategy, 0 if the table is empty.
func (e *Engine) MaxID(_ context.Context, strategy bulkinsert.IdentifierStrategy) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tables[strategy]
	if !ok {
		return 0, errors.Join(bulkinsert.ErrConfiguration, bulkinsert.ErrUnknownIdentifierStrategy)
	}

	maxID := int64(0)
	for id := range t.rows {
		if id > maxID {
			maxID = id
		}
	}

	return maxID, nil
}

// Rows returns the stored records of a strategy ordered by id.
func (e *Engine) Rows(strategy bulkinsert.IdentifierStrategy) bulkinsert.Records {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tables[strategy]
	if !ok {
		return nil
	}

	rows := make(bulkinsert.Records, 0, len(t.rows))
	for _, record := range t.rows {
		rows = append(rows, record)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].IDOrZero() < rows[j].IDOrZero() })

	return rows
}

// CreateSchema is a no-op, the in-memory tables exist from the start.
func (e *Engine) CreateSchema(_ context.Context) error {
	return nil
}

// TruncateAll removes all rows and resets auto-increment counters and sequences.
func (e *Engine) TruncateAll(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for strategy := range e.tables {
		e.tables[strategy] = &table{rows: make(map[int64]bulkinsert.Record)}
	}

	e.sequences = make(map[string]int64)

	return nil
}

// FailNextSave makes the next SaveBatch call fail without storing anything.
// A nil err fails with ErrInjectedFailure.
func (e *Engine) FailNextSave(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err == nil {
		err = ErrInjectedFailure
	}

	e.failNext = err
}

// SaveBatchCalls returns how often SaveBatch was called.
func (e *Engine) SaveBatchCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.saveBatchCalls
}

// AllocateBlockCalls returns how often AllocateBlock was called.
func (e *Engine) AllocateBlockCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.allocateBlockCalls
}

// roundTrip waits for the simulated latency, or until ctx is done.
func (e *Engine) roundTrip(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if e.latency <= 0 {
		return nil
	}

	timer := time.NewTimer(e.latency)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
