package bulkinsert

import (
	"errors"
)

// ErrConfiguration is the root of all errors that are raised before any I/O happens.
var ErrConfiguration = errors.New("configuration error")

var (
	ErrMixedIdentifierStates     = errors.New("batch mixes records with and without pre-assigned ids")
	ErrPreassignedID             = errors.New("identifier strategy does not accept pre-assigned ids")
	ErrInvalidRecordCount        = errors.New("record count must be positive")
	ErrEmptyBatch                = errors.New("batch must contain at least one record")
	ErrUnknownIdentifierStrategy = errors.New("unknown identifier strategy")
	ErrInvalidAllocationSize     = errors.New("allocation size must be positive")
	ErrInvalidSeed               = errors.New("sequence seed must not be negative")
	ErrMissingSequence           = errors.New("no id source configured for identifier strategy")
	ErrInvalidRecord             = errors.New("record is not valid")
	ErrNilPersister              = errors.New("persister must not be nil")
	ErrNilExecutor               = errors.New("batch insert executor must not be nil")
	ErrNilBlockAllocator         = errors.New("block allocator must not be nil")
	ErrInvalidTimeout            = errors.New("persist timeout must not be negative")
	ErrNilDatabaseConnection     = errors.New("database connection must not be nil")
	ErrEmptyTableName            = errors.New("empty table name supplied")
)

// ErrPersistence is the root of all errors raised by the backing store.
// The whole batch must be treated as not committed.
var ErrPersistence = errors.New("persistence error")

var (
	ErrPersistenceTimeout  = errors.New("persisting the batch exceeded its deadline")
	ErrDuplicateID         = errors.New("duplicate primary key")
	// ErrInconsistentResult without ErrPersistence: the batch was committed but the result breaks the Persister contract.
	ErrInconsistentResult  = errors.New("persisted records do not match the submitted batch")
	ErrBuildingQueryFailed = errors.New("building the sql query failed")
	ErrBlockAllocation     = errors.New("allocating an id block failed")
)

// ErrAllocationOverflow is fatal: the representable id range is exhausted. It must not be retried.
var ErrAllocationOverflow = errors.New("id allocation overflow")

// configurationError joins the specific cause with ErrConfiguration so callers can match on either.
func configurationError(cause error) error {
	return errors.Join(ErrConfiguration, cause)
}

// persistenceError joins the given causes with ErrPersistence unless they already carry it.
func persistenceError(causes ...error) error {
	joined := errors.Join(causes...)
	if errors.Is(joined, ErrPersistence) {
		return joined
	}

	return errors.Join(ErrPersistence, joined)
}

// inconsistentResult reports a committed batch whose result breaks the Persister contract.
// Unlike persistenceError it does not add ErrPersistence, the rows may already exist.
func inconsistentResult(cause error) error {
	return errors.Join(ErrInconsistentResult, cause)
}
