package bulkinsert

import "context"

// Persister is the backing store of a BatchInsertExecutor.
//
// SaveBatch must commit all records in one transaction or none of them.
// The returned records have the same length and order as the input,
// for AutoIncrement the generated ids must be populated in input order.
// SaveBatch must honor ctx: on cancellation or deadline it must roll back and return promptly,
// otherwise the persist timeout of a BatchInsertExecutor cannot take effect.
type Persister interface {
	SaveBatch(ctx context.Context, strategy IdentifierStrategy, records Records) (Records, error)
}

// BlockAllocator is a server-side monotonic id generator that reserves blocks of ids per round trip.
//
// AllocateBlock reserves count ids starting at first (first, first+1, ..., first+count-1).
// count may differ from size but must be at least 1.
type BlockAllocator interface {
	AllocateBlock(ctx context.Context, size int64) (first int64, count int64, err error)
}

// MaxIDReader reports the highest id currently stored for a strategy.
// Engines implement it so a SequenceAllocator can be seeded above existing rows.
type MaxIDReader interface {
	MaxID(ctx context.Context, strategy IdentifierStrategy) (int64, error)
}
