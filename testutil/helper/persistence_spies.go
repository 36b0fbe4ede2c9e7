package helper

import (
	"context"
	"sync"

	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/bulkinsert"
)

// PersisterSpy is a bulkinsert.Persister that records its calls and delegates to an optional inner Persister.
// Without an inner Persister it echoes the records, filling ids from an internal counter for AutoIncrement.
type PersisterSpy struct {
	mu            sync.Mutex
	inner         bulkinsert.Persister
	err           error
	result        func(records bulkinsert.Records) bulkinsert.Records
	calls         int
	received      []bulkinsert.Records
	autoIncrement int64
}

// NewPersisterSpy creates a PersisterSpy that delegates to inner (which may be nil).
func NewPersisterSpy(inner bulkinsert.Persister) *PersisterSpy {
	return &PersisterSpy{inner: inner}
}

// FailWith makes every following SaveBatch call return err.
func (s *PersisterSpy) FailWith(err error) *PersisterSpy {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.err = err

	return s
}

// RewriteResult lets the spy tamper with what SaveBatch returns, to simulate a misbehaving store.
func (s *PersisterSpy) RewriteResult(rewrite func(records bulkinsert.Records) bulkinsert.Records) *PersisterSpy {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.result = rewrite

	return s
}

// SaveBatch implements bulkinsert.Persister.
func (s *PersisterSpy) SaveBatch(
	ctx context.Context,
	strategy bulkinsert.IdentifierStrategy,
	records bulkinsert.Records,
) (bulkinsert.Records, error) {

	s.mu.Lock()
	s.calls++
	received := make(bulkinsert.Records, len(records))
	copy(received, records)
	s.received = append(s.received, received)
	err := s.err
	rewrite := s.result
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}

	persisted, saveErr := s.save(ctx, strategy, records)
	if saveErr != nil {
		return nil, saveErr
	}

	if rewrite != nil {
		persisted = rewrite(persisted)
	}

	return persisted, nil
}

func (s *PersisterSpy) save(
	ctx context.Context,
	strategy bulkinsert.IdentifierStrategy,
	records bulkinsert.Records,
) (bulkinsert.Records, error) {

	if s.inner != nil {
		return s.inner.SaveBatch(ctx, strategy, records)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	persisted := make(bulkinsert.Records, len(records))
	for i, record := range records {
		if !record.HasID() {
			s.autoIncrement++
			record = record.WithID(s.autoIncrement)
		}

		persisted[i] = record
	}

	return persisted, nil
}

// Calls returns how often SaveBatch was called.
func (s *PersisterSpy) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

// Received returns copies of the batches SaveBatch was called with.
func (s *PersisterSpy) Received() []bulkinsert.Records {
	s.mu.Lock()
	defer s.mu.Unlock()

	batches := make([]bulkinsert.Records, len(s.received))
	copy(batches, s.received)

	return batches
}

// BlockAllocatorSpy is a bulkinsert.BlockAllocator that records the requested block sizes.
// Without an inner BlockAllocator it hands out consecutive blocks starting at 1.
type BlockAllocatorSpy struct {
	mu        sync.Mutex
	inner     bulkinsert.BlockAllocator
	next      int64
	sizes     []int64
	nextBlock func(size int64) (int64, int64, error)
}

// NewBlockAllocatorSpy creates a BlockAllocatorSpy that delegates to inner (which may be nil).
func NewBlockAllocatorSpy(inner bulkinsert.BlockAllocator) *BlockAllocatorSpy {
	return &BlockAllocatorSpy{inner: inner, next: 1}
}

// ReturnBlocks replaces the allocation with the given function, e.g. to simulate overlapping or broken blocks.
func (s *BlockAllocatorSpy) ReturnBlocks(nextBlock func(size int64) (int64, int64, error)) *BlockAllocatorSpy {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextBlock = nextBlock

	return s
}

// AllocateBlock implements bulkinsert.BlockAllocator.
func (s *BlockAllocatorSpy) AllocateBlock(ctx context.Context, size int64) (int64, int64, error) {
	s.mu.Lock()
	s.sizes = append(s.sizes, size)
	nextBlock := s.nextBlock
	s.mu.Unlock()

	switch {
	case nextBlock != nil:
		return nextBlock(size)
	case s.inner != nil:
		return s.inner.AllocateBlock(ctx, size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	first := s.next
	s.next += size

	return first, size, nil
}

// RequestedSizes returns the block sizes requested so far, in call order.
func (s *BlockAllocatorSpy) RequestedSizes() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	sizes := make([]int64, len(s.sizes))
	copy(sizes, s.sizes)

	return sizes
}
