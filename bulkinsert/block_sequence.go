package bulkinsert

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
)

// DefaultAllocationSize is the number of ids reserved per round trip to the BlockAllocator.
const DefaultAllocationSize int64 = 100

// BlockSequence serves DbSequence ids from a locally cached block and only asks
// the BlockAllocator for a new block when the current one is exhausted.
type BlockSequence struct {
	mu             sync.Mutex
	allocator      BlockAllocator
	allocationSize int64
	next           int64
	remaining      int64
	highWater      int64
	roundTrips     int64
}

// NewBlockSequence creates a BlockSequence reserving allocationSize ids per round trip.
func NewBlockSequence(allocator BlockAllocator, allocationSize int64) (*BlockSequence, error) {
	if allocator == nil {
		return nil, configurationError(ErrNilBlockAllocator)
	}

	if allocationSize <= 0 {
		return nil, configurationError(ErrInvalidAllocationSize)
	}

	return &BlockSequence{
		allocator:      allocator,
		allocationSize: allocationSize,
	}, nil
}

// Next returns one id, fetching a full block if the local one is exhausted.
func (s *BlockSequence) Next(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.take(ctx, 1, true)
	if err != nil {
		return 0, err
	}

	return ids[0], nil
}

// NextN returns n ids in increasing order.
//
// Ids left in the local block are used first. New blocks are allocationSize long,
// except for the last one, which only covers what is still missing.
// So 250 ids with an allocation size of 100 cost exactly 3 round trips (100+100+50).
func (s *BlockSequence) NextN(ctx context.Context, n int) ([]int64, error) {
	if n <= 0 {
		return nil, configurationError(ErrInvalidRecordCount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.take(ctx, n, false)
}

// RoundTrips returns how many blocks were fetched so far.
func (s *BlockSequence) RoundTrips() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.roundTrips
}

// AllocationSize returns the configured block size.
func (s *BlockSequence) AllocationSize() int64 {
	return s.allocationSize
}

// take must be called with s.mu held.
func (s *BlockSequence) take(ctx context.Context, n int, fullBlocks bool) ([]int64, error) {
	ids := make([]int64, 0, n)

	for len(ids) < n {
		if s.remaining == 0 {
			size := s.allocationSize
			if missing := int64(n - len(ids)); !fullBlocks && missing < size {
				size = missing
			}

			if err := s.fetch(ctx, size); err != nil {
				return nil, err
			}
		}

		ids = append(ids, s.next)
		s.highWater = s.next
		s.remaining--

		if s.remaining > 0 {
			s.next++
		}
	}

	return ids, nil
}

// fetch must be called with s.mu held.
func (s *BlockSequence) fetch(ctx context.Context, size int64) error {
	first, count, err := s.allocator.AllocateBlock(ctx, size)
	s.roundTrips++

	if err != nil {
		if errors.Is(err, ErrAllocationOverflow) {
			return err
		}

		return persistenceError(ErrBlockAllocation, err)
	}

	switch {
	case count < 1 || first < 1:
		return persistenceError(ErrBlockAllocation, fmt.Errorf("invalid block [first=%d, count=%d]", first, count))
	case first > math.MaxInt64-(count-1):
		return ErrAllocationOverflow
	case first <= s.highWater:
		return persistenceError(
			ErrBlockAllocation,
			fmt.Errorf("block starting at %d overlaps ids already handed out (up to %d)", first, s.highWater),
		)
	}

	s.next = first
	s.remaining = count

	return nil
}
