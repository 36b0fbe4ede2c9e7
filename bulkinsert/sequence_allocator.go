package bulkinsert

import (
	"math"
	"sync/atomic"
)

// SequenceAllocator hands out strictly increasing ids without a database round trip.
// It backs the ClientGenerated strategy.
//
// One allocator is created per process and shared by pointer between all callers.
// The zero value is not usable, construct it with NewSequenceAllocator.
type SequenceAllocator struct {
	last atomic.Int64
}

// NewSequenceAllocator creates an allocator whose first id is seed+1.
func NewSequenceAllocator(seed int64) (*SequenceAllocator, error) {
	if seed < 0 {
		return nil, configurationError(ErrInvalidSeed)
	}

	a := &SequenceAllocator{}
	a.last.Store(seed)

	return a, nil
}

// Next returns the next unused id. It is safe for concurrent use,
// no two callers ever receive the same value.
func (a *SequenceAllocator) Next() (int64, error) {
	for {
		current := a.last.Load()
		if current == math.MaxInt64 {
			return 0, ErrAllocationOverflow
		}

		if a.last.CompareAndSwap(current, current+1) {
			return current + 1, nil
		}
	}
}

// AdvanceTo makes sure all later ids are greater than floor.
// It never moves the counter backwards.
func (a *SequenceAllocator) AdvanceTo(floor int64) {
	for {
		current := a.last.Load()
		if current >= floor {
			return
		}

		if a.last.CompareAndSwap(current, floor) {
			return
		}
	}
}

// Last returns the most recently handed out id (or the seed if none was handed out yet).
func (a *SequenceAllocator) Last() int64 {
	return a.last.Load()
}
