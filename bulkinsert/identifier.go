package bulkinsert

import (
	"context"
	"fmt"

	"github.com/samber/lo"
)

// IdentifierAssigner decides per strategy whether and how records get their id before they are persisted.
type IdentifierAssigner struct {
	allocator *SequenceAllocator
	sequence  *BlockSequence
}

// NewIdentifierAssigner creates an IdentifierAssigner.
// Either id source may be nil, in that case the matching strategy fails with ErrMissingSequence.
func NewIdentifierAssigner(allocator *SequenceAllocator, sequence *BlockSequence) IdentifierAssigner {
	return IdentifierAssigner{
		allocator: allocator,
		sequence:  sequence,
	}
}

// Assign validates the batch for the strategy and returns a copy of the records with ids set as the strategy demands:
//   - AutoIncrement: ids stay empty, the database assigns them.
//   - DbSequence: ids come from the BlockSequence.
//   - ClientGenerated: ids come from the SequenceAllocator, unless the whole batch is already pre-assigned.
//     Pre-assigned ids advance the SequenceAllocator past the highest of them.
//
// Validation happens before any id source is touched.
func (a IdentifierAssigner) Assign(ctx context.Context, strategy IdentifierStrategy, records Records) (Records, error) {
	preassigned, err := validateIdentifierStates(strategy, records)
	if err != nil {
		return nil, err
	}

	assigned := make(Records, len(records))
	copy(assigned, records)

	switch strategy {
	case AutoIncrement:
		return assigned, nil

	case DbSequence:
		if a.sequence == nil {
			return nil, configurationError(fmt.Errorf("%w: %s", ErrMissingSequence, strategy))
		}

		ids, nextErr := a.sequence.NextN(ctx, len(assigned))
		if nextErr != nil {
			return nil, nextErr
		}

		for i := range assigned {
			assigned[i] = assigned[i].WithID(ids[i])
		}

		return assigned, nil

	default: // ClientGenerated
		if preassigned {
			if a.allocator != nil {
				a.allocator.AdvanceTo(maxID(assigned))
			}

			return assigned, nil
		}

		if a.allocator == nil {
			return nil, configurationError(fmt.Errorf("%w: %s", ErrMissingSequence, strategy))
		}

		for i := range assigned {
			id, nextErr := a.allocator.Next()
			if nextErr != nil {
				return nil, nextErr
			}

			assigned[i] = assigned[i].WithID(id)
		}

		return assigned, nil
	}
}

// validateIdentifierStates rejects empty batches, unknown strategies, batches mixing records with and without ids,
// and pre-assigned ids for strategies that obtain ids elsewhere.
// It reports whether all records are pre-assigned.
func validateIdentifierStates(strategy IdentifierStrategy, records Records) (bool, error) {
	if !strategy.Valid() {
		return false, configurationError(fmt.Errorf("%w: %s", ErrUnknownIdentifierStrategy, strategy))
	}

	if len(records) == 0 {
		return false, configurationError(ErrEmptyBatch)
	}

	withID := 0
	for _, record := range records {
		if record.HasID() {
			withID++
		}
	}

	switch {
	case withID == 0:
		return false, nil
	case withID != len(records):
		return false, configurationError(
			fmt.Errorf("%w: %d of %d records carry an id", ErrMixedIdentifierStates, withID, len(records)),
		)
	case strategy != ClientGenerated:
		return false, configurationError(fmt.Errorf("%w: %s", ErrPreassignedID, strategy))
	default:
		return true, nil
	}
}

func maxID(records Records) int64 {
	return lo.MaxBy(records, func(a Record, b Record) bool { return a.IDOrZero() > b.IDOrZero() }).IDOrZero()
}
