package bulkinsert

import (
	"fmt"
	"strings"
)

// IdentifierStrategy is the policy by which a Record obtains its primary key.
type IdentifierStrategy int

const (
	// AutoIncrement lets the database assign the id during the insert.
	AutoIncrement IdentifierStrategy = iota + 1

	// DbSequence takes ids from a server-side generator, fetched in blocks.
	DbSequence

	// ClientGenerated takes ids from the process-local SequenceAllocator.
	ClientGenerated
)

const (
	strategyNameAutoIncrement   = "auto-increment"
	strategyNameDbSequence      = "db-sequence"
	strategyNameClientGenerated = "client-generated"
)

// AllIdentifierStrategies returns every supported strategy in a stable order.
func AllIdentifierStrategies() []IdentifierStrategy {
	return []IdentifierStrategy{AutoIncrement, DbSequence, ClientGenerated}
}

// ParseIdentifierStrategy parses the CLI/config name of a strategy.
// Underscores and case are tolerated: "DB_SEQUENCE" parses as DbSequence.
func ParseIdentifierStrategy(name string) (IdentifierStrategy, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")

	switch normalized {
	case strategyNameAutoIncrement, "identity":
		return AutoIncrement, nil
	case strategyNameDbSequence, "sequence", "table":
		return DbSequence, nil
	case strategyNameClientGenerated, "custom", "custom-id":
		return ClientGenerated, nil
	default:
		return 0, configurationError(fmt.Errorf("%w: %q", ErrUnknownIdentifierStrategy, name))
	}
}

// String returns the canonical name of the strategy.
func (s IdentifierStrategy) String() string {
	switch s {
	case AutoIncrement:
		return strategyNameAutoIncrement
	case DbSequence:
		return strategyNameDbSequence
	case ClientGenerated:
		return strategyNameClientGenerated
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Valid reports whether s is one of the supported strategies.
func (s IdentifierStrategy) Valid() bool {
	return s >= AutoIncrement && s <= ClientGenerated
}

// DatabaseAssignsID reports whether the id is only known after the insert.
func (s IdentifierStrategy) DatabaseAssignsID() bool {
	return s == AutoIncrement
}
