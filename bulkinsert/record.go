package bulkinsert

import (
	"fmt"
	"time"

	"github.com/samber/mo"
	"github.com/shopspring/decimal"
)

// DefaultAuditor is the user id stamped on records when the caller has no authenticated user.
const DefaultAuditor int64 = 1

// Records is an alias type for a slice of Record.
type Records = []Record

// AuditStamp carries who created or changed a record and when.
// It is set explicitly by the caller at construction time.
type AuditStamp struct {
	At time.Time
	By int64
}

// Record is one book row submitted to a batch insert.
//
// ID is empty before persistence for the AutoIncrement and DbSequence strategies
// and pre-assigned for ClientGenerated. After a successful batch every Record carries an id.
//
// While its properties are exported, it should only be constructed with BuildRecord.
type Record struct {
	ID              mo.Option[int64]
	Title           string
	Author          string
	PublicationDate time.Time
	Price           decimal.Decimal
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CreatedBy       int64
	UpdatedBy       int64
}

// BuildRecord is a factory method for a transient Record without an id.
//
// Returns an error wrapping ErrInvalidRecord if title or author are empty or the price is negative.
func BuildRecord(
	title string,
	author string,
	publicationDate time.Time,
	price decimal.Decimal,
	stamp AuditStamp,
) (Record, error) {

	switch {
	case title == "":
		return Record{}, configurationError(fmt.Errorf("%w: empty title", ErrInvalidRecord))
	case author == "":
		return Record{}, configurationError(fmt.Errorf("%w: empty author", ErrInvalidRecord))
	case price.IsNegative():
		return Record{}, configurationError(fmt.Errorf("%w: negative price %s", ErrInvalidRecord, price))
	}

	return Record{
		ID:              mo.None[int64](),
		Title:           title,
		Author:          author,
		PublicationDate: publicationDate,
		Price:           price,
		CreatedAt:       stamp.At,
		UpdatedAt:       stamp.At,
		CreatedBy:       stamp.By,
		UpdatedBy:       stamp.By,
	}, nil
}

// WithID returns a copy of the record carrying the given id.
func (r Record) WithID(id int64) Record {
	r.ID = mo.Some(id)
	return r
}

// HasID reports whether an id is assigned.
func (r Record) HasID() bool {
	return r.ID.IsPresent()
}

// IDOrZero returns the id, or 0 if none is assigned.
func (r Record) IDOrZero() int64 {
	return r.ID.OrEmpty()
}
