package mysqlengine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/bulkinsert"
)

const (
	tableAutoIncrementedIDBooks = "auto_incremented_id_books"
	tableSequenceIDBooks        = "sequence_id_books"
	tableCustomIDBooks          = "custom_id_books"
	tableSequence               = "sequence_table"
)

// bookColumns are the columns shared by all book tables.
type bookColumns struct {
	Title           string          `gorm:"column:title;size:255;not null"`
	Author          string          `gorm:"column:author;size:255;not null"`
	PublicationDate time.Time       `gorm:"column:publication_date"`
	Price           decimal.Decimal `gorm:"column:price;type:decimal(20,5)"`
	CreatedDatetime time.Time       `gorm:"column:created_datetime;not null"`
	UpdatedDatetime time.Time       `gorm:"column:updated_datetime;not null"`
	CreatedBy       int64           `gorm:"column:created_by;not null"`
	UpdatedBy       int64           `gorm:"column:updated_by;not null"`
}

type autoIncrementedIDBook struct {
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	bookColumns
}

func (autoIncrementedIDBook) TableName() string { return tableAutoIncrementedIDBooks }

type sequenceIDBook struct {
	ID int64 `gorm:"column:id;primaryKey;autoIncrement:false"`
	bookColumns
}

func (sequenceIDBook) TableName() string { return tableSequenceIDBooks }

type customIDBook struct {
	ID int64 `gorm:"column:id;primaryKey;autoIncrement:false"`
	bookColumns
}

func (customIDBook) TableName() string { return tableCustomIDBooks }

// sequenceRow is one table-generator row: the next id to hand out for a sequence name.
type sequenceRow struct {
	Name    string `gorm:"column:name;primaryKey;size:255"`
	NextVal int64  `gorm:"column:next_val;not null"`
}

func (sequenceRow) TableName() string { return tableSequence }

func toBookColumns(record bulkinsert.Record) bookColumns {
	return bookColumns{
		Title:           record.Title,
		Author:          record.Author,
		PublicationDate: record.PublicationDate,
		Price:           record.Price,
		CreatedDatetime: record.CreatedAt,
		UpdatedDatetime: record.UpdatedAt,
		CreatedBy:       record.CreatedBy,
		UpdatedBy:       record.UpdatedBy,
	}
}

func tableName(strategy bulkinsert.IdentifierStrategy) string {
	switch strategy {
	case bulkinsert.AutoIncrement:
		return tableAutoIncrementedIDBooks
	case bulkinsert.DbSequence:
		return tableSequenceIDBooks
	default:
		return tableCustomIDBooks
	}
}
