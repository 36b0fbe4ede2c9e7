// Package mysqlengine provides a MySQL implementation of the bulkinsert Persister and BlockAllocator on top of gorm.
//
// Each identifier strategy has its own gorm model and table. Batches are written with
// CreateInBatches inside one gorm transaction; for the AutoIncrement table gorm reads the
// generated ids back from the driver. The DbSequence strategy reserves id blocks from a
// table generator row that is locked with SELECT ... FOR UPDATE while it is advanced.
package mysqlengine
