package dbconfig

import (
	"context"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MySQLGorm opens a gorm connection to MySQL with the shared pool settings.
// Gorm's SQL logging is silent unless verbose is set.
func MySQLGorm(ctx context.Context, dsn string, verbose bool) (*gorm.DB, error) {
	logLevel := logger.Silent
	if verbose {
		logLevel = logger.Info
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logLevel),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	configurePool(sqlDB)

	if pingErr := sqlDB.PingContext(ctx); pingErr != nil {
		_ = sqlDB.Close()
		return nil, pingErr
	}

	return db, nil
}
