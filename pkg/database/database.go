package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/writerrose28/ReDerma/internal/model"
	"github.com/writerrose28/ReDerma/pkg/config"
)

// Connect opens the PostgreSQL connection with pool settings from config.
// The handle is returned rather than stored globally; every component that
// touches the database receives it at construction.
func Connect(dbConfig *config.DBConfig) (*gorm.DB, error) {
	// Configure Postgres options
	pgConfig := postgres.Config{
		DSN:                  dbConfig.GetDSN(),
		PreferSimpleProtocol: true, // Disables implicit prepared statement usage
	}

	db, err := gorm.Open(postgres.New(pgConfig), &gorm.Config{
		Logger: logger.Default.LogMode(dbConfig.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database object: %w", err)
	}

	// Set connection pool settings from config
	sqlDB.SetMaxIdleConns(dbConfig.MaxIdleConns)
	sqlDB.SetMaxOpenConns(dbConfig.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	return db, nil
}

// Migrate runs migrations for all application models
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Account{},
		&model.Submission{},
		&model.ConsentRecord{},
		&model.BillingEvent{},
	); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	return nil
}
