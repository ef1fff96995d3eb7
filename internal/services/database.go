package services

import (
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dealer_payments_echo/internal/models"
)

// InitDB initializes the database connection with connection pooling
func InitDB(dsn string, log *slog.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// Connection pool settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info("database connection established")
	return db, nil
}

// AutoMigrate creates the tables this service owns. The dealerships table
// belongs to the marketplace and is never migrated from here.
func AutoMigrate(db *gorm.DB, log *slog.Logger) error {
	log.Info("running database migrations")

	if err := db.AutoMigrate(
		&models.PaymentSession{},
		&models.PaymentCallbackHistory{},
	); err != nil {
		return err
	}

	log.Info("database migrations completed")
	return nil
}
