// Package testutil holds helpers shared by package tests
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dealer_payments_echo/internal/models"
)

// NewTestDB opens a private in-memory SQLite database with every table
// migrated, including the externally owned dealerships table.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single connection keeps the shared in-memory database alive and
	// serializes writers the way row locks would.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Dealership{},
		&models.PaymentSession{},
		&models.PaymentCallbackHistory{},
	))

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}

// CreateDealership inserts a dealership whose subscription ends at endDate
func CreateDealership(t *testing.T, db *gorm.DB, endDate *time.Time) *models.Dealership {
	t.Helper()

	d := &models.Dealership{
		Name:                "Test Motors",
		SubscriptionEndDate: endDate,
		SubscriptionStatus:  models.SubscriptionStatusInactive,
	}
	require.NoError(t, db.Create(d).Error)
	return d
}

// ReloadDealership reads the dealership back from the database
func ReloadDealership(t *testing.T, db *gorm.DB, id uint) *models.Dealership {
	t.Helper()

	var d models.Dealership
	require.NoError(t, db.First(&d, id).Error)
	return &d
}

// CountSessions returns the number of payment session rows
func CountSessions(t *testing.T, db *gorm.DB) int64 {
	t.Helper()

	var n int64
	require.NoError(t, db.Model(&models.PaymentSession{}).Count(&n).Error)
	return n
}
