// internal/testutil/db.go

// Package testutil provides fixtures shared by package tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/javajoker/datamarket-backend/internal/database"
	"github.com/javajoker/datamarket-backend/internal/models"
)

// NewDB opens a private in-memory sqlite database with the schema migrated.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Discard,
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.RunMigrations(db))

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

// CreateUser inserts a user owning wallet.
func CreateUser(t *testing.T, db *gorm.DB, wallet string) *models.User {
	t.Helper()

	user := &models.User{WalletAddress: wallet}
	require.NoError(t, db.Create(user).Error)
	return user
}

// CreateDataset inserts an active dataset owned by owner. Offset shifts
// created_at back from now so fixtures have a stable newest-first order.
func CreateDataset(t *testing.T, db *gorm.DB, owner *models.User, title, price string, offset time.Duration) *models.Dataset {
	t.Helper()

	dataset := &models.Dataset{
		OwnerID:     owner.ID,
		Title:       title,
		Description: title + " dataset",
		Category:    "Other",
		ContentURI:  "ipfs://bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi",
		Price:       decimal.RequireFromString(price),
		IsActive:    true,
	}
	dataset.CreatedAt = time.Now().Add(-offset)
	require.NoError(t, db.Create(dataset).Error)
	dataset.Owner = owner
	return dataset
}

// Deactivate flips is_active off; gorm would replace a false zero value by
// the column default on create.
func Deactivate(t *testing.T, db *gorm.DB, dataset *models.Dataset) {
	t.Helper()

	require.NoError(t, db.Model(dataset).Update("is_active", false).Error)
	dataset.IsActive = false
}
