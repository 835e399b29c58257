// internal/database/seed.go
package database

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/javajoker/datamarket-backend/internal/models"
)

// Demo wallets used by the local seed. Nobody holds their keys.
const (
	SeedCuratorWallet = "0x1111111111111111111111111111111111111111"
	SeedLabWallet     = "0x2222222222222222222222222222222222222222"
)

var seedDatasets = []struct {
	owner       string
	title       string
	description string
	category    string
	tags        []string
	cid         string
	price       string
}{
	{SeedCuratorWallet, "Urban Bird Songs", "Ten thousand labelled bird calls recorded in city parks.", "Audio Processing", []string{"audio", "birds"}, "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi", "12.5"},
	{SeedCuratorWallet, "Street Noise Corpus", "Traffic and construction noise clips with loudness annotations.", "Audio Processing", []string{"audio", "noise"}, "bafybeihdwdcefgh4dqkjv67uzcmw7ojee6xedzdetojuzjevtenxquvyku", "3"},
	{SeedLabWallet, "Retail Receipts OCR", "Scanned receipts with line-item bounding boxes.", "Computer Vision", []string{"ocr", "retail"}, "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG", "20"},
	{SeedLabWallet, "Hourly Energy Load", "Five years of hourly grid load for three regions.", "Time Series", []string{"energy"}, "QmT78zSuBmuS4z925WZfrqQ1qHaJ56DQaTfyMUF7F8ff5o", "8"},
}

// Seed inserts demo wallets and listings when the catalog is empty.
func Seed(db *gorm.DB) error {
	logrus.Info("Seeding initial data...")

	var count int64
	if err := db.Model(&models.Dataset{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count datasets: %w", err)
	}
	if count > 0 {
		logrus.Info("Catalog already populated, skipping seed")
		return nil
	}

	return WithTransaction(db, func(tx *gorm.DB) error {
		owners := map[string]*models.User{}
		for _, wallet := range []string{SeedCuratorWallet, SeedLabWallet} {
			user := models.User{WalletAddress: wallet}
			if err := tx.Where(models.User{WalletAddress: wallet}).FirstOrCreate(&user).Error; err != nil {
				return fmt.Errorf("failed to create seed user %s: %w", wallet, err)
			}
			owners[wallet] = &user
		}

		for _, s := range seedDatasets {
			dataset := models.Dataset{
				OwnerID:     owners[s.owner].ID,
				Title:       s.title,
				Description: s.description,
				Category:    s.category,
				Tags:        datatypes.JSONSlice[string](s.tags),
				ContentURI:  "ipfs://" + s.cid,
				Price:       decimal.RequireFromString(s.price),
				IsActive:    true,
			}
			if err := tx.Create(&dataset).Error; err != nil {
				return fmt.Errorf("failed to create seed dataset %q: %w", s.title, err)
			}
		}

		logrus.WithField("datasets", len(seedDatasets)).Info("Initial data seeding completed")
		return nil
	})
}
