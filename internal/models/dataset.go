// internal/models/dataset.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Dataset struct {
	BaseModel
	OwnerID          uuid.UUID                   `json:"owner_id" gorm:"type:uuid;not null;index"`
	Title            string                      `json:"title" gorm:"size:255;not null"`
	Description      string                      `json:"description" gorm:"type:text"`
	Category         string                      `json:"category" gorm:"size:100;index"`
	Tags             datatypes.JSONSlice[string] `json:"tags"`
	ContentURI       string                      `json:"content_uri" gorm:"size:255;not null"`
	Price            decimal.Decimal             `json:"price" gorm:"type:decimal(20,8);not null"`
	IsActive         bool                        `json:"is_active" gorm:"default:true;index"`
	Downloads        int64                       `json:"downloads" gorm:"default:0"`
	ReviewCount      int64                       `json:"review_count" gorm:"default:0"`
	Rating           float64                     `json:"rating" gorm:"default:0"`
	Summary          string                      `json:"summary,omitempty" gorm:"type:text"`
	SummaryUpdatedAt *time.Time                  `json:"summary_updated_at,omitempty"`

	// Relationships
	Owner   *User    `json:"owner,omitempty" gorm:"foreignKey:OwnerID"`
	Reviews []Review `json:"reviews,omitempty" gorm:"foreignKey:DatasetID"`
}

type Review struct {
	BaseModel
	DatasetID        uuid.UUID `json:"dataset_id" gorm:"type:uuid;not null;uniqueIndex:idx_reviews_dataset_reviewer"`
	ReviewerID       uuid.UUID `json:"reviewer_id" gorm:"type:uuid;not null;uniqueIndex:idx_reviews_dataset_reviewer;index"`
	Rating           int       `json:"rating" gorm:"not null"`
	Comment          string    `json:"comment" gorm:"type:text"`
	VerifiedPurchase bool      `json:"verified_purchase" gorm:"default:false"`

	// Relationships
	Reviewer *User `json:"reviewer,omitempty" gorm:"foreignKey:ReviewerID"`
}
