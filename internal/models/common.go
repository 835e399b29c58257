// internal/models/common.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns the id on the client so the same schema works on
// postgres and sqlite.
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// Enums
type TransactionType string

const (
	TransactionTypePurchase     TransactionType = "purchase"
	TransactionTypeRegistration TransactionType = "registration"
	TransactionTypeWithdrawal   TransactionType = "withdrawal"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypePurchase, TransactionTypeRegistration, TransactionTypeWithdrawal:
		return true
	}
	return false
}

type TransactionState string

const (
	TransactionStateDraft            TransactionState = "draft"
	TransactionStatePending          TransactionState = "pending"
	TransactionStateWaitingForWallet TransactionState = "waiting_for_wallet"
	TransactionStateSubmitting       TransactionState = "submitting"
	TransactionStateConfirming       TransactionState = "confirming"
	TransactionStateConfirmed        TransactionState = "confirmed"
	TransactionStateFailed           TransactionState = "failed"
)

func (s TransactionState) Terminal() bool {
	return s == TransactionStateConfirmed || s == TransactionStateFailed
}

// AllCategories is the category sentinel that disables category filtering.
const AllCategories = "All Categories"

var Categories = []string{
	"Computer Vision",
	"Natural Language Processing",
	"Audio Processing",
	"Time Series",
	"Tabular",
	"Geospatial",
	"Healthcare",
	"Finance",
	"Other",
}
