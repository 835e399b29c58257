// internal/models/transaction.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Transaction struct {
	BaseModel
	TxHash          *string          `json:"tx_hash" gorm:"size:66;uniqueIndex"`
	CallHash        *string          `json:"call_hash,omitempty" gorm:"size:66;index"`
	BuyerID         *uuid.UUID       `json:"buyer_id" gorm:"type:uuid;index"`
	SellerID        *uuid.UUID       `json:"seller_id" gorm:"type:uuid;index"`
	DatasetID       *uuid.UUID       `json:"dataset_id" gorm:"type:uuid;index"`
	InitiatorID     uuid.UUID        `json:"initiator_id" gorm:"type:uuid;not null;index"`
	TransactionType TransactionType  `json:"transaction_type" gorm:"type:varchar(20);not null;index"`
	Amount          decimal.Decimal  `json:"amount" gorm:"type:decimal(20,8);not null"`
	State           TransactionState `json:"state" gorm:"type:varchar(24);default:'draft';index"`
	ErrorCode       string           `json:"error_code,omitempty" gorm:"size:50"`
	ErrorMessage    string           `json:"error_message,omitempty" gorm:"type:text"`
	BlockNumber     *uint64          `json:"block_number,omitempty"`
	GasUsed         *uint64          `json:"gas_used,omitempty"`
	GasPrice        string           `json:"gas_price,omitempty" gorm:"size:78"`
	ExplorerURL     string           `json:"explorer_url,omitempty" gorm:"size:255"`
	RetryCount      int              `json:"retry_count" gorm:"default:0"`
	SubmittedAt     *time.Time       `json:"submitted_at"`
	ConfirmedAt     *time.Time       `json:"confirmed_at"`
	FailedAt        *time.Time       `json:"failed_at"`

	// Relationships
	Buyer     *User    `json:"buyer,omitempty" gorm:"foreignKey:BuyerID"`
	Seller    *User    `json:"seller,omitempty" gorm:"foreignKey:SellerID"`
	Dataset   *Dataset `json:"dataset,omitempty" gorm:"foreignKey:DatasetID"`
	Initiator *User    `json:"initiator,omitempty" gorm:"foreignKey:InitiatorID"`
}
