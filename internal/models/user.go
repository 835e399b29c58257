// internal/models/user.go
package models

import (
	"time"
)

type User struct {
	BaseModel
	WalletAddress string     `json:"wallet_address" gorm:"uniqueIndex;size:42;not null"`
	DisplayName   string     `json:"display_name" gorm:"size:100"`
	Bio           string     `json:"bio" gorm:"type:text"`
	AvatarURL     string     `json:"avatar_url" gorm:"size:500"`
	Contact       string     `json:"contact" gorm:"size:255"`
	LastLoginAt   *time.Time `json:"last_login_at"`

	// Relationships
	Datasets []Dataset `json:"datasets,omitempty" gorm:"foreignKey:OwnerID"`
}
