// internal/services/user_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/javajoker/datamarket-backend/internal/models"
	"github.com/javajoker/datamarket-backend/internal/utils"
)

type UserService struct {
	db             *gorm.DB
	storageService *StorageService
}

type UpdateUserProfileRequest struct {
	DisplayName *string `json:"display_name,omitempty" validate:"omitempty,max=100"`
	Bio         *string `json:"bio,omitempty" validate:"omitempty,max=2000"`
	AvatarURL   *string `json:"avatar_url,omitempty" validate:"omitempty,url,max=500"`
	Contact     *string `json:"contact,omitempty" validate:"omitempty,max=255"`
}

func NewUserService(db *gorm.DB, storageService *StorageService) *UserService {
	return &UserService{
		db:             db,
		storageService: storageService,
	}
}

// NormalizeAddress returns the EIP-55 form of a hex wallet address.
func NormalizeAddress(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("%w: invalid wallet address %q", ErrValidation, address)
	}
	return common.HexToAddress(address).Hex(), nil
}

func (s *UserService) GetUserByID(userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, "id = ?", userID).Error; err != nil {
		return nil, notFoundOr(err, "user not found")
	}
	return &user, nil
}

func (s *UserService) GetByWallet(address string) (*models.User, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := s.db.Where("wallet_address = ?", addr).First(&user).Error; err != nil {
		return nil, notFoundOr(err, "user not found")
	}
	return &user, nil
}

// GetOrCreateByWallet returns the user owning address, creating it on first
// use. The boolean reports whether a row was created.
func (s *UserService) GetOrCreateByWallet(address string) (*models.User, bool, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return nil, false, err
	}

	var user models.User
	err = s.db.Where("wallet_address = ?", addr).First(&user).Error
	if err == nil {
		return &user, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("database error: %w", err)
	}

	user = models.User{WalletAddress: addr}
	if err := s.db.Create(&user).Error; err != nil {
		// lost a race against a concurrent first login
		if errors.Is(err, gorm.ErrDuplicatedKey) || s.db.Where("wallet_address = ?", addr).First(&user).Error == nil {
			return &user, false, nil
		}
		return nil, false, fmt.Errorf("failed to create user: %w", err)
	}
	return &user, true, nil
}

func (s *UserService) TouchLogin(userID uuid.UUID) error {
	now := time.Now()
	return s.db.Model(&models.User{}).Where("id = ?", userID).Update("last_login_at", now).Error
}

func (s *UserService) UpdateProfile(userID uuid.UUID, req *UpdateUserProfileRequest) (*models.User, error) {
	// Validate request
	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(err)
	}

	user, err := s.GetUserByID(userID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.DisplayName != nil {
		updates["display_name"] = *req.DisplayName
	}
	if req.Bio != nil {
		updates["bio"] = *req.Bio
	}
	if req.AvatarURL != nil {
		updates["avatar_url"] = *req.AvatarURL
	}
	if req.Contact != nil {
		updates["contact"] = *req.Contact
	}
	if len(updates) == 0 {
		return user, nil
	}

	if err := s.db.Model(user).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	return s.GetUserByID(userID)
}

// UploadAvatar stores a new profile image and points the user's avatar_url
// at it.
func (s *UserService) UploadAvatar(ctx context.Context, userID uuid.UUID, file io.Reader) (*models.User, error) {
	if s.storageService == nil {
		return nil, errors.New("storage is not configured")
	}
	if _, err := s.GetUserByID(userID); err != nil {
		return nil, err
	}

	stored, err := s.storageService.StoreAvatar(ctx, userID, file)
	if err != nil {
		return nil, err
	}

	url := stored.URL
	return s.UpdateProfile(userID, &UpdateUserProfileRequest{AvatarURL: &url})
}
