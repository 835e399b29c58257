// internal/services/review_service.go
package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/javajoker/datamarket-backend/internal/database"
	"github.com/javajoker/datamarket-backend/internal/models"
	"github.com/javajoker/datamarket-backend/internal/utils"
)

type ReviewService struct {
	db *gorm.DB
}

type SubmitReviewRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"max=2000"`
}

func NewReviewService(db *gorm.DB) *ReviewService {
	return &ReviewService{db: db}
}

// Submit stores the reviewer's only review of a dataset and refreshes the
// dataset's review count and rating in the same database transaction.
func (s *ReviewService) Submit(datasetID, reviewerID uuid.UUID, req *SubmitReviewRequest) (*models.Review, error) {
	// Validate request
	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(err)
	}

	review := &models.Review{
		DatasetID:  datasetID,
		ReviewerID: reviewerID,
		Rating:     req.Rating,
		Comment:    strings.TrimSpace(req.Comment),
	}

	err := database.WithTransaction(s.db, func(tx *gorm.DB) error {
		var dataset models.Dataset
		if err := tx.First(&dataset, "id = ?", datasetID).Error; err != nil {
			return notFoundOr(err, "dataset not found")
		}
		if dataset.OwnerID == reviewerID {
			return fmt.Errorf("owners cannot review their own dataset: %w", ErrForbidden)
		}

		var count int64
		if err := tx.Model(&models.Review{}).
			Where("dataset_id = ? AND reviewer_id = ?", datasetID, reviewerID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("database error: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("dataset already reviewed by this user: %w", ErrConflict)
		}

		verified, err := hasConfirmedPurchase(tx, reviewerID, datasetID)
		if err != nil {
			return err
		}
		review.VerifiedPurchase = verified

		if err := insertReview(tx, review); err != nil {
			return err
		}

		return recomputeRating(tx, datasetID)
	})
	if err != nil {
		return nil, err
	}

	if err := s.db.Preload("Reviewer").First(review, "id = ?", review.ID).Error; err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return review, nil
}

// List returns a page of a dataset's reviews, newest first.
func (s *ReviewService) List(datasetID uuid.UUID, params utils.PaginationParams) ([]models.Review, int64, error) {
	query := s.db.Model(&models.Review{}).Where("dataset_id = ?", datasetID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count reviews: %w", err)
	}

	query = query.Preload("Reviewer").Order("created_at DESC, id ASC")
	if params.Limit > 0 {
		query = utils.ApplyPagination(query, params)
	}

	var reviews []models.Review
	if err := query.Find(&reviews).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list reviews: %w", err)
	}
	return reviews, total, nil
}

// insertReview relies on the unique index to catch a duplicate that raced
// past the count check.
func insertReview(tx *gorm.DB, review *models.Review) error {
	if err := tx.Create(review).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("dataset already reviewed by this user: %w", ErrConflict)
		}
		return fmt.Errorf("failed to create review: %w", err)
	}
	return nil
}
