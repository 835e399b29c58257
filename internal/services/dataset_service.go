// internal/services/dataset_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/javajoker/datamarket-backend/internal/content"
	"github.com/javajoker/datamarket-backend/internal/database"
	"github.com/javajoker/datamarket-backend/internal/models"
	"github.com/javajoker/datamarket-backend/internal/search"
	"github.com/javajoker/datamarket-backend/internal/utils"
)

// CatalogService owns dataset listings. Only the owner may change a listing;
// downloads and rating are maintained by the system.
type CatalogService struct {
	db       *gorm.DB
	resolver MetadataResolver
	summary  *SummaryService
}

type CreateDatasetRequest struct {
	Title       string          `json:"title" validate:"required,min=3,max=255"`
	Description string          `json:"description" validate:"required,min=10"`
	Category    string          `json:"category" validate:"required"`
	Tags        []string        `json:"tags,omitempty" validate:"max=20,dive,max=50"`
	ContentURI  string          `json:"content_uri" validate:"required,ipfs_uri"`
	Price       decimal.Decimal `json:"price"`
}

type UpdateDatasetRequest struct {
	Title       *string          `json:"title,omitempty" validate:"omitempty,min=3,max=255"`
	Description *string          `json:"description,omitempty" validate:"omitempty,min=10"`
	Category    *string          `json:"category,omitempty"`
	Tags        []string         `json:"tags,omitempty" validate:"omitempty,max=20,dive,max=50"`
	ContentURI  *string          `json:"content_uri,omitempty" validate:"omitempty,ipfs_uri"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	IsActive    *bool            `json:"is_active,omitempty"`
}

type DatasetListParams struct {
	utils.PaginationParams
	Filters         search.Filters
	OwnerID         *uuid.UUID
	IncludeInactive bool
}

func NewCatalogService(db *gorm.DB, resolver MetadataResolver, summary *SummaryService) *CatalogService {
	return &CatalogService{
		db:       db,
		resolver: resolver,
		summary:  summary,
	}
}

func (s *CatalogService) Create(ownerID uuid.UUID, req *CreateDatasetRequest) (*models.Dataset, error) {
	// Validate request
	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(err)
	}
	if !lo.Contains(models.Categories, req.Category) {
		return nil, fmt.Errorf("%w: unknown category %q", ErrValidation, req.Category)
	}
	if !req.Price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be greater than zero", ErrValidation)
	}

	var owner models.User
	if err := s.db.First(&owner, "id = ?", ownerID).Error; err != nil {
		return nil, notFoundOr(err, "owner not found")
	}

	dataset := &models.Dataset{
		OwnerID:     ownerID,
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Category:    req.Category,
		Tags:        datatypes.JSONSlice[string](lo.Uniq(req.Tags)),
		ContentURI:  req.ContentURI,
		Price:       req.Price,
		IsActive:    true,
	}

	err := database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := tx.Create(dataset).Error; err != nil {
			return fmt.Errorf("failed to create dataset: %w", err)
		}

		// The client registers the listing on chain; the ledger tracks it
		// from draft.
		registration := &models.Transaction{
			InitiatorID:     ownerID,
			SellerID:        &ownerID,
			DatasetID:       &dataset.ID,
			TransactionType: models.TransactionTypeRegistration,
			Amount:          decimal.Zero,
			State:           models.TransactionStateDraft,
		}
		if err := tx.Create(registration).Error; err != nil {
			return fmt.Errorf("failed to record registration: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.Get(dataset.ID)
}

// Get returns a dataset by id, active or not.
func (s *CatalogService) Get(id uuid.UUID) (*models.Dataset, error) {
	var dataset models.Dataset
	if err := s.db.Preload("Owner").First(&dataset, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err, "dataset not found")
	}
	return &dataset, nil
}

// GetMany returns the datasets with the given ids in no particular order.
// Unknown ids are skipped.
func (s *CatalogService) GetMany(ids []uuid.UUID) ([]models.Dataset, error) {
	var datasets []models.Dataset
	if len(ids) == 0 {
		return datasets, nil
	}
	if err := s.db.Preload("Owner").Where("id IN ?", ids).Find(&datasets).Error; err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return datasets, nil
}

// List returns one page of datasets matching the filters in the same order
// search.Apply produces, plus the total number of matches.
func (s *CatalogService) List(params DatasetListParams) ([]models.Dataset, int64, error) {
	filters := params.Filters.Normalized()

	query := applyFilters(s.db.Model(&models.Dataset{}), filters)
	if params.OwnerID != nil {
		query = query.Where("owner_id = ?", *params.OwnerID)
	}
	if !params.IncludeInactive {
		query = query.Where("is_active = ?", true)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count datasets: %w", err)
	}

	query = query.Preload("Owner").Order(orderClause(filters.Sort))
	if params.Limit > 0 {
		query = utils.ApplyPagination(query, params.PaginationParams)
	}

	var datasets []models.Dataset
	if err := query.Find(&datasets).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list datasets: %w", err)
	}
	return datasets, total, nil
}

// Snapshot returns every active dataset for in-memory filtering.
func (s *CatalogService) Snapshot(ctx context.Context) ([]models.Dataset, error) {
	var datasets []models.Dataset
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&datasets).Error; err != nil {
		return nil, fmt.Errorf("failed to load catalog snapshot: %w", err)
	}
	return datasets, nil
}

func (s *CatalogService) Update(id, ownerID uuid.UUID, req *UpdateDatasetRequest) (*models.Dataset, error) {
	// Validate request
	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(err)
	}
	if req.Category != nil && !lo.Contains(models.Categories, *req.Category) {
		return nil, fmt.Errorf("%w: unknown category %q", ErrValidation, *req.Category)
	}
	if req.Price != nil && !req.Price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be greater than zero", ErrValidation)
	}

	var dataset models.Dataset
	if err := s.db.First(&dataset, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err, "dataset not found")
	}

	if dataset.OwnerID != ownerID {
		return nil, fmt.Errorf("only the owner can update this dataset: %w", ErrForbidden)
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		updates["title"] = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		updates["description"] = strings.TrimSpace(*req.Description)
	}
	if req.Category != nil {
		updates["category"] = *req.Category
	}
	if req.Tags != nil {
		updates["tags"] = datatypes.JSONSlice[string](lo.Uniq(req.Tags))
	}
	if req.ContentURI != nil && *req.ContentURI != dataset.ContentURI {
		updates["content_uri"] = *req.ContentURI
		// summary described the old content
		updates["summary"] = ""
		updates["summary_updated_at"] = nil
	}
	if req.Price != nil {
		updates["price"] = *req.Price
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if len(updates) > 0 {
		if err := s.db.Model(&dataset).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("failed to update dataset: %w", err)
		}
	}

	return s.Get(id)
}

func (s *CatalogService) IncrementDownloads(id uuid.UUID) error {
	return incrementDownloads(s.db, id)
}

func (s *CatalogService) RecomputeRating(id uuid.UUID) error {
	return recomputeRating(s.db, id)
}

// Categories lists the selectable categories, sentinel first.
func (s *CatalogService) Categories() []string {
	return append([]string{models.AllCategories}, models.Categories...)
}

// Metadata resolves the content metadata of a dataset.
func (s *CatalogService) Metadata(ctx context.Context, id uuid.UUID) (*content.Metadata, error) {
	if s.resolver == nil {
		return nil, errors.New("content gateway is not configured")
	}

	dataset, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return s.resolver.Resolve(ctx, dataset.ContentURI)
}

// Summary returns the cached summary of a dataset, generating and storing it
// on first use. Metadata that cannot be resolved falls back to the listing's
// own description.
func (s *CatalogService) Summary(ctx context.Context, id uuid.UUID) (string, error) {
	dataset, err := s.Get(id)
	if err != nil {
		return "", err
	}
	if dataset.Summary != "" {
		return dataset.Summary, nil
	}

	text := dataset.Title + ". " + dataset.Description
	if md, err := s.Metadata(ctx, id); err == nil {
		if t := md.Text(); t != "" {
			text = t
		}
	}

	summary := s.summary.Summarize(ctx, text)
	now := time.Now()
	if err := s.db.Model(&models.Dataset{}).Where("id = ?", id).Updates(map[string]interface{}{
		"summary":            summary,
		"summary_updated_at": now,
	}).Error; err != nil {
		return "", fmt.Errorf("failed to store summary: %w", err)
	}
	return summary, nil
}

func incrementDownloads(db *gorm.DB, id uuid.UUID) error {
	result := db.Model(&models.Dataset{}).Where("id = ?", id).Updates(map[string]interface{}{
		"downloads":  gorm.Expr("downloads + ?", 1),
		"updated_at": time.Now(),
	})
	if result.Error != nil {
		return fmt.Errorf("failed to increment downloads: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("dataset %s: %w", id, ErrNotFound)
	}
	return nil
}

// recomputeRating sets review_count and rating from the stored reviews.
func recomputeRating(db *gorm.DB, id uuid.UUID) error {
	var agg struct {
		Count int64
		Avg   float64
	}
	if err := db.Model(&models.Review{}).
		Select("COUNT(*) AS count, COALESCE(AVG(rating), 0) AS avg").
		Where("dataset_id = ?", id).
		Scan(&agg).Error; err != nil {
		return fmt.Errorf("failed to aggregate reviews: %w", err)
	}

	return db.Model(&models.Dataset{}).Where("id = ?", id).Updates(map[string]interface{}{
		"review_count": agg.Count,
		"rating":       agg.Avg,
		"updated_at":   time.Now(),
	}).Error
}

func applyFilters(query *gorm.DB, f search.Filters) *gorm.DB {
	if f.Text != "" {
		pattern := likePattern(f.Text)
		query = query.Where(`(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\')`, pattern, pattern)
	}
	if f.HasCategory() {
		query = query.Where("category = ?", f.Category)
	}
	if f.MinPrice != nil {
		query = query.Where("price >= ?", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		query = query.Where("price <= ?", *f.MaxPrice)
	}
	if f.MinRating != nil {
		query = query.Where("rating >= ?", *f.MinRating)
	}
	return query
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(text string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(text)) + "%"
}

func orderClause(sort search.Sort) string {
	const ties = "created_at DESC, id ASC"
	switch sort {
	case search.SortPriceAsc:
		return "price ASC, " + ties
	case search.SortPriceDesc:
		return "price DESC, " + ties
	case search.SortRatingDesc:
		return "rating DESC, " + ties
	case search.SortDownloadsDesc:
		return "downloads DESC, " + ties
	default:
		return ties
	}
}
