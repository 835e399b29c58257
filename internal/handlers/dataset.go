// internal/handlers/dataset.go
package handlers

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/javajoker/datamarket-backend/internal/i18n"
	"github.com/javajoker/datamarket-backend/internal/search"
	"github.com/javajoker/datamarket-backend/internal/services"
	"github.com/javajoker/datamarket-backend/internal/utils"
)

type DatasetHandler struct {
	catalogService *services.CatalogService
}

func NewDatasetHandler(catalogService *services.CatalogService) *DatasetHandler {
	return &DatasetHandler{
		catalogService: catalogService,
	}
}

// GET /datasets
//
// Query: q, category, min_price, max_price, min_rating, sort, owner, page, limit.
// owner=me lists the caller's datasets including inactive ones.
func (h *DatasetHandler) GetDatasets(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	filters, err := parseFilters(c)
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "filters"), err.Error())
		return
	}

	params := services.DatasetListParams{
		PaginationParams: utils.ParsePagination(c),
		Filters:          filters,
	}

	switch owner := c.Query("owner"); owner {
	case "":
	case "me":
		userID, ok := currentUserID(c)
		if !ok {
			return
		}
		params.OwnerID = &userID
		params.IncludeInactive = true
	default:
		ownerID, err := uuid.Parse(owner)
		if err != nil {
			utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "owner"), nil)
			return
		}
		params.OwnerID = &ownerID
	}

	datasets, total, err := h.catalogService.List(params)
	if err != nil {
		respondError(c, err, "dataset")
		return
	}

	utils.PaginatedResponse(c, utils.NewPage(datasets, total, params.PaginationParams))
}

// GET /datasets/:id
func (h *DatasetHandler) GetDataset(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	dataset, err := h.catalogService.Get(id)
	if err != nil {
		respondError(c, err, "dataset")
		return
	}

	// inactive listings stay visible to their owner only
	if !dataset.IsActive {
		if caller := optionalUserID(c); caller == nil || *caller != dataset.OwnerID {
			utils.NotFoundResponse(c, "dataset")
			return
		}
	}

	utils.SuccessResponse(c, gin.H{
		"dataset": dataset,
	})
}

// POST /datasets
func (h *DatasetHandler) CreateDataset(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req services.CreateDatasetRequest
	if !bindJSON(c, &req) {
		return
	}

	dataset, err := h.catalogService.Create(userID, &req)
	if err != nil {
		respondError(c, err, "dataset")
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyDatasetCreated),
		"dataset": dataset,
	})
}

// PATCH /datasets/:id
func (h *DatasetHandler) UpdateDataset(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req services.UpdateDatasetRequest
	if !bindJSON(c, &req) {
		return
	}

	dataset, err := h.catalogService.Update(id, userID, &req)
	if err != nil {
		respondError(c, err, "dataset")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyDatasetUpdated),
		"dataset": dataset,
	})
}

// GET /datasets/:id/metadata
func (h *DatasetHandler) GetMetadata(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if _, err := h.catalogService.Get(id); err != nil {
		respondError(c, err, "dataset")
		return
	}

	metadata, err := h.catalogService.Metadata(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		utils.ServiceUnavailableResponse(c, i18n.T(lang, i18n.KeyDatasetNoMetadata))
		return
	}

	utils.SuccessResponse(c, gin.H{
		"metadata": metadata,
	})
}

// GET /datasets/:id/summary
func (h *DatasetHandler) GetSummary(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	summary, err := h.catalogService.Summary(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "dataset")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"dataset_id": id,
		"summary":    summary,
	})
}

// GET /categories
func (h *DatasetHandler) GetCategories(c *gin.Context) {
	utils.SuccessResponse(c, gin.H{
		"categories": h.catalogService.Categories(),
	})
}

func parseFilters(c *gin.Context) (search.Filters, error) {
	f := search.Filters{
		Text:     c.Query("q"),
		Category: c.Query("category"),
		Sort:     search.Sort(c.Query("sort")),
	}
	if f.Text == "" {
		f.Text = c.Query("search")
	}

	var err error
	if f.MinPrice, err = decimalQuery(c, "min_price"); err != nil {
		return f, err
	}
	if f.MaxPrice, err = decimalQuery(c, "max_price"); err != nil {
		return f, err
	}
	if raw := c.Query("min_rating"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 5 {
			return f, fmt.Errorf("min_rating must be a number between 0 and 5")
		}
		f.MinRating = &v
	}
	if f.Sort != "" && !f.Sort.Valid() {
		return f, fmt.Errorf("unknown sort %q", f.Sort)
	}
	return f.Normalized(), nil
}

func decimalQuery(c *gin.Context, name string) (*decimal.Decimal, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil || v.IsNegative() {
		return nil, fmt.Errorf("%s must be a non-negative decimal", name)
	}
	return &v, nil
}
