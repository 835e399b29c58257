// internal/handlers/review.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/datamarket-backend/internal/i18n"
	"github.com/javajoker/datamarket-backend/internal/services"
	"github.com/javajoker/datamarket-backend/internal/utils"
)

type ReviewHandler struct {
	reviewService *services.ReviewService
}

func NewReviewHandler(reviewService *services.ReviewService) *ReviewHandler {
	return &ReviewHandler{
		reviewService: reviewService,
	}
}

// GET /datasets/:id/reviews
func (h *ReviewHandler) GetReviews(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	params := utils.ParsePagination(c)
	reviews, total, err := h.reviewService.List(id, params)
	if err != nil {
		respondError(c, err, "dataset")
		return
	}

	utils.PaginatedResponse(c, utils.NewPage(reviews, total, params))
}

// POST /datasets/:id/reviews
func (h *ReviewHandler) CreateReview(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req services.SubmitReviewRequest
	if !bindJSON(c, &req) {
		return
	}

	review, err := h.reviewService.Submit(id, userID, &req)
	if err != nil {
		respondError(c, err, "dataset")
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyReviewCreated),
		"review":  review,
	})
}
