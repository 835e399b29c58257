// internal/handlers/purchase.go
package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/datamarket-backend/internal/i18n"
	"github.com/javajoker/datamarket-backend/internal/purchase"
	"github.com/javajoker/datamarket-backend/internal/services"
	"github.com/javajoker/datamarket-backend/internal/utils"
)

type PurchaseHandler struct {
	orchestrator *purchase.Orchestrator
	userService  *services.UserService
}

type BatchPurchaseRequest struct {
	DatasetIDs []uuid.UUID `json:"dataset_ids" validate:"required,min=1,max=50"`
}

// NewPurchaseHandler builds the handler. A nil orchestrator means no chain
// gateway is configured and purchases are refused.
func NewPurchaseHandler(orchestrator *purchase.Orchestrator, userService *services.UserService) *PurchaseHandler {
	return &PurchaseHandler{
		orchestrator: orchestrator,
		userService:  userService,
	}
}

// POST /purchases/batch
func (h *PurchaseHandler) PurchaseBatch(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if h.orchestrator == nil {
		utils.ServiceUnavailableResponse(c, i18n.T(lang, i18n.KeyPurchaseDisabled))
		return
	}

	var req BatchPurchaseRequest
	if !bindJSON(c, &req) {
		return
	}

	buyer, err := h.userService.GetUserByID(userID)
	if err != nil {
		respondError(c, err, "user")
		return
	}

	// payment calls already broadcast must be recorded even if the client
	// goes away
	ctx := context.WithoutCancel(c.Request.Context())
	report, err := h.orchestrator.Purchase(ctx, purchase.NewSelection(req.DatasetIDs...), buyer)
	if err != nil {
		respondError(c, err, "dataset")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyPurchaseFinished, report.Succeeded, report.Failed),
		"report":  report,
	})
}
