// internal/handlers/transaction.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/javajoker/datamarket-backend/internal/i18n"
	"github.com/javajoker/datamarket-backend/internal/models"
	"github.com/javajoker/datamarket-backend/internal/services"
	"github.com/javajoker/datamarket-backend/internal/txstate"
	"github.com/javajoker/datamarket-backend/internal/utils"
)

type TransactionHandler struct {
	transactionService *services.TransactionService
}

func NewTransactionHandler(transactionService *services.TransactionService) *TransactionHandler {
	return &TransactionHandler{
		transactionService: transactionService,
	}
}

// GET /transactions?type=purchase&state=confirmed
func (h *TransactionHandler) GetTransactions(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	params := services.TransactionListParams{
		PaginationParams: utils.ParsePagination(c),
		UserID:           &userID,
		Type:             models.TransactionType(c.Query("type")),
		State:            models.TransactionState(c.Query("state")),
	}

	rows, total, err := h.transactionService.List(params)
	if err != nil {
		respondError(c, err, "transaction")
		return
	}

	utils.PaginatedResponse(c, utils.NewPage(rows, total, params.PaginationParams))
}

// GET /transactions/:id
func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	row, err := h.transactionService.Get(id)
	if err != nil {
		respondError(c, err, "transaction")
		return
	}
	if !participant(*row, userID) {
		utils.NotFoundResponse(c, "transaction")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"transaction": row,
	})
}

// GET /transactions/hash/:hash
//
// A shared batch hash maps to one row per dataset it paid for.
func (h *TransactionHandler) GetTransactionsByHash(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	hash := c.Param("hash")
	if !utils.IsTxHash(hash) {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "hash"), nil)
		return
	}

	rows, err := h.transactionService.GetByHash(hash)
	if err != nil {
		respondError(c, err, "transaction")
		return
	}

	rows = lo.Filter(rows, func(row models.Transaction, _ int) bool { return participant(row, userID) })
	if len(rows) == 0 {
		utils.NotFoundResponse(c, "transaction")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"transactions": rows,
	})
}

// POST /transactions
func (h *TransactionHandler) CreateTransaction(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req services.CreateTransactionRequest
	if !bindJSON(c, &req) {
		return
	}

	row, err := h.transactionService.Create(userID, &req)
	if err != nil {
		respondError(c, err, "transaction")
		return
	}

	utils.CreatedResponse(c, gin.H{
		"transaction": row,
	})
}

// POST /transactions/:id/events
func (h *TransactionHandler) PostEvent(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req txstate.EventSpec
	if !bindJSON(c, &req) {
		return
	}
	evt, err := req.Event()
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyTransactionBadEvent), err.Error())
		return
	}

	row, err := h.transactionService.AdvanceFor(c.Request.Context(), id, userID, evt)
	if err != nil {
		respondError(c, err, "transaction")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"transaction": row,
	})
}

func participant(row models.Transaction, userID uuid.UUID) bool {
	return row.InitiatorID == userID ||
		(row.BuyerID != nil && *row.BuyerID == userID) ||
		(row.SellerID != nil && *row.SellerID == userID)
}
