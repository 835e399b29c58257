// internal/handlers/user.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/datamarket-backend/internal/i18n"
	"github.com/javajoker/datamarket-backend/internal/services"
	"github.com/javajoker/datamarket-backend/internal/utils"
)

type UserHandler struct {
	userService *services.UserService
}

func NewUserHandler(userService *services.UserService) *UserHandler {
	return &UserHandler{
		userService: userService,
	}
}

// GET /users/:address
func (h *UserHandler) GetUser(c *gin.Context) {
	user, err := h.userService.GetByWallet(c.Param("address"))
	if err != nil {
		respondError(c, err, "user")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"user": user,
	})
}

// POST /users
//
// Returns the caller's user, creating it on first use.
func (h *UserHandler) Register(c *gin.Context) {
	wallet, exists := utils.GetWalletFromContext(c)
	if !exists || wallet == "" {
		utils.UnauthorizedResponse(c, "")
		return
	}

	user, created, err := h.userService.GetOrCreateByWallet(wallet)
	if err != nil {
		respondError(c, err, "user")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, utils.APIResponse{
		Success: true,
		Data: gin.H{
			"user":    user,
			"created": created,
		},
	})
}

// PUT /users/profile
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req services.UpdateUserProfileRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.userService.UpdateProfile(userID, &req)
	if err != nil {
		respondError(c, err, "user")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyUserProfileUpdated),
		"user":    user,
	})
}

// POST /users/avatar
func (h *UserHandler) UploadAvatar(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	// Get uploaded file
	file, header, err := c.Request.FormFile("avatar")
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationRequired, "avatar"), err.Error())
		return
	}
	defer file.Close()

	if header.Size > services.AvatarMaxSize {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "avatar"), "avatar must be at most 2MB")
		return
	}

	user, err := h.userService.UploadAvatar(c.Request.Context(), userID, file)
	if err != nil {
		respondError(c, err, "user")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyUserProfileUpdated),
		"user":    user,
	})
}
