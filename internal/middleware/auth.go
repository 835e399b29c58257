// internal/middleware/auth.go
package middleware

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/datamarket-backend/internal/i18n"
	"github.com/javajoker/datamarket-backend/internal/services"
	"github.com/javajoker/datamarket-backend/internal/utils"
)

const (
	HeaderWalletAddress   = "X-Wallet-Address"
	HeaderWalletSignature = "X-Wallet-Signature"
	HeaderWalletTimestamp = "X-Wallet-Timestamp"
)

// AuthRequired accepts either a bearer access token or a request signed by
// the caller's wallet over "<METHOD> <path>".
func AuthRequired(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		lang := utils.GetLangFromContext(c)

		if c.GetHeader(HeaderWalletSignature) != "" {
			if !walletAuth(c, authService) {
				utils.UnauthorizedResponse(c, i18n.T(lang, i18n.KeyAuthInvalidSignature))
				c.Abort()
				return
			}
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.UnauthorizedResponse(c, "")
			c.Abort()
			return
		}

		if !bearerAuth(c, authHeader) {
			utils.UnauthorizedResponse(c, i18n.T(lang, i18n.KeyAuthInvalidToken))
			c.Abort()
			return
		}
		c.Next()
	}
}

// OptionalAuth sets the caller when valid credentials are present and lets
// anonymous requests through.
func OptionalAuth(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(HeaderWalletSignature) != "" {
			walletAuth(c, authService)
		} else if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			bearerAuth(c, authHeader)
		}
		c.Next()
	}
}

func bearerAuth(c *gin.Context, authHeader string) bool {
	// Extract token from "Bearer <token>"
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return false
	}

	claims, err := utils.ValidateJWT(parts[1])
	if err != nil || claims.UserID == "" {
		// refresh tokens carry no user id and are not accepted here
		return false
	}

	c.Set("user_id", claims.UserID)
	c.Set("wallet_address", claims.WalletAddress)
	return true
}

func walletAuth(c *gin.Context, authService *services.AuthService) bool {
	ts, err := strconv.ParseInt(c.GetHeader(HeaderWalletTimestamp), 10, 64)
	if err != nil {
		return false
	}

	user, err := authService.VerifyRequest(
		c.GetHeader(HeaderWalletAddress),
		c.GetHeader(HeaderWalletSignature),
		ts,
		c.Request.Method,
		c.Request.URL.Path,
	)
	if err != nil {
		return false
	}

	c.Set("user_id", user.ID.String())
	c.Set("wallet_address", user.WalletAddress)
	return true
}
