// internal/handlers/auth.go
package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/marketsync/internal/services"
	"github.com/javajoker/marketsync/internal/utils"
)

type AuthHandler struct {
	authService *services.AuthService
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

// POST /auth/token
func (h *AuthHandler) Token(c *gin.Context) {
	var req services.LoginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	authResponse, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			utils.UnauthorizedResponse(c, err.Error())
			return
		}
		respondError(c, "operator", err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"operator":   authResponse.Operator,
		"token":      authResponse.AccessToken,
		"token_type": authResponse.TokenType,
		"expires_in": authResponse.ExpiresIn,
	})
}
