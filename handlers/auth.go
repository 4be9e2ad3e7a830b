package handlers

import (
	"net/http"

	"github.com/Kubendra2004/HealthForesight/middleware"
	"github.com/Kubendra2004/HealthForesight/services"

	"github.com/gin-gonic/gin"
)

// AuthHandler exposes the caller's identity. Accounts live in the hospital identity
// service; this API only verifies and refreshes the tokens it issues.
type AuthHandler struct {
	authService *services.AuthService
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

type AuthResponse struct {
	Token string `json:"token"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := middleware.Claims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id": claims.UserID,
		"email":   claims.Email,
		"role":    claims.Role,
	})
}

// Refresh issues a fresh token carrying the same identity.
func (h *AuthHandler) Refresh(c *gin.Context) {
	claims, ok := middleware.Claims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	token, err := h.authService.GenerateToken(claims.UserID, claims.Email, claims.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, AuthResponse{Token: token, Email: claims.Email, Role: claims.Role})
}
