package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ideinstein/leadbridge/internal/application/services"
)

// Authenticator checks admin credentials
type Authenticator interface {
	Login(email, password, ip string) (*services.LoginResult, error)
}

// AuthHandler serves the admin login
type AuthHandler struct {
	auth Authenticator
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(auth Authenticator) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// LoginRequest represents login request body
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /api/admin/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !BindJSON(c, &req) {
		return
	}

	result, err := h.auth.Login(req.Email, req.Password, c.ClientIP())
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
