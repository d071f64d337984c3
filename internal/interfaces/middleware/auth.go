package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ideinstein/leadbridge/pkg/auth"
	"github.com/ideinstein/leadbridge/pkg/constants"
)

// TokenValidator verifies admin bearer tokens
type TokenValidator interface {
	ValidateToken(token string) (*auth.AdminSession, error)
}

// RequireAdmin is a middleware that validates admin JWT tokens
func RequireAdmin(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(constants.HeaderAuthorization)
		if authHeader == "" {
			abortUnauthorized(c, "No authorization token provided")
			return
		}

		// Format: "Bearer <token>"
		if !strings.HasPrefix(authHeader, constants.BearerPrefix) {
			abortUnauthorized(c, "Invalid authorization header format")
			return
		}
		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, constants.BearerPrefix))

		session, err := validator.ValidateToken(tokenString)
		if err != nil {
			abortUnauthorized(c, err.Error())
			return
		}

		c.Set(constants.ContextKeyAdmin, *session)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		constants.ResponseError: "Unauthorized",
		constants.FieldMessage:  message,
		"code":                  "UNAUTHORIZED",
		"data":                  nil,
	})
}
