package services

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ideinstein/leadbridge/pkg/auth"
	"github.com/ideinstein/leadbridge/pkg/errors"
)

// AuthService authenticates the single configured admin account
type AuthService struct {
	email        string
	passwordHash string
	tokens       *auth.TokenIssuer
	logger       *zap.Logger
}

// NewAuthService creates a new AuthService
func NewAuthService(email, passwordHash string, tokens *auth.TokenIssuer, logger *zap.Logger) *AuthService {
	return &AuthService{
		email:        strings.ToLower(strings.TrimSpace(email)),
		passwordHash: passwordHash,
		tokens:       tokens,
		logger:       logger,
	}
}

// LoginResult contains the result of a successful login
type LoginResult struct {
	Token     string            `json:"token"`
	Admin     auth.AdminSession `json:"admin"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Login checks the admin credentials and issues a token
func (s *AuthService) Login(email, password, ip string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	// bcrypt runs whether or not the email matches
	passwordOK := s.passwordHash != "" && auth.VerifyPassword(password, s.passwordHash)
	if s.email == "" || email != s.email || !passwordOK {
		s.logger.Warn("Admin login failed", zap.String("email", email), zap.String("ip", ip))
		return nil, errors.NewUnauthorizedError("Invalid email or password")
	}

	session := auth.AdminSession{Email: s.email}
	token, expiresAt, err := s.tokens.GenerateToken(session)
	if err != nil {
		return nil, errors.NewInternalError("failed to generate token", err)
	}

	s.logger.Info("Admin logged in", zap.String("email", email), zap.String("ip", ip))
	return &LoginResult{Token: token, Admin: session, ExpiresAt: expiresAt}, nil
}

// ValidateToken verifies an admin bearer token
func (s *AuthService) ValidateToken(token string) (*auth.AdminSession, error) {
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		return nil, errors.NewUnauthorizedError("Invalid or expired token")
	}
	if claims.Admin.Email != s.email {
		return nil, errors.NewUnauthorizedError("Unknown admin")
	}
	return &claims.Admin, nil
}
