package crm

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	appErrors "github.com/ideinstein/leadbridge/pkg/errors"
)

const (
	// defaultTokenLifetime applies when the provider omits expires_in
	defaultTokenLifetime = 55 * time.Minute
	// refreshTimeout bounds a refresh-token grant
	refreshTimeout = 30 * time.Second
)

// permanentGrantErrors are OAuth error codes that a retry cannot fix
var permanentGrantErrors = map[string]bool{
	"invalid_grant":       true,
	"invalid_client":      true,
	"invalid_code":        true,
	"unauthorized_client": true,
}

// TokenConfig describes the refresh-token grant against the CRM accounts server
type TokenConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	AccountsURL  string
	EarlyExpiry  time.Duration
	HTTPClient   *http.Client
}

// TokenManager hands out CRM access tokens, refreshing them through the
// OAuth refresh-token grant only when the cached one is about to expire.
// Concurrent callers share a single in-flight refresh.
type TokenManager struct {
	config      *oauth2.Config
	httpClient  *http.Client
	earlyExpiry time.Duration
	now         func() time.Time
	logger      *zap.Logger

	mu           sync.RWMutex
	refreshToken string
	token        *oauth2.Token
	apiDomain    string

	group singleflight.Group
}

// NewTokenManager creates a TokenManager; no network call happens until the first Token call
func NewTokenManager(cfg TokenConfig, logger *zap.Logger) *TokenManager {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &TokenManager{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.AccountsURL + "/oauth/v2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient:   httpClient,
		earlyExpiry:  cfg.EarlyExpiry,
		now:          time.Now,
		logger:       logger,
		refreshToken: cfg.RefreshToken,
	}
}

// Token returns a valid access token, refreshing it if needed
func (m *TokenManager) Token(ctx context.Context) (*oauth2.Token, error) {
	if tok := m.cached(); tok != nil {
		return tok, nil
	}

	v, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		// Another caller may have refreshed while we waited
		if tok := m.cached(); tok != nil {
			return tok, nil
		}
		// Waiters share this refresh, so one caller's cancellation must not fail it
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return m.refresh(refreshCtx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

// AccessToken returns just the bearer value of Token
func (m *TokenManager) AccessToken(ctx context.Context) (string, error) {
	tok, err := m.Token(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Invalidate drops the cached access token so the next call refreshes.
// Callers use it after the API rejects a token that looked valid.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.token = nil
	m.mu.Unlock()
}

// APIDomain returns the api_domain reported by the last token response
func (m *TokenManager) APIDomain() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.apiDomain
}

func (m *TokenManager) cached() *oauth2.Token {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == nil || m.token.AccessToken == "" {
		return nil
	}
	if !m.now().Add(m.earlyExpiry).Before(m.token.Expiry) {
		return nil
	}
	return m.token
}

func (m *TokenManager) refresh(ctx context.Context) (*oauth2.Token, error) {
	m.mu.RLock()
	refreshToken := m.refreshToken
	m.mu.RUnlock()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	tok, err := m.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, classifyTokenError(err)
	}
	if tok.Expiry.IsZero() {
		tok.Expiry = m.now().Add(defaultTokenLifetime)
	}

	m.mu.Lock()
	m.token = tok
	if tok.RefreshToken != "" && tok.RefreshToken != m.refreshToken {
		m.refreshToken = tok.RefreshToken
		m.logger.Info("CRM refresh token rotated")
	}
	if domain, ok := tok.Extra("api_domain").(string); ok && domain != "" {
		m.apiDomain = domain
	}
	m.mu.Unlock()

	m.logger.Debug("CRM access token refreshed", zap.Time("expiry", tok.Expiry))
	return tok, nil
}

func classifyTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		code := retrieveErr.ErrorCode
		if code == "" {
			code = string(retrieveErr.Body)
		}
		if permanentGrantErrors[retrieveErr.ErrorCode] || status == http.StatusBadRequest || status == http.StatusUnauthorized {
			return appErrors.NewPermanentUpstreamError("crm oauth", status, code)
		}
		return appErrors.NewUpstreamError("crm oauth", status, code, nil)
	}
	return appErrors.NewUpstreamError("crm oauth", 0, "token refresh failed", err)
}
