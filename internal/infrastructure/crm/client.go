// Package crm talks to the CRM vendor's REST API: OAuth token handling,
// record insert/upsert and notes.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/ideinstein/leadbridge/pkg/errors"
)

const serviceName = "crm"

// TokenProvider supplies access tokens for API calls
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
	Invalidate()
	APIDomain() string
}

// Record is a CRM record keyed by field API name
type Record map[string]any

// ClientConfig configures the API location and auth header format
type ClientConfig struct {
	BaseURL    string // empty: use the token provider's api_domain
	APIVersion string
	AuthScheme string
	HTTPClient *http.Client
}

// Client is a minimal CRM REST client
type Client struct {
	baseURL    string
	version    string
	authScheme string
	tokens     TokenProvider
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a CRM client
func NewClient(cfg ClientConfig, tokens TokenProvider, logger *zap.Logger) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		version:    cfg.APIVersion,
		authScheme: cfg.AuthScheme,
		tokens:     tokens,
		httpClient: httpClient,
		logger:     logger,
	}
}

// RecordResult is the per-record outcome the CRM reports for writes
type RecordResult struct {
	Code    string         `json:"code"`
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Action  string         `json:"action,omitempty"`
	Details map[string]any `json:"details"`
}

// ID returns the record id from the result details
func (r RecordResult) ID() string {
	if r.Details == nil {
		return ""
	}
	id, _ := r.Details["id"].(string)
	return id
}

type writeResponse struct {
	Data []RecordResult `json:"data"`
}

type apiError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  string         `json:"status"`
	Details map[string]any `json:"details"`
}

// InsertRecord creates a record in module and returns its id
func (c *Client) InsertRecord(ctx context.Context, module string, record Record) (string, error) {
	body := map[string]any{
		"data":    []Record{record},
		"trigger": []string{"workflow"},
	}
	result, err := c.write(ctx, "/"+module, body)
	if err != nil {
		return "", err
	}
	return result.ID(), nil
}

// UpsertRecord updates the record matching dupFields or inserts a new one.
// It returns the record id and the action the CRM took ("insert" or "update").
func (c *Client) UpsertRecord(ctx context.Context, module string, record Record, dupFields []string) (string, string, error) {
	body := map[string]any{
		"data":    []Record{record},
		"trigger": []string{"workflow"},
	}
	if len(dupFields) > 0 {
		body["duplicate_check_fields"] = dupFields
	}
	result, err := c.write(ctx, "/"+module+"/upsert", body)
	if err != nil {
		return "", "", err
	}
	return result.ID(), result.Action, nil
}

// AddNote attaches a note to an existing record
func (c *Client) AddNote(ctx context.Context, module, recordID, title, content string) error {
	body := map[string]any{
		"data": []map[string]string{{
			"Note_Title":   title,
			"Note_Content": content,
		}},
	}
	_, err := c.write(ctx, fmt.Sprintf("/%s/%s/Notes", module, recordID), body)
	return err
}

// Ping verifies credentials and connectivity, returning the CRM organization name
func (c *Client) Ping(ctx context.Context) (string, error) {
	var resp struct {
		Org []struct {
			CompanyName string `json:"company_name"`
		} `json:"org"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/org", nil, &resp); err != nil {
		return "", err
	}
	if len(resp.Org) == 0 {
		return "", appErrors.NewUpstreamError(serviceName, http.StatusOK, "organization missing from response", nil)
	}
	return resp.Org[0].CompanyName, nil
}

func (c *Client) write(ctx context.Context, path string, body any) (RecordResult, error) {
	var resp writeResponse
	if err := c.doRequest(ctx, http.MethodPost, path, body, &resp); err != nil {
		return RecordResult{}, err
	}
	if len(resp.Data) == 0 {
		return RecordResult{}, appErrors.NewUpstreamError(serviceName, http.StatusOK, "empty write response", nil)
	}
	result := resp.Data[0]
	if !strings.EqualFold(result.Code, "SUCCESS") {
		return result, recordError(http.StatusOK, result.Code, result.Message, result.Details)
	}
	return result, nil
}

func (c *Client) endpoint(path string) (string, error) {
	base := c.baseURL
	if base == "" {
		base = strings.TrimRight(c.tokens.APIDomain(), "/")
	}
	if base == "" {
		return "", appErrors.NewPermanentUpstreamError(serviceName, 0, "no API base URL configured or reported by the token endpoint")
	}
	return fmt.Sprintf("%s/crm/%s%s", base, c.version, path), nil
}

// doRequest sends an authenticated JSON request. A 401 drops the cached
// token and the request is sent once more with a fresh one.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, result any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return err
		}
		// endpoint is resolved after the token so a fresh api_domain is visible
		url, err := c.endpoint(path)
		if err != nil {
			return err
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", c.authScheme+" "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return appErrors.NewUpstreamError(serviceName, 0, "request failed", err)
		}
		respBytes, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return appErrors.NewUpstreamError(serviceName, resp.StatusCode, "failed to read response", err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			c.logger.Warn("CRM rejected access token, refreshing", zap.String("path", path))
			c.tokens.Invalidate()
			continue
		}
		if resp.StatusCode >= 400 {
			return responseError(resp.StatusCode, respBytes)
		}

		if result != nil && resp.StatusCode != http.StatusNoContent && len(respBytes) > 0 {
			if err := json.Unmarshal(respBytes, result); err != nil {
				return appErrors.NewUpstreamError(serviceName, resp.StatusCode, "failed to decode response", err)
			}
		}
		return nil
	}
}

// responseError converts an HTTP error response. Throttling and server-side
// failures are transient; everything else in the 4xx range is permanent.
func responseError(status int, body []byte) error {
	var write writeResponse
	if err := json.Unmarshal(body, &write); err == nil && len(write.Data) > 0 && write.Data[0].Code != "" {
		r := write.Data[0]
		if status < 500 && status != http.StatusTooManyRequests {
			return recordError(status, r.Code, r.Message, r.Details)
		}
	}

	message := strings.TrimSpace(string(body))
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Code != "" {
		message = apiErr.Code
		if apiErr.Message != "" {
			message += ": " + apiErr.Message
		}
	}

	if status >= 500 || status == http.StatusTooManyRequests {
		return appErrors.NewUpstreamError(serviceName, status, message, nil)
	}
	return appErrors.NewPermanentUpstreamError(serviceName, status, message)
}

func recordError(status int, code, message string, details map[string]any) error {
	msg := code
	if message != "" {
		msg += ": " + message
	}
	if field, ok := details["api_name"].(string); ok && field != "" {
		msg += " (field " + field + ")"
	}
	return appErrors.NewPermanentUpstreamError(serviceName, status, msg)
}
