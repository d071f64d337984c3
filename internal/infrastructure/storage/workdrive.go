package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ideinstein/leadbridge/internal/domain"
	appErrors "github.com/ideinstein/leadbridge/pkg/errors"
	"github.com/ideinstein/leadbridge/pkg/utils"
)

const workDriveService = "document storage"

// TokenSource supplies OAuth access tokens shared with the CRM
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	Invalidate()
}

// WorkDriveConfig locates the upload API and the target folder
type WorkDriveConfig struct {
	BaseURL    string
	ParentID   string
	AuthScheme string
	HTTPClient *http.Client
}

// WorkDriveStore uploads documents into a folder of the vendor's document storage
type WorkDriveStore struct {
	baseURL    string
	parentID   string
	authScheme string
	tokens     TokenSource
	httpClient *http.Client
	logger     *zap.Logger
}

// NewWorkDriveStore creates a WorkDriveStore
func NewWorkDriveStore(cfg WorkDriveConfig, tokens TokenSource, logger *zap.Logger) *WorkDriveStore {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &WorkDriveStore{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		parentID:   cfg.ParentID,
		authScheme: cfg.AuthScheme,
		tokens:     tokens,
		httpClient: httpClient,
		logger:     logger,
	}
}

type uploadResponse struct {
	Data []struct {
		Attributes struct {
			ResourceID string `json:"resource_id"`
			Permalink  string `json:"Permalink"`
			FileName   string `json:"FileName"`
		} `json:"attributes"`
	} `json:"data"`
}

// Upload sends doc as a multipart upload. A rejected token is refreshed once.
func (s *WorkDriveStore) Upload(ctx context.Context, doc Document) (domain.Attachment, error) {
	// Buffered so the body can be resent after a token refresh; Sniff already capped the size
	content, err := io.ReadAll(doc.Body)
	if err != nil {
		return domain.Attachment{}, appErrors.NewInternalError("failed to read upload", err)
	}
	// A short prefix keeps equally named drawings from different leads apart
	remoteName := utils.ShortID(8) + "-" + SafeName(doc.Name)

	for attempt := 0; ; attempt++ {
		token, err := s.tokens.AccessToken(ctx)
		if err != nil {
			return domain.Attachment{}, err
		}

		body, contentType, err := s.multipartBody(remoteName, doc.ContentType, content)
		if err != nil {
			return domain.Attachment{}, appErrors.NewInternalError("failed to build upload", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/v1/upload", body)
		if err != nil {
			return domain.Attachment{}, appErrors.NewInternalError("failed to create request", err)
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", s.authScheme+" "+token)

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return domain.Attachment{}, appErrors.NewUpstreamError(workDriveService, 0, "upload failed", err)
		}
		respBytes, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return domain.Attachment{}, appErrors.NewUpstreamError(workDriveService, resp.StatusCode, "failed to read response", err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			s.logger.Warn("Document storage rejected access token, refreshing")
			s.tokens.Invalidate()
			continue
		}
		if resp.StatusCode >= 400 {
			msg := strings.TrimSpace(string(respBytes))
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return domain.Attachment{}, appErrors.NewUpstreamError(workDriveService, resp.StatusCode, msg, nil)
			}
			return domain.Attachment{}, appErrors.NewPermanentUpstreamError(workDriveService, resp.StatusCode, msg)
		}

		var parsed uploadResponse
		if err := json.Unmarshal(respBytes, &parsed); err != nil {
			return domain.Attachment{}, appErrors.NewUpstreamError(workDriveService, resp.StatusCode, "failed to decode response", err)
		}
		if len(parsed.Data) == 0 || parsed.Data[0].Attributes.ResourceID == "" {
			return domain.Attachment{}, appErrors.NewUpstreamError(workDriveService, resp.StatusCode, "upload response missing resource id", nil)
		}

		attrs := parsed.Data[0].Attributes
		s.logger.Info("Document uploaded",
			zap.String("name", doc.Name),
			zap.String("resource_id", attrs.ResourceID),
			zap.Int("size", len(content)))

		return domain.Attachment{
			Name:        doc.Name,
			ContentType: doc.ContentType,
			Size:        int64(len(content)),
			ResourceID:  attrs.ResourceID,
			URL:         attrs.Permalink,
		}, nil
	}
}

func (s *WorkDriveStore) multipartBody(name, contentType string, content []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"parent_id", s.parentID},
		{"filename", name},
		{"override-name-exist", "false"},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="content"; filename="%s"`, name))
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(content); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
