package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ideinstein/leadbridge/internal/domain"
	appErrors "github.com/ideinstein/leadbridge/pkg/errors"
)

// LocalStore keeps documents on the local filesystem, for development and
// deployments without a document-storage account.
type LocalStore struct {
	dir     string
	urlBase string
}

// NewLocalStore stores files under dir; urlBase prefixes the returned URLs
func NewLocalStore(dir, urlBase string) *LocalStore {
	return &LocalStore{dir: dir, urlBase: urlBase}
}

// Dir returns the directory files are written to
func (s *LocalStore) Dir() string {
	return s.dir
}

// Upload writes doc under a collision-free name
func (s *LocalStore) Upload(ctx context.Context, doc Document) (domain.Attachment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Attachment{}, err
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return domain.Attachment{}, appErrors.NewInternalError("failed to create upload directory", err)
	}

	filename := fmt.Sprintf("%d-%s", time.Now().UnixNano(), SafeName(doc.Name))
	path := filepath.Join(s.dir, filename)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return domain.Attachment{}, appErrors.NewInternalError("failed to create file", err)
	}
	written, err := io.Copy(f, doc.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return domain.Attachment{}, appErrors.NewInternalError("failed to save file", err)
	}

	return domain.Attachment{
		Name:        doc.Name,
		ContentType: doc.ContentType,
		Size:        written,
		ResourceID:  filename,
		URL:         s.urlBase + "/" + filename,
	}, nil
}
