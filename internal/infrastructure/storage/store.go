// Package storage hands uploaded quote attachments to document storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/ideinstein/leadbridge/internal/domain"
	appErrors "github.com/ideinstein/leadbridge/pkg/errors"
)

// sniffLen is how many leading bytes are inspected to detect the content type
const sniffLen = 3072

// DocumentStore persists a document and returns where it can be found
type DocumentStore interface {
	Upload(ctx context.Context, doc Document) (domain.Attachment, error)
}

// Document is an upload that passed Sniff
type Document struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

var allowedTypes = []string{
	"application/pdf",
	"image/png",
	"image/jpeg",
	"image/webp",
	"text/plain",
	"text/csv",
	"application/zip",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
}

// CAD exports are usually detected as generic binary or text; they are
// accepted by extension when the content is one of these container types.
var cadContainerTypes = []string{
	"application/octet-stream",
	"text/plain",
	"image/vnd.dwg",
	"image/vnd.dxf",
	"model/stl",
}

var cadExtensions = map[string]bool{
	".step": true, ".stp": true, ".iges": true, ".igs": true, ".stl": true,
	".dwg": true, ".dxf": true, ".sldprt": true, ".sldasm": true, ".f3d": true, ".3mf": true,
}

var blockedExtensions = map[string]bool{
	".exe": true, ".bat": true, ".cmd": true, ".com": true, ".msi": true, ".sh": true,
	".js": true, ".vbs": true, ".ps1": true, ".jar": true, ".html": true, ".htm": true, ".svg": true,
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Sniff validates an upload by size, extension and detected content type.
// The returned Document replays the inspected bytes, so r must not be read again.
func Sniff(name string, r io.Reader, size, maxBytes int64) (Document, error) {
	name = SafeName(name)
	if size > maxBytes {
		return Document{}, appErrors.NewTooLargeError(name, maxBytes)
	}

	ext := strings.ToLower(filepath.Ext(name))
	if blockedExtensions[ext] {
		return Document{}, appErrors.NewValidationError("files", "file type not allowed: "+name)
	}

	header := make([]byte, sniffLen)
	n, err := io.ReadFull(r, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Document{}, appErrors.NewInternalError("failed to read upload", err)
	}
	header = header[:n]
	if n == 0 {
		return Document{}, appErrors.NewValidationError("files", "empty file: "+name)
	}

	mt := mimetype.Detect(header)
	if !isAllowed(mt, ext) {
		return Document{}, appErrors.NewValidationError("files", "file type not allowed: "+name+" ("+mt.String()+")")
	}

	return Document{
		Name:        name,
		ContentType: strings.TrimSpace(strings.SplitN(mt.String(), ";", 2)[0]),
		Size:        size,
		Body:        io.MultiReader(bytes.NewReader(header), r),
	}, nil
}

func isAllowed(mt *mimetype.MIME, ext string) bool {
	for _, t := range allowedTypes {
		if mt.Is(t) {
			return true
		}
	}
	if cadExtensions[ext] {
		for _, t := range cadContainerTypes {
			if mt.Is(t) {
				return true
			}
		}
	}
	return false
}

// SafeName strips directories and characters that are awkward in storage paths
func SafeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "file"
	}
	if len(name) > 120 {
		ext := filepath.Ext(name)
		if len(ext) > 20 {
			ext = ""
		}
		name = name[:120-len(ext)] + ext
	}
	return name
}
