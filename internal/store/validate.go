package store

import (
	"path/filepath"
	"strings"

	"github.com/4xmen/peyk/internal/apperr"
)

// MaxFileSize is the hard cap on a single attachment.
const MaxFileSize = 100 * 1024 * 1024

// allowedContentTypes is the MIME allow-list for attachments. Anything
// not listed is rejected before persistence.
var allowedContentTypes = map[string]bool{
	"image/jpeg":         true,
	"image/png":          true,
	"image/gif":          true,
	"image/webp":         true,
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       true,
	"application/vnd.ms-powerpoint":                                           true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"text/plain":      true,
	"text/csv":        true,
	"application/zip": true,
	"audio/mpeg":      true,
	"video/mp4":       true,
}

// blockedExtensions are rejected regardless of the declared MIME type;
// the declared type is client input and cannot be trusted.
var blockedExtensions = map[string]bool{
	".exe": true,
	".bat": true,
	".cmd": true,
	".com": true,
	".msi": true,
	".scr": true,
	".pif": true,
	".sh":  true,
	".js":  true,
	".vbs": true,
	".jar": true,
	".dll": true,
}

// AttachmentUpload is an attachment as received from the client, before
// any validation or persistence.
type AttachmentUpload struct {
	FileName    string
	ContentType string
	Size        int64
	Content     []byte
}

// ValidateUpload enforces the size cap, the MIME allow-list, and the
// extension blacklist. It runs before anything is persisted.
func ValidateUpload(u AttachmentUpload) error {
	if u.FileName == "" {
		return apperr.Upload("file is required")
	}

	if u.Size > MaxFileSize {
		return apperr.Upload("file too large")
	}

	ext := strings.ToLower(filepath.Ext(u.FileName))
	if blockedExtensions[ext] {
		return apperr.Upload("dangerous file extension")
	}

	if !allowedContentTypes[u.ContentType] {
		return apperr.Upload("file type not allowed")
	}

	return nil
}
