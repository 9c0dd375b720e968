package storage

import (
	"path/filepath"
	"strings"

	"dospill/internal/pkg/errs"
)

const (
	// MaxImageSizeMB is the maximum accepted image size in megabytes.
	MaxImageSizeMB = 5

	// MaxImageSize is MaxImageSizeMB in bytes.
	MaxImageSize = MaxImageSizeMB * 1024 * 1024
)

// extToMIME lists the accepted image extensions and the type each must declare.
var extToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// ValidateImage checks a file before any upload URL is requested for it.
func ValidateImage(fileName, mimeType string, size int64) *errs.CustomError {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if !strings.HasPrefix(mimeType, "image/") {
		return errs.NewError(errs.ErrNotAnImage)
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	expected, ok := extToMIME[ext]
	if !ok || expected != mimeType {
		return errs.NewError(errs.ErrNotAnImage)
	}

	if size <= 0 {
		return errs.NewError(errs.ErrInvalidParams)
	}
	if size > MaxImageSize {
		return errs.NewError(errs.ErrFileSizeTooLarge)
	}
	return nil
}
