/*
Package storage issues upload URLs for object storage.

Clients never send image bytes through this server: they ask for an upload URL, then
PUT the file straight to the provider. Two providers exist: Backblaze B2 through its
native two-step exchange, and any S3-compatible store through a presigned PUT.
*/
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotConfigured is returned when the selected provider lacks credentials.
var ErrNotConfigured = errors.New("storage: upload provider is not configured")

// PresignedURLDuration is how long an issued S3 upload URL stays valid.
const PresignedURLDuration = 5 * time.Minute

// Provider names accepted in ServiceConfig.Provider.
const (
	ProviderB2 = "b2"
	ProviderS3 = "s3"
)

// ServiceConfig holds the credentials for every supported provider.
type ServiceConfig struct {
	Provider string

	B2KeyID    string
	B2AppKey   string
	B2BucketID string
	B2APIURL   string

	S3BucketName      string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// UploadRequest describes the file about to be uploaded. All fields are optional;
// providers that need an object key generate one when Key is empty.
type UploadRequest struct {
	Key      string
	MimeType string
	Size     int64
}

// Upload is what a client needs to send the file.
type Upload struct {
	UploadURL          string `json:"uploadUrl"`
	AuthorizationToken string `json:"authorizationToken,omitempty"`
	BucketID           string `json:"bucketId,omitempty"`
	FileKey            string `json:"fileKey,omitempty"`
	Method             string `json:"method"`
}

// Provider hands out upload URLs.
type Provider interface {
	Name() string
	UploadURL(ctx context.Context, req UploadRequest) (*Upload, error)
}

// NewProvider returns the provider named in cfg. Missing credentials are not an error
// here: the returned provider reports ErrNotConfigured on use.
func NewProvider(cfg ServiceConfig) (Provider, error) {
	switch cfg.Provider {
	case ProviderS3:
		if cfg.S3BucketName == "" || cfg.S3Endpoint == "" || cfg.S3AccessKeyID == "" || cfg.S3SecretAccessKey == "" {
			return unconfigured(ProviderS3), nil
		}
		return NewS3Provider(cfg)
	case ProviderB2, "":
		if cfg.B2KeyID == "" || cfg.B2AppKey == "" || cfg.B2BucketID == "" {
			return unconfigured(ProviderB2), nil
		}
		return NewB2Provider(cfg, nil), nil
	default:
		return nil, errors.New("storage: unknown upload provider " + cfg.Provider)
	}
}

type unconfigured string

func (u unconfigured) Name() string { return string(u) }

func (u unconfigured) UploadURL(context.Context, UploadRequest) (*Upload, error) {
	return nil, ErrNotConfigured
}
