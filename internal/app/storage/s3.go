package storage

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"dospill/internal/pkg/logx"
	"dospill/internal/pkg/randx"
)

// S3Provider presigns PUT URLs against an S3-compatible endpoint.
type S3Provider struct {
	bucket  string
	presign *s3.PresignClient
}

// NewS3Provider builds the SDK client with static credentials and a custom endpoint.
func NewS3Provider(cfg ServiceConfig) (*S3Provider, error) {
	sdkCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKeyID,
			cfg.S3SecretAccessKey,
			"",
		)),
		config.WithRegion("auto"),
	)
	if err != nil {
		logx.Error(err, "Failed to load AWS SDK config")
		return nil, errors.New("failed to initialize S3 client configuration")
	}

	client := s3.NewFromConfig(sdkCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		o.UsePathStyle = true
	})

	return &S3Provider{
		bucket:  cfg.S3BucketName,
		presign: s3.NewPresignClient(client),
	}, nil
}

func (p *S3Provider) Name() string { return ProviderS3 }

// UploadURL presigns a PUT for req.Key, or for a fresh key under uploads/ when empty.
// Content type and length are signed only when given, so the client must send the same.
func (p *S3Provider) UploadURL(ctx context.Context, req UploadRequest) (*Upload, error) {
	key := req.Key
	if key == "" {
		key = "uploads/" + randx.DocumentID()
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}
	if req.MimeType != "" {
		input.ContentType = aws.String(req.MimeType)
	}
	if req.Size > 0 {
		input.ContentLength = aws.Int64(req.Size)
	}

	resp, err := p.presign.PresignPutObject(ctx, input, s3.WithPresignExpires(PresignedURLDuration))
	if err != nil {
		logx.Error(err, "Failed to generate presigned upload URL", "key", key)
		return nil, errors.New("failed to generate presigned upload URL")
	}

	return &Upload{
		UploadURL: resp.URL,
		FileKey:   key,
		Method:    resp.Method,
	}, nil
}
