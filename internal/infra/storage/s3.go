// Package storage archives rendered exports in S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/marketingguide/mgai-api/internal/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("storage")

// Options configures the archive.
type Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// Archive implements port.ExportArchive on S3.
type Archive struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	logger  *zap.Logger
}

// NewArchive builds the S3 client. Static credentials and a custom
// endpoint (MinIO, Supabase Storage S3) are used when provided; otherwise
// the default AWS credential chain applies.
func NewArchive(ctx context.Context, opts Options, logger *zap.Logger) (*Archive, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	loaders := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if opts.AccessKeyID != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			endpoint := opts.Endpoint
			if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
				endpoint = "https://" + endpoint
			}
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &Archive{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  opts.Bucket,
		logger:  logger,
	}, nil
}

// Upload stores data under key.
func (a *Archive) Upload(ctx context.Context, key, contentType string, data []byte) error {
	ctx, span := tracer.Start(ctx, "S3.Upload")
	defer span.End()
	span.SetAttributes(attribute.String("s3.key", key), attribute.Int("s3.size", len(data)))

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		a.logger.Warn("storage: upload failed", zap.String("key", key), zap.Error(err))
		return &domain.ErrExternalService{Service: "s3", Err: err}
	}
	return nil
}

// PresignGet returns a temporary download URL for key.
func (a *Archive) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	ctx, span := tracer.Start(ctx, "S3.PresignGet")
	defer span.End()

	req, err := a.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", &domain.ErrExternalService{Service: "s3", Err: err}
	}
	return req.URL, nil
}
