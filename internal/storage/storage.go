// Package storage persists split halves in an S3-compatible object store.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/example/petri-split/internal/config"
	"github.com/example/petri-split/internal/logging"
)

// ContentType is the media type of every uploaded half.
const ContentType = "image/jpeg"

// ObjectPutter is the subset of the S3 client used by the uploader.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader writes objects into a single bucket and returns their public URLs.
type Uploader struct {
	client  ObjectPutter
	cfg     config.StorageConfig
	baseURL string
	logger  *zap.Logger
}

// NewS3Client builds an S3 client from the storage configuration. A custom
// endpoint switches to path-style addressing for S3-compatible stores.
func NewS3Client(ctx context.Context, cfg config.StorageConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, logging.NewOperationError("storage.load_config", "", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// NewUploader constructs an uploader for the configured bucket.
func NewUploader(client ObjectPutter, cfg config.StorageConfig, logger *zap.Logger) *Uploader {
	return &Uploader{
		client:  client,
		cfg:     cfg,
		baseURL: publicBaseURL(cfg),
		logger:  logger.Named("storage"),
	}
}

// Upload stores data under name and returns the URL it can be retrieved from.
func (u *Uploader) Upload(ctx context.Context, name string, data []byte) (string, error) {
	key := u.Key(name)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(ContentType),
	})
	if err != nil {
		wrapped := logging.NewOperationError("storage.put_object", "", err)
		u.logger.Error("upload failed", zap.Error(wrapped), zap.String("bucket", u.cfg.Bucket), zap.String("key", key))
		return "", wrapped
	}

	u.logger.Debug("object stored", zap.String("key", key), zap.Int("bytes", len(data)))
	return u.URL(key), nil
}

// URL returns the public address of key with every path segment escaped.
func (u *Uploader) URL(key string) string {
	segments := strings.Split(key, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return u.baseURL + "/" + strings.Join(segments, "/")
}

// Key returns the object key name is stored under.
func (u *Uploader) Key(name string) string {
	name = strings.TrimLeft(name, "/")
	if u.cfg.Prefix == "" {
		return name
	}
	return path.Join(strings.Trim(u.cfg.Prefix, "/"), name)
}

func publicBaseURL(cfg config.StorageConfig) string {
	switch {
	case cfg.PublicBaseURL != "":
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	case cfg.Endpoint != "":
		return strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
}
