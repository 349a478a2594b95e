package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/stefando/imageHostAWS/internal/model"
)

// MinioConfig holds the connection settings of an S3-compatible server.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Secure    bool
}

// MinioGateway implements the gateway against any S3-compatible server
// with minio-go.
type MinioGateway struct {
	client *minio.Client
}

// NewMinioGateway connects to the server described by cfg. The region is
// required so presigning never has to look up the bucket location.
func NewMinioGateway(cfg MinioConfig) (*MinioGateway, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.Secure,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinioGateway{client: client}, nil
}

// EnsureBucket creates bucket if it does not exist yet.
func (g *MinioGateway) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := g.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := g.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return nil
}

// SignUploadURL returns a presigned PUT URL. The content type is signed as
// a header, so the client must send the same Content-Type.
func (g *MinioGateway) SignUploadURL(ctx context.Context, bucket, key, contentType string, ttl time.Duration) (string, error) {
	headers := http.Header{}
	headers.Set("Content-Type", contentType)
	u, err := g.client.PresignHeader(ctx, http.MethodPut, bucket, key, ttl, url.Values{}, headers)
	if err != nil {
		return "", fmt.Errorf("failed to presign put object %s: %w", key, err)
	}
	return u.String(), nil
}

// SignDownloadURL returns a presigned GET URL.
func (g *MinioGateway) SignDownloadURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	u, err := g.client.PresignedGetObject(ctx, bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign get object %s: %w", key, err)
	}
	return u.String(), nil
}

// Exists reports whether an object is stored at key.
func (g *MinioGateway) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := g.Stat(ctx, bucket, key)
	if errors.Is(err, model.ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Stat returns the object's size, content type and modification time.
func (g *MinioGateway) Stat(ctx context.Context, bucket, key string) (*model.ObjectInfo, error) {
	info, err := g.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		switch minio.ToErrorResponse(err).Code {
		case "NoSuchKey", "NotFound":
			return nil, fmt.Errorf("stat object %s: %w", key, model.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to stat object %s: %w", key, err)
	}
	return &model.ObjectInfo{
		Size:         info.Size,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}, nil
}

// Delete removes the object at key.
func (g *MinioGateway) Delete(ctx context.Context, bucket, key string) error {
	if err := g.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}
