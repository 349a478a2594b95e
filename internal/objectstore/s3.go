// Package objectstore implements the object store gateway over S3 and
// S3-compatible servers.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/stefando/imageHostAWS/internal/model"
)

// S3Gateway signs URLs and inspects objects with the AWS SDK.
type S3Gateway struct {
	client    *s3.Client
	presigner *s3.PresignClient

	// Optional owner-scoped signing
	scoped *ScopedCredentials
	logger *slog.Logger
}

// S3Option customizes an S3Gateway.
type S3Option func(*S3Gateway)

// WithScopedCredentials signs URLs with credentials assumed per owner
// instead of the client's own credentials.
func WithScopedCredentials(c *ScopedCredentials) S3Option {
	return func(g *S3Gateway) { g.scoped = c }
}

// WithS3Logger sets the gateway logger.
func WithS3Logger(l *slog.Logger) S3Option {
	return func(g *S3Gateway) { g.logger = l }
}

// NewS3Gateway creates a gateway over client.
func NewS3Gateway(client *s3.Client, opts ...S3Option) *S3Gateway {
	g := &S3Gateway{
		client:    client,
		presigner: s3.NewPresignClient(client),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SignUploadURL returns a presigned PUT URL bound to contentType.
func (g *S3Gateway) SignUploadURL(ctx context.Context, bucket, key, contentType string, ttl time.Duration) (string, error) {
	presigner, err := g.presignerFor(ctx, key, ttl)
	if err != nil {
		return "", err
	}

	req, err := presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign put object %s: %w", key, err)
	}
	return req.URL, nil
}

// SignDownloadURL returns a presigned GET URL.
func (g *S3Gateway) SignDownloadURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	presigner, err := g.presignerFor(ctx, key, ttl)
	if err != nil {
		return "", err
	}

	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign get object %s: %w", key, err)
	}
	return req.URL, nil
}

// Exists reports whether an object is stored at key.
func (g *S3Gateway) Exists(ctx context.Context, bucket, key string) (bool, error) {
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
func (g *S3Gateway) Stat(ctx context.Context, bucket, key string) (*model.ObjectInfo, error) {
	out, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("head object %s: %w", key, model.ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to head object %s: %w", key, err)
	}

	return &model.ObjectInfo{
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// Delete removes the object at key. Deleting an absent key succeeds.
func (g *S3Gateway) Delete(ctx context.Context, bucket, key string) error {
	_, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// presignerFor returns the presigner to use for key. With scoped
// credentials configured a client is built from the key owner's cached
// credentials, valid for at least ttl.
func (g *S3Gateway) presignerFor(ctx context.Context, key string, ttl time.Duration) (*s3.PresignClient, error) {
	if g.scoped == nil {
		return g.presigner, nil
	}

	owner := ownerOf(key)
	creds, err := g.scoped.ForOwner(ctx, owner, ttl)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("using owner-scoped credentials", "owner_id", owner, "expires", creds.Expires)

	// Create a client with the assumed role credentials
	ownerClient := s3.New(g.client.Options(), func(o *s3.Options) {
		o.Credentials = aws.NewCredentialsCache(
			aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
				return creds, nil
			}),
		)
	})
	return s3.NewPresignClient(ownerClient), nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
