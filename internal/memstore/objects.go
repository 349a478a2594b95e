package memstore

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/stefando/imageHostAWS/internal/model"
)

type objectKey struct {
	bucket string
	key    string
}

// Objects is an in-memory object store. Signed URLs point at BaseURL and
// carry the method and expiry as query parameters; nothing serves them.
type Objects struct {
	BaseURL string

	mu      sync.RWMutex
	objects map[objectKey]model.ObjectInfo
	deletes []string

	// SignUploadErr, SignDownloadErr, ExistsErr, StatErr and DeleteErr are
	// returned by the matching method when set.
	SignUploadErr   error
	SignDownloadErr error
	ExistsErr       error
	StatErr         error
	DeleteErr       error

	now func() time.Time
}

// NewObjects returns an empty store signing URLs under baseURL.
func NewObjects(baseURL string) *Objects {
	return &Objects{
		BaseURL: baseURL,
		objects: make(map[objectKey]model.ObjectInfo),
		now:     time.Now,
	}
}

// SetObject simulates a completed upload.
func (o *Objects) SetObject(bucket, key string, size int64, contentType string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[objectKey{bucket, key}] = model.ObjectInfo{
		Size:         size,
		ContentType:  contentType,
		LastModified: o.now().UTC(),
	}
}

// Deleted returns the keys passed to successful Delete calls, in order.
func (o *Objects) Deleted() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]string(nil), o.deletes...)
}

func (o *Objects) SignUploadURL(_ context.Context, bucket, key, contentType string, ttl time.Duration) (string, error) {
	if o.SignUploadErr != nil {
		return "", o.SignUploadErr
	}
	return o.sign("PUT", bucket, key, contentType, ttl), nil
}

func (o *Objects) SignDownloadURL(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if o.SignDownloadErr != nil {
		return "", o.SignDownloadErr
	}
	return o.sign("GET", bucket, key, "", ttl), nil
}

func (o *Objects) Exists(_ context.Context, bucket, key string) (bool, error) {
	if o.ExistsErr != nil {
		return false, o.ExistsErr
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.objects[objectKey{bucket, key}]
	return ok, nil
}

func (o *Objects) Stat(_ context.Context, bucket, key string) (*model.ObjectInfo, error) {
	if o.StatErr != nil {
		return nil, o.StatErr
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	info, ok := o.objects[objectKey{bucket, key}]
	if !ok {
		return nil, fmt.Errorf("stat %s/%s: %w", bucket, key, model.ErrObjectNotFound)
	}
	return &info, nil
}

func (o *Objects) Delete(_ context.Context, bucket, key string) error {
	if o.DeleteErr != nil {
		return o.DeleteErr
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.objects, objectKey{bucket, key})
	o.deletes = append(o.deletes, key)
	return nil
}

func (o *Objects) sign(method, bucket, key, contentType string, ttl time.Duration) string {
	q := url.Values{}
	q.Set("method", method)
	q.Set("expires", o.now().Add(ttl).UTC().Format(time.RFC3339))
	if contentType != "" {
		q.Set("content-type", contentType)
	}
	return fmt.Sprintf("%s/%s/%s?%s", o.BaseURL, bucket, key, q.Encode())
}
