package upload

import (
	"context"
	"time"

	"github.com/stefando/imageHostAWS/internal/model"
)

type (
	// ObjectStore issues signed URLs and answers questions about stored
	// objects. Stat returns model.ErrObjectNotFound for absent objects.
	ObjectStore interface {
		SignUploadURL(ctx context.Context, bucket, key, contentType string, ttl time.Duration) (string, error)
		SignDownloadURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
		Exists(ctx context.Context, bucket, key string) (bool, error)
		Stat(ctx context.Context, bucket, key string) (*model.ObjectInfo, error)
		Delete(ctx context.Context, bucket, key string) error
	}

	// MetadataStore is a per-owner keyed record store. Get and UpdateFields
	// return model.ErrRecordNotFound for absent records.
	MetadataStore interface {
		Put(ctx context.Context, rec *model.ImageRecord) error
		QueryByOwner(ctx context.Context, ownerID string) ([]*model.ImageRecord, error)
		Get(ctx context.Context, ownerID, itemID string) (*model.ImageRecord, error)
		UpdateFields(ctx context.Context, ownerID, itemID string, upd model.RecordUpdate) error
		Delete(ctx context.Context, ownerID, itemID string) error

		// ScanPending returns pending records across all owners whose
		// CreatedAt sorts before createdBefore.
		ScanPending(ctx context.Context, createdBefore string) ([]*model.ImageRecord, error)
	}

	// EventPublisher delivers lifecycle events. Delivery is best-effort.
	EventPublisher interface {
		Publish(ctx context.Context, event model.Event) error
	}

	// Recorder observes operation outcomes for metrics.
	Recorder interface {
		ObserveOperation(operation, outcome string)
		ObserveReaped(action string, count int)
	}
)
