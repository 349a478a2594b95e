package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/stefando/imageHostAWS/internal/model"
)

const (
	// UploadURLTTL is the validity window of signed upload URLs.
	UploadURLTTL = 300 * time.Second
	// DownloadURLTTL is the validity window of signed download URLs.
	DownloadURLTTL = 3600 * time.Second

	// Date-range sentinels used when only one end of the range is given.
	minCreatedAt = "0000-01-01T00:00:00Z"
	maxCreatedAt = "9999-12-31T23:59:59Z"

	defaultSignConcurrency = 8
	defaultPublishTimeout  = 2 * time.Second
)

// Operation names used in InternalError messages and metrics labels.
const (
	OpRequestSlot = "upload URL generation"
	OpConfirm     = "upload confirmation"
	OpList        = "list images"
	OpGet         = "get image"
	OpDelete      = "delete image"
)

// Service is the upload lifecycle manager. It owns the
// pending -> uploaded -> removed state machine and keeps metadata records
// aligned with what the object store actually holds.
type Service struct {
	objects ObjectStore
	meta    MetadataStore
	bucket  string

	logger    *slog.Logger
	publisher EventPublisher
	recorder  Recorder

	now             func() time.Time
	newID           func() string
	signConcurrency int
	publishTimeout  time.Duration
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the logger used for best-effort failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithRecorder sets the operation outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides item id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// WithSignConcurrency bounds parallel download-link signing in ListImages.
func WithSignConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.signConcurrency = n
		}
	}
}

// WithPublishTimeout bounds how long an operation waits on the event
// publisher before giving up on the event.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}

// NewService creates a lifecycle manager over the given collaborators.
// All objects live in bucket.
func NewService(objects ObjectStore, meta MetadataStore, bucket string, opts ...Option) *Service {
	s := &Service{
		objects:         objects,
		meta:            meta,
		bucket:          bucket,
		logger:          slog.Default(),
		publisher:       nopPublisher{},
		recorder:        nopRecorder{},
		now:             time.Now,
		newID:           uuid.NewString,
		signConcurrency: defaultSignConcurrency,
		publishTimeout:  defaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SlotRequest is the input of RequestUploadSlot.
type SlotRequest struct {
	OwnerID     string   `json:"owner_id"`
	Filename    string   `json:"filename"`
	ContentType string   `json:"content_type"`
	Caption     string   `json:"caption"`
	Tags        []string `json:"tags"`
}

// Slot is a freshly reserved upload location.
type Slot struct {
	ItemID    string `json:"item_id"`
	UploadURL string `json:"upload_url"`
	ExpiresIn int    `json:"expires_in"`
}

// Confirmation is the result of a successful ConfirmUpload.
type Confirmation struct {
	Status   string `json:"status"`
	ItemID   string `json:"item_id"`
	FileSize int64  `json:"file_size"`
}

// ListFilter narrows ListImages. Empty fields do not filter.
type ListFilter struct {
	OwnerID   string
	Tag       string
	StartDate string
	EndDate   string
}

// Image is a record enriched with a download link. DownloadURL is nil for
// pending records and when signing failed.
type Image struct {
	model.ImageRecord
	DownloadURL *string `json:"download_url"`
}

// ImageList is the result of ListImages.
type ImageList struct {
	Count  int      `json:"count"`
	Images []*Image `json:"images"`
}

// Deletion is the result of DeleteImage.
type Deletion struct {
	Deleted bool   `json:"deleted"`
	ItemID  string `json:"item_id"`
}

// RequestUploadSlot reserves an item id, signs an upload URL for its
// storage key and records the attempt as pending. The record is written
// before the URL is handed out.
func (s *Service) RequestUploadSlot(ctx context.Context, req SlotRequest) (_ *Slot, err error) {
	defer s.observe(OpRequestSlot, &err)

	// Validate required fields in order
	switch {
	case req.OwnerID == "":
		return nil, missingField("owner_id")
	case req.Filename == "":
		return nil, missingField("filename")
	case req.ContentType == "":
		return nil, missingField("content_type")
	}

	// Derive identity and storage location once
	itemID := s.newID()
	key := model.StorageKey(req.OwnerID, itemID, req.Filename)

	// Sign the upload URL
	url, err := s.objects.SignUploadURL(ctx, s.bucket, key, req.ContentType, UploadURLTTL)
	if err != nil {
		return nil, &InternalError{Op: OpRequestSlot, Err: fmt.Errorf("failed to sign upload URL: %w", err)}
	}

	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}
	rec := &model.ImageRecord{
		OwnerID:     req.OwnerID,
		ItemID:      itemID,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		StorageKey:  key,
		Status:      model.StatusPending,
		CreatedAt:   model.FormatTime(s.now()),
		Caption:     req.Caption,
		Tags:        tags,
	}

	// Persist the pending record before the URL leaves the service
	if err := s.meta.Put(ctx, rec); err != nil {
		return nil, &InternalError{Op: OpRequestSlot, Err: fmt.Errorf("failed to store record: %w", err)}
	}

	s.publish(ctx, model.EventPending, rec)

	return &Slot{
		ItemID:    itemID,
		UploadURL: url,
		ExpiresIn: int(UploadURLTTL / time.Second),
	}, nil
}

// ConfirmUpload checks that the object for a record exists and marks the
// record uploaded with the observed size. Calling it again re-reads the
// object and writes the same values.
func (s *Service) ConfirmUpload(ctx context.Context, ownerID, itemID string) (_ *Confirmation, err error) {
	defer s.observe(OpConfirm, &err)

	switch {
	case ownerID == "":
		return nil, missingField("owner_id")
	case itemID == "":
		return nil, missingField("item_id")
	}

	rec, err := s.lookup(ctx, OpConfirm, ownerID, itemID)
	if err != nil {
		return nil, err
	}

	size, err := s.promote(ctx, rec)
	switch {
	case errors.Is(err, model.ErrObjectNotFound):
		return nil, &ValidationError{Message: "file not found in storage"}
	case errors.Is(err, model.ErrRecordNotFound):
		// Deleted between lookup and update
		return nil, &NotFoundError{OwnerID: ownerID, ItemID: itemID}
	case err != nil:
		return nil, &InternalError{Op: OpConfirm, Err: err}
	}

	return &Confirmation{Status: "success", ItemID: itemID, FileSize: size}, nil
}

// ListImages returns an owner's records, optionally filtered by tag and
// creation date range, each with a download link when uploaded.
func (s *Service) ListImages(ctx context.Context, f ListFilter) (_ *ImageList, err error) {
	defer s.observe(OpList, &err)

	if f.OwnerID == "" {
		return nil, missingField("owner_id")
	}

	records, err := s.meta.QueryByOwner(ctx, f.OwnerID)
	if err != nil {
		return nil, &InternalError{Op: OpList, Err: fmt.Errorf("failed to query records: %w", err)}
	}

	// Apply filters
	filtered := records[:0:0]
	for _, rec := range records {
		if f.Tag != "" && !rec.HasTag(f.Tag) {
			continue
		}
		if !inDateRange(rec.CreatedAt, f.StartDate, f.EndDate) {
			continue
		}
		filtered = append(filtered, rec)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ItemID < filtered[j].ItemID })

	// Sign download links in parallel; a failed link is left nil
	images := make([]*Image, len(filtered))
	var g errgroup.Group
	g.SetLimit(s.signConcurrency)
	for i, rec := range filtered {
		g.Go(func() error {
			images[i] = s.enrich(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	return &ImageList{Count: len(images), Images: images}, nil
}

// GetImage returns one record with its download link.
func (s *Service) GetImage(ctx context.Context, ownerID, itemID string) (_ *Image, err error) {
	defer s.observe(OpGet, &err)

	switch {
	case ownerID == "":
		return nil, missingField("owner_id")
	case itemID == "":
		return nil, missingField("item_id")
	}

	rec, err := s.lookup(ctx, OpGet, ownerID, itemID)
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, rec), nil
}

// DeleteImage removes a record. For uploaded records the backing object
// is deleted first on a best-effort basis; a failure there is logged and
// the record is removed anyway.
func (s *Service) DeleteImage(ctx context.Context, ownerID, itemID string) (_ *Deletion, err error) {
	defer s.observe(OpDelete, &err)

	switch {
	case ownerID == "":
		return nil, missingField("owner_id")
	case itemID == "":
		return nil, missingField("item_id")
	}

	rec, err := s.lookup(ctx, OpDelete, ownerID, itemID)
	if err != nil {
		return nil, err
	}

	if rec.Status == model.StatusUploaded && rec.StorageKey != "" {
		if err := s.objects.Delete(ctx, s.bucket, rec.StorageKey); err != nil {
			s.logger.Warn("failed to delete object, keeping orphan",
				"owner_id", ownerID, "item_id", itemID, "storage_key", rec.StorageKey, "error", err)
		}
	}

	if err := s.meta.Delete(ctx, ownerID, itemID); err != nil {
		return nil, &InternalError{Op: OpDelete, Err: fmt.Errorf("failed to delete record: %w", err)}
	}

	s.publish(ctx, model.EventDeleted, rec)

	return &Deletion{Deleted: true, ItemID: itemID}, nil
}

// lookup fetches a record, mapping absence to NotFoundError and any other
// failure to InternalError for op.
func (s *Service) lookup(ctx context.Context, op, ownerID, itemID string) (*model.ImageRecord, error) {
	rec, err := s.meta.Get(ctx, ownerID, itemID)
	if errors.Is(err, model.ErrRecordNotFound) {
		return nil, &NotFoundError{OwnerID: ownerID, ItemID: itemID}
	}
	if err != nil {
		return nil, &InternalError{Op: op, Err: fmt.Errorf("failed to get record: %w", err)}
	}
	return rec, nil
}

// promote reconciles a record with the object store: when the object
// exists the record becomes uploaded with the observed size. It returns
// model.ErrObjectNotFound when the object is absent.
func (s *Service) promote(ctx context.Context, rec *model.ImageRecord) (int64, error) {
	exists, err := s.objects.Exists(ctx, s.bucket, rec.StorageKey)
	if err != nil {
		return 0, fmt.Errorf("failed to check object: %w", err)
	}
	if !exists {
		return 0, model.ErrObjectNotFound
	}

	info, err := s.objects.Stat(ctx, s.bucket, rec.StorageKey)
	if err != nil {
		// Stat also reports model.ErrObjectNotFound if the object vanished
		return 0, fmt.Errorf("failed to stat object: %w", err)
	}

	upd := model.RecordUpdate{Status: model.StatusUploaded, FileSize: info.Size}
	if err := s.meta.UpdateFields(ctx, rec.OwnerID, rec.ItemID, upd); err != nil {
		return 0, fmt.Errorf("failed to update record: %w", err)
	}

	upd.Apply(rec)
	s.publish(ctx, model.EventUploaded, rec)
	return info.Size, nil
}

// enrich attaches a download link to uploaded records.
func (s *Service) enrich(ctx context.Context, rec *model.ImageRecord) *Image {
	img := &Image{ImageRecord: *rec}
	if img.Tags == nil {
		img.Tags = []string{}
	}
	if rec.Status != model.StatusUploaded || rec.StorageKey == "" {
		return img
	}

	url, err := s.objects.SignDownloadURL(ctx, s.bucket, rec.StorageKey, DownloadURLTTL)
	if err != nil {
		s.logger.Warn("failed to sign download URL",
			"owner_id", rec.OwnerID, "item_id", rec.ItemID, "error", err)
		return img
	}
	img.DownloadURL = &url
	return img
}

func (s *Service) publish(ctx context.Context, typ model.EventType, rec *model.ImageRecord) {
	event := model.Event{
		Type:       typ,
		OwnerID:    rec.OwnerID,
		ItemID:     rec.ItemID,
		StorageKey: rec.StorageKey,
		Status:     rec.Status,
		FileSize:   rec.FileSize,
		OccurredAt: model.FormatTime(s.now()),
	}
	ctx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event",
			"type", typ, "owner_id", rec.OwnerID, "item_id", rec.ItemID, "error", err)
	}
}

func (s *Service) observe(op string, errp *error) {
	s.recorder.ObserveOperation(op, Outcome(*errp))
}

// Outcome classifies an operation error for metrics labels.
func Outcome(err error) string {
	var (
		verr *ValidationError
		nerr *NotFoundError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &verr):
		return "validation"
	case errors.As(err, &nerr):
		return "not_found"
	default:
		return "internal"
	}
}

// inDateRange compares fixed-width timestamps as strings. An empty range
// matches everything; a half-open range is closed with a sentinel.
func inDateRange(createdAt, start, end string) bool {
	if start == "" && end == "" {
		return true
	}
	if start == "" {
		start = minCreatedAt
	}
	if end == "" {
		end = maxCreatedAt
	}
	return start <= createdAt && createdAt <= end
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, model.Event) error { return nil }

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string) {}
func (nopRecorder) ObserveReaped(string, int)       {}
