package upload_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stefando/imageHostAWS/internal/memstore"
	"github.com/stefando/imageHostAWS/internal/model"
	"github.com/stefando/imageHostAWS/internal/upload"
)

const testBucket = "images-test"

type capturePublisher struct {
	mu     sync.Mutex
	events []model.Event
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, e model.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *capturePublisher) types() []model.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type captureRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
	reaped   map[string]int
}

func (r *captureRecorder) ObserveOperation(op, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[op+"/"+outcome]++
}

func (r *captureRecorder) ObserveReaped(action string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reaped[action] += n
}

type fixture struct {
	svc      *upload.Service
	meta     *memstore.Metadata
	objects  *memstore.Objects
	events   *capturePublisher
	recorder *captureRecorder
	now      time.Time
}

func newFixture(t *testing.T, opts ...upload.Option) *fixture {
	t.Helper()

	f := &fixture{
		meta:     memstore.NewMetadata(),
		objects:  memstore.NewObjects("http://objects.test"),
		events:   &capturePublisher{},
		recorder: &captureRecorder{outcomes: map[string]int{}, reaped: map[string]int{}},
		now:      time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}

	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		f.now = f.now.Add(time.Second)
		return f.now
	}

	base := []upload.Option{
		upload.WithClock(clock),
		upload.WithPublisher(f.events),
		upload.WithRecorder(f.recorder),
	}
	f.svc = upload.NewService(f.objects, f.meta, testBucket, append(base, opts...)...)
	return f
}

func (f *fixture) slot(t *testing.T, owner, filename string, tags ...string) *upload.Slot {
	t.Helper()
	slot, err := f.svc.RequestUploadSlot(context.Background(), upload.SlotRequest{
		OwnerID:     owner,
		Filename:    filename,
		ContentType: "image/jpeg",
		Tags:        tags,
	})
	require.NoError(t, err)
	return slot
}

func (f *fixture) uploaded(t *testing.T, owner, filename string, size int64, tags ...string) *upload.Slot {
	t.Helper()
	slot := f.slot(t, owner, filename, tags...)
	rec, err := f.meta.Get(context.Background(), owner, slot.ItemID)
	require.NoError(t, err)
	f.objects.SetObject(testBucket, rec.StorageKey, size, "image/jpeg")
	_, err = f.svc.ConfirmUpload(context.Background(), owner, slot.ItemID)
	require.NoError(t, err)
	return slot
}

func TestRequestUploadSlotCreatesPendingRecord(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		slot := f.slot(t, "u1", "cat.png", "pets")
		require.False(t, seen[slot.ItemID], "duplicate item id %s", slot.ItemID)
		seen[slot.ItemID] = true
		require.Equal(t, 300, slot.ExpiresIn)
		require.NotEmpty(t, slot.UploadURL)

		rec, err := f.meta.Get(ctx, "u1", slot.ItemID)
		require.NoError(t, err)
		require.Equal(t, model.StatusPending, rec.Status)
		require.Equal(t, "u1/"+slot.ItemID+".png", rec.StorageKey)
		require.Equal(t, "image/jpeg", rec.ContentType)
		require.Equal(t, []string{"pets"}, rec.Tags)
		require.Nil(t, rec.FileSize)
		require.Len(t, rec.CreatedAt, len(model.TimeFormat))
	}
	require.Equal(t, 20, f.meta.Len())
}

func TestRequestUploadSlotDefaultsExtensionAndTags(t *testing.T) {
	t.Parallel()
	f := newFixture(t, upload.WithIDGenerator(func() string { return "fixed" }))

	slot := f.slot(t, "u1", "noext")
	require.Equal(t, "fixed", slot.ItemID)

	rec, err := f.meta.Get(context.Background(), "u1", "fixed")
	require.NoError(t, err)
	require.Equal(t, "u1/fixed.jpg", rec.StorageKey)
	require.NotNil(t, rec.Tags)
	require.Empty(t, rec.Tags)
}

func TestRequestUploadSlotValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  upload.SlotRequest
		want string
	}{
		{
			name: "all missing reports owner first",
			req:  upload.SlotRequest{},
			want: "missing required field: owner_id",
		},
		{
			name: "missing filename",
			req:  upload.SlotRequest{OwnerID: "u1", ContentType: "image/png"},
			want: "missing required field: filename",
		},
		{
			name: "missing content type",
			req:  upload.SlotRequest{OwnerID: "u1", Filename: "a.png"},
			want: "missing required field: content_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)

			_, err := f.svc.RequestUploadSlot(context.Background(), tt.req)

			var verr *upload.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tt.want, verr.Message)
			require.Zero(t, f.meta.Len())
		})
	}
}

func TestRequestUploadSlotCollaboratorFailures(t *testing.T) {
	t.Parallel()

	t.Run("signing", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.objects.SignUploadErr = errors.New("no credentials")

		_, err := f.svc.RequestUploadSlot(context.Background(), upload.SlotRequest{
			OwnerID: "u1", Filename: "a.png", ContentType: "image/png",
		})

		var ierr *upload.InternalError
		require.ErrorAs(t, err, &ierr)
		require.Contains(t, err.Error(), "upload URL generation failed")
		require.Contains(t, err.Error(), "no credentials")
		require.Zero(t, f.meta.Len())
		require.Empty(t, f.events.types())
	})

	t.Run("store write", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.meta.PutErr = errors.New("throttled")

		slot, err := f.svc.RequestUploadSlot(context.Background(), upload.SlotRequest{
			OwnerID: "u1", Filename: "a.png", ContentType: "image/png",
		})

		require.Nil(t, slot)
		var ierr *upload.InternalError
		require.ErrorAs(t, err, &ierr)
		require.Contains(t, err.Error(), "throttled")
		require.Equal(t, 1, f.recorder.outcomes[upload.OpRequestSlot+"/internal"])
	})
}

func TestConfirmUploadIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	slot := f.slot(t, "u1", "cat.jpg")
	f.objects.SetObject(testBucket, "u1/"+slot.ItemID+".jpg", 4096, "image/jpeg")

	first, err := f.svc.ConfirmUpload(ctx, "u1", slot.ItemID)
	require.NoError(t, err)
	second, err := f.svc.ConfirmUpload(ctx, "u1", slot.ItemID)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, &upload.Confirmation{Status: "success", ItemID: slot.ItemID, FileSize: 4096}, first)

	rec, err := f.meta.Get(ctx, "u1", slot.ItemID)
	require.NoError(t, err)
	require.Equal(t, model.StatusUploaded, rec.Status)
	require.EqualValues(t, 4096, *rec.FileSize)
	require.Equal(t, "cat.jpg", rec.Filename)
}

func TestConfirmUploadZeroByteObject(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	slot := f.slot(t, "u1", "empty.gif")
	f.objects.SetObject(testBucket, "u1/"+slot.ItemID+".gif", 0, "image/gif")

	conf, err := f.svc.ConfirmUpload(ctx, "u1", slot.ItemID)
	require.NoError(t, err)
	require.Zero(t, conf.FileSize)

	rec, err := f.meta.Get(ctx, "u1", slot.ItemID)
	require.NoError(t, err)
	require.Equal(t, model.StatusUploaded, rec.Status)
	require.NotNil(t, rec.FileSize)
}

func TestConfirmUploadObjectMissingKeepsPending(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	slot := f.slot(t, "u1", "cat.jpg")

	_, err := f.svc.ConfirmUpload(ctx, "u1", slot.ItemID)

	var verr *upload.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "file not found in storage", verr.Message)

	rec, err := f.meta.Get(ctx, "u1", slot.ItemID)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, rec.Status)
	require.Nil(t, rec.FileSize)
}

func TestConfirmUploadValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.svc.ConfirmUpload(context.Background(), "", "i1")
	var verr *upload.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "missing required field: owner_id", verr.Message)

	_, err = f.svc.ConfirmUpload(context.Background(), "u1", "")
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "missing required field: item_id", verr.Message)
}

func TestConfirmUploadStoreFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	slot := f.slot(t, "u1", "cat.jpg")
	f.objects.SetObject(testBucket, "u1/"+slot.ItemID+".jpg", 10, "image/jpeg")

	f.objects.StatErr = errors.New("head failed")
	_, err := f.svc.ConfirmUpload(ctx, "u1", slot.ItemID)
	var ierr *upload.InternalError
	require.ErrorAs(t, err, &ierr)
	require.Contains(t, err.Error(), "upload confirmation failed")
	require.Contains(t, err.Error(), "head failed")

	f.objects.StatErr = nil
	f.meta.UpdateErr = model.ErrRecordNotFound
	_, err = f.svc.ConfirmUpload(ctx, "u1", slot.ItemID)
	var nerr *upload.NotFoundError
	require.ErrorAs(t, err, &nerr)
}

func TestUnknownRecordIsNotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	calls := map[string]func() error{
		"confirm": func() error { _, err := f.svc.ConfirmUpload(ctx, "u1", "nope"); return err },
		"get":     func() error { _, err := f.svc.GetImage(ctx, "u1", "nope"); return err },
		"delete":  func() error { _, err := f.svc.DeleteImage(ctx, "u1", "nope"); return err },
	}
	for name, call := range calls {
		err := call()
		var nerr *upload.NotFoundError
		require.ErrorAs(t, err, &nerr, name)
		require.Equal(t, "image not found", err.Error(), name)
		require.Equal(t, "not_found", upload.Outcome(err))
	}
}

func TestListImagesFilters(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	a := f.uploaded(t, "u1", "a.jpg", 100, "x", "y")
	b := f.slot(t, "u1", "b.jpg", "y")
	c := f.uploaded(t, "u1", "c.jpg", 300, "x")
	f.slot(t, "u2", "d.jpg", "x")

	all, err := f.svc.ListImages(ctx, upload.ListFilter{OwnerID: "u1"})
	require.NoError(t, err)
	require.Equal(t, 3, all.Count)
	require.Len(t, all.Images, 3)

	tagged, err := f.svc.ListImages(ctx, upload.ListFilter{OwnerID: "u1", Tag: "x"})
	require.NoError(t, err)
	require.Equal(t, 2, tagged.Count)
	ids := []string{tagged.Images[0].ItemID, tagged.Images[1].ItemID}
	require.ElementsMatch(t, []string{a.ItemID, c.ItemID}, ids)

	none, err := f.svc.ListImages(ctx, upload.ListFilter{OwnerID: "u1", Tag: "X"})
	require.NoError(t, err)
	require.Zero(t, none.Count)
	require.NotNil(t, none.Images)

	for _, img := range all.Images {
		if img.ItemID == b.ItemID {
			require.Nil(t, img.DownloadURL)
			continue
		}
		require.NotNil(t, img.DownloadURL)
		require.Contains(t, *img.DownloadURL, img.StorageKey)
	}
}

func TestListImagesDateRange(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.slot(t, "u1", fmt.Sprintf("%d.jpg", i))
	}
	recs, err := f.meta.QueryByOwner(ctx, "u1")
	require.NoError(t, err)
	created := make([]string, 0, len(recs))
	for _, r := range recs {
		created = append(created, r.CreatedAt)
	}
	// Fixture clock advances one second per call, so timestamps are distinct
	first, last := created[0], created[0]
	for _, c := range created {
		if c < first {
			first = c
		}
		if c > last {
			last = c
		}
	}

	tests := []struct {
		name   string
		filter upload.ListFilter
		want   int
	}{
		{name: "inclusive bounds", filter: upload.ListFilter{StartDate: first, EndDate: last}, want: 3},
		{name: "start only", filter: upload.ListFilter{StartDate: last}, want: 1},
		{name: "end only", filter: upload.ListFilter{EndDate: first}, want: 1},
		{name: "before everything", filter: upload.ListFilter{EndDate: "2000-01-01T00:00:00Z"}, want: 0},
		{name: "date prefix", filter: upload.ListFilter{StartDate: "2024-05-01"}, want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.filter.OwnerID = "u1"
			list, err := f.svc.ListImages(ctx, tt.filter)
			require.NoError(t, err)
			require.Equal(t, tt.want, list.Count)
		})
	}
}

func TestListImagesSigningFailureYieldsNilLinks(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.uploaded(t, "u1", "a.jpg", 1)
	f.uploaded(t, "u1", "b.jpg", 2)
	f.objects.SignDownloadErr = errors.New("signer down")

	list, err := f.svc.ListImages(ctx, upload.ListFilter{OwnerID: "u1"})
	require.NoError(t, err)
	require.Equal(t, 2, list.Count)
	for _, img := range list.Images {
		require.Nil(t, img.DownloadURL)
	}

	img, err := f.svc.GetImage(ctx, "u1", list.Images[0].ItemID)
	require.NoError(t, err)
	require.Nil(t, img.DownloadURL)
	require.Equal(t, model.StatusUploaded, img.Status)
}

func TestListImagesRequiresOwner(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.svc.ListImages(context.Background(), upload.ListFilter{Tag: "x"})
	var verr *upload.ValidationError
	require.ErrorAs(t, err, &verr)

	f.meta.QueryErr = errors.New("scan failed")
	_, err = f.svc.ListImages(context.Background(), upload.ListFilter{OwnerID: "u1"})
	require.EqualError(t, err, "list images failed: failed to query records: scan failed")
}

func TestDeleteImagePendingSkipsObjectDelete(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	slot := f.slot(t, "u1", "cat.jpg")
	f.objects.DeleteErr = errors.New("must not be called")

	res, err := f.svc.DeleteImage(ctx, "u1", slot.ItemID)
	require.NoError(t, err)
	require.Equal(t, &upload.Deletion{Deleted: true, ItemID: slot.ItemID}, res)
	require.Empty(t, f.objects.Deleted())

	_, err = f.meta.Get(ctx, "u1", slot.ItemID)
	require.ErrorIs(t, err, model.ErrRecordNotFound)
}

func TestDeleteImageUploadedRemovesObject(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	slot := f.uploaded(t, "u1", "cat.jpg", 5)

	_, err := f.svc.DeleteImage(ctx, "u1", slot.ItemID)
	require.NoError(t, err)
	require.Equal(t, []string{"u1/" + slot.ItemID + ".jpg"}, f.objects.Deleted())

	exists, err := f.objects.Exists(ctx, testBucket, "u1/"+slot.ItemID+".jpg")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestDeleteImageObjectFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	slot := f.uploaded(t, "u1", "cat.jpg", 5)
	f.objects.DeleteErr = errors.New("access denied")

	res, err := f.svc.DeleteImage(ctx, "u1", slot.ItemID)
	require.NoError(t, err)
	require.True(t, res.Deleted)

	_, err = f.svc.GetImage(ctx, "u1", slot.ItemID)
	var nerr *upload.NotFoundError
	require.ErrorAs(t, err, &nerr)
}

func TestDeleteImageRecordFailureIsInternal(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	slot := f.slot(t, "u1", "cat.jpg")
	f.meta.DeleteErr = errors.New("conditional check")

	_, err := f.svc.DeleteImage(context.Background(), "u1", slot.ItemID)
	var ierr *upload.InternalError
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, upload.OpDelete, ierr.Op)
}

func TestPublisherFailureDoesNotFailOperations(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.events.err = errors.New("broker unavailable")

	slot := f.uploaded(t, "u1", "cat.jpg", 7)
	_, err := f.svc.DeleteImage(context.Background(), "u1", slot.ItemID)
	require.NoError(t, err)

	require.Equal(t,
		[]model.EventType{model.EventPending, model.EventUploaded, model.EventDeleted},
		f.events.types())
}

func TestUploadLifecycleEndToEnd(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	// Reserve a slot
	slot, err := f.svc.RequestUploadSlot(ctx, upload.SlotRequest{
		OwnerID: "u1", Filename: "cat.jpg", ContentType: "image/jpeg",
	})
	require.NoError(t, err)

	rec, err := f.meta.Get(ctx, "u1", slot.ItemID)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, rec.Status)
	require.Equal(t, "u1/"+slot.ItemID+".jpg", rec.StorageKey)

	// Client uploads directly to storage
	f.objects.SetObject(testBucket, rec.StorageKey, 2048, "image/jpeg")

	conf, err := f.svc.ConfirmUpload(ctx, "u1", slot.ItemID)
	require.NoError(t, err)
	require.Equal(t, &upload.Confirmation{Status: "success", ItemID: slot.ItemID, FileSize: 2048}, conf)

	rec, err = f.meta.Get(ctx, "u1", slot.ItemID)
	require.NoError(t, err)
	require.Equal(t, model.StatusUploaded, rec.Status)

	list, err := f.svc.ListImages(ctx, upload.ListFilter{OwnerID: "u1"})
	require.NoError(t, err)
	require.Equal(t, 1, list.Count)
	require.NotNil(t, list.Images[0].DownloadURL)

	del, err := f.svc.DeleteImage(ctx, "u1", slot.ItemID)
	require.NoError(t, err)
	require.True(t, del.Deleted)

	_, err = f.svc.GetImage(ctx, "u1", slot.ItemID)
	var nerr *upload.NotFoundError
	require.ErrorAs(t, err, &nerr)

	require.Equal(t, 1, f.recorder.outcomes[upload.OpRequestSlot+"/ok"])
	require.Equal(t, 1, f.recorder.outcomes[upload.OpConfirm+"/ok"])
	require.Equal(t, 1, f.recorder.outcomes[upload.OpGet+"/not_found"])
}

type stalledPublisher struct{}

func (stalledPublisher) Publish(ctx context.Context, _ model.Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestStalledPublisherIsBounded(t *testing.T) {
	t.Parallel()
	f := newFixture(t, upload.WithPublisher(stalledPublisher{}), upload.WithPublishTimeout(20*time.Millisecond))

	start := time.Now()
	slot := f.slot(t, "u1", "a.jpg")
	_, err := f.svc.DeleteImage(context.Background(), "u1", slot.ItemID)
	require.NoError(t, err)
	require.Less(t, time.Since(start), time.Second)
}
