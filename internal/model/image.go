// Package model defines the image metadata record shared by the lifecycle
// manager and every store implementation.
package model

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Status is the upload state of an image record. There is no deleted
// state: deletion removes the record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusUploaded Status = "uploaded"
)

// TimeFormat is the fixed-width ISO-8601 UTC layout used for CreatedAt.
// Date-range filtering compares timestamps as strings, which only works
// while every stored value has the same width.
const TimeFormat = "2006-01-02T15:04:05.000000Z"

// DefaultExtension is used for storage keys when the filename has no dot.
const DefaultExtension = "jpg"

var (
	// ErrRecordNotFound is returned by metadata stores for absent records.
	ErrRecordNotFound = errors.New("record not found")

	// ErrObjectNotFound is returned by object store gateways for absent objects.
	ErrObjectNotFound = errors.New("object not found")
)

// ImageRecord is one upload attempt, keyed by (OwnerID, ItemID).
type ImageRecord struct {
	OwnerID     string   `json:"owner_id" dynamodbav:"owner_id"`
	ItemID      string   `json:"item_id" dynamodbav:"item_id"`
	Filename    string   `json:"filename" dynamodbav:"filename"`
	ContentType string   `json:"content_type" dynamodbav:"content_type"`
	StorageKey  string   `json:"storage_key" dynamodbav:"storage_key"`
	Status      Status   `json:"status" dynamodbav:"status"`
	CreatedAt   string   `json:"created_at" dynamodbav:"created_at"`
	Caption     string   `json:"caption" dynamodbav:"caption"`
	Tags        []string `json:"tags" dynamodbav:"tags"`

	// FileSize is set only once the record is uploaded.
	FileSize *int64 `json:"file_size,omitempty" dynamodbav:"file_size,omitempty"`
}

// RecordUpdate is the partial update applied by UpdateFields. Only the
// upload status and observed size may change after creation.
type RecordUpdate struct {
	Status   Status
	FileSize int64
}

// Apply mutates r in place with the update, leaving every other field alone.
func (u RecordUpdate) Apply(r *ImageRecord) {
	r.Status = u.Status
	size := u.FileSize
	r.FileSize = &size
}

// HasTag reports whether tag is one of the record's tags (exact match).
func (r *ImageRecord) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so stores never hand out shared slices.
func (r *ImageRecord) Clone() *ImageRecord {
	c := *r
	c.Tags = slices.Clone(r.Tags)
	if r.FileSize != nil {
		size := *r.FileSize
		c.FileSize = &size
	}
	return &c
}

// Extension returns the substring after the last dot of filename, or
// DefaultExtension when there is no dot. Case is preserved.
func Extension(filename string) string {
	i := strings.LastIndex(filename, ".")
	if i < 0 {
		return DefaultExtension
	}
	return filename[i+1:]
}

// StorageKey derives the object key {owner}/{item}.{ext}. It is computed
// once when the record is created and never recomputed.
func StorageKey(ownerID, itemID, filename string) string {
	return fmt.Sprintf("%s/%s.%s", ownerID, itemID, Extension(filename))
}

// FormatTime renders t in TimeFormat.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}
