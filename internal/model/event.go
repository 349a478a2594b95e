package model

import "time"

// ObjectInfo is what an object store reports about a stored object.
type ObjectInfo struct {
	Size         int64
	ContentType  string
	LastModified time.Time
}

// EventType names a lifecycle transition.
type EventType string

const (
	EventPending  EventType = "image.pending"
	EventUploaded EventType = "image.uploaded"
	EventDeleted  EventType = "image.deleted"
	EventReaped   EventType = "image.reaped"
)

// Event is published after a record changes state.
type Event struct {
	Type       EventType `json:"type"`
	OwnerID    string    `json:"owner_id"`
	ItemID     string    `json:"item_id"`
	StorageKey string    `json:"storage_key"`
	Status     Status    `json:"status,omitempty"`
	FileSize   *int64    `json:"file_size,omitempty"`
	OccurredAt string    `json:"occurred_at"`
}
