// Package memstore provides in-memory metadata and object stores for local
// development and tests.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/stefando/imageHostAWS/internal/model"
)

type recordKey struct {
	owner string
	item  string
}

// Metadata is an in-memory metadata store. Records are copied on the way
// in and out.
type Metadata struct {
	mu      sync.RWMutex
	records map[recordKey]*model.ImageRecord

	// PutErr, QueryErr, GetErr, UpdateErr and DeleteErr are returned by the
	// matching method when set.
	PutErr    error
	QueryErr  error
	GetErr    error
	UpdateErr error
	DeleteErr error
}

// NewMetadata returns an empty store.
func NewMetadata() *Metadata {
	return &Metadata{records: make(map[recordKey]*model.ImageRecord)}
}

func (m *Metadata) Put(_ context.Context, rec *model.ImageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return m.PutErr
	}
	m.records[recordKey{rec.OwnerID, rec.ItemID}] = rec.Clone()
	return nil
}

func (m *Metadata) QueryByOwner(_ context.Context, ownerID string) ([]*model.ImageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	var out []*model.ImageRecord
	for k, rec := range m.records {
		if k.owner == ownerID {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func (m *Metadata) Get(_ context.Context, ownerID, itemID string) (*model.ImageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	rec, ok := m.records[recordKey{ownerID, itemID}]
	if !ok {
		return nil, model.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (m *Metadata) UpdateFields(_ context.Context, ownerID, itemID string, upd model.RecordUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	rec, ok := m.records[recordKey{ownerID, itemID}]
	if !ok {
		return model.ErrRecordNotFound
	}
	upd.Apply(rec)
	return nil
}

func (m *Metadata) Delete(_ context.Context, ownerID, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.records, recordKey{ownerID, itemID})
	return nil
}

func (m *Metadata) ScanPending(_ context.Context, createdBefore string) ([]*model.ImageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	var out []*model.ImageRecord
	for _, rec := range m.records {
		if rec.Status == model.StatusPending && rec.CreatedAt < createdBefore {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OwnerID != out[j].OwnerID {
			return out[i].OwnerID < out[j].OwnerID
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out, nil
}

// Len returns the number of stored records.
func (m *Metadata) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
