package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/stefando/imageHostAWS/internal/model"
)

const badgerPrefix = "img/"

// BadgerStore keeps records as JSON values in an embedded Badger database
// under keys img/<owner>/<item>, with both parts path-escaped so a '/'
// inside an id cannot shift the boundary.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (creating if needed) the database in dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create badger directory: %w", err)
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // Disable badger logging
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close closes the database.
func (b *BadgerStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func ownerPrefix(ownerID string) []byte {
	return []byte(badgerPrefix + url.PathEscape(ownerID) + "/")
}

func badgerKey(ownerID, itemID string) []byte {
	return append(ownerPrefix(ownerID), url.PathEscape(itemID)...)
}

func (b *BadgerStore) Put(_ context.Context, rec *model.ImageRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(rec.OwnerID, rec.ItemID), data)
	})
}

func (b *BadgerStore) QueryByOwner(_ context.Context, ownerID string) ([]*model.ImageRecord, error) {
	return b.scan(ownerPrefix(ownerID), func(*model.ImageRecord) bool { return true })
}

func (b *BadgerStore) Get(_ context.Context, ownerID, itemID string) (*model.ImageRecord, error) {
	var rec model.ImageRecord
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(ownerID, itemID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, model.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return &rec, nil
}

func (b *BadgerStore) UpdateFields(_ context.Context, ownerID, itemID string, upd model.RecordUpdate) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		key := badgerKey(ownerID, itemID)
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		var rec model.ImageRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}

		upd.Apply(&rec)
		data, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.ErrRecordNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	return nil
}

func (b *BadgerStore) Delete(_ context.Context, ownerID, itemID string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(ownerID, itemID))
	})
}

func (b *BadgerStore) ScanPending(_ context.Context, createdBefore string) ([]*model.ImageRecord, error) {
	return b.scan([]byte(badgerPrefix), func(rec *model.ImageRecord) bool {
		return rec.Status == model.StatusPending && rec.CreatedAt < createdBefore
	})
}

func (b *BadgerStore) scan(prefix []byte, keep func(*model.ImageRecord) bool) ([]*model.ImageRecord, error) {
	var out []*model.ImageRecord
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec model.ImageRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("failed to decode %s: %w", it.Item().Key(), err)
			}
			if keep(&rec) {
				out = append(out, &rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
