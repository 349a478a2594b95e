package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stefando/imageHostAWS/internal/model"
)

// SQLiteStore keeps records in a single SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path must not be empty")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent requests
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode = WAL;`,
		`CREATE TABLE IF NOT EXISTS images (
			owner_id TEXT NOT NULL,
			item_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			content_type TEXT NOT NULL,
			storage_key TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			caption TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '[]',
			file_size INTEGER,
			PRIMARY KEY (owner_id, item_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_images_pending ON images(status, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const imageColumns = `owner_id, item_id, filename, content_type, storage_key, status, created_at, caption, tags, file_size`

func (s *SQLiteStore) Put(ctx context.Context, rec *model.ImageRecord) error {
	tags, err := json.Marshal(nonNilTags(rec.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	var size sql.NullInt64
	if rec.FileSize != nil {
		size = sql.NullInt64{Int64: *rec.FileSize, Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO images (`+imageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.OwnerID, rec.ItemID, rec.Filename, rec.ContentType, rec.StorageKey,
		string(rec.Status), rec.CreatedAt, rec.Caption, string(tags), size,
	)
	if err != nil {
		return fmt.Errorf("insert image: %w", err)
	}
	return nil
}

func (s *SQLiteStore) QueryByOwner(ctx context.Context, ownerID string) ([]*model.ImageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+imageColumns+` FROM images WHERE owner_id = ? ORDER BY item_id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	return scanRows(rows)
}

func (s *SQLiteStore) Get(ctx context.Context, ownerID, itemID string) (*model.ImageRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+imageColumns+` FROM images WHERE owner_id = ? AND item_id = ?`, ownerID, itemID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) UpdateFields(ctx context.Context, ownerID, itemID string, upd model.RecordUpdate) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE images SET status = ?, file_size = ? WHERE owner_id = ? AND item_id = ?`,
		string(upd.Status), upd.FileSize, ownerID, itemID)
	if err != nil {
		return fmt.Errorf("update image: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update image: %w", err)
	}
	if n == 0 {
		return model.ErrRecordNotFound
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, ownerID, itemID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM images WHERE owner_id = ? AND item_id = ?`, ownerID, itemID); err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ScanPending(ctx context.Context, createdBefore string) ([]*model.ImageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+imageColumns+` FROM images WHERE status = ? AND created_at < ? ORDER BY owner_id, item_id`,
		string(model.StatusPending), createdBefore)
	if err != nil {
		return nil, fmt.Errorf("scan pending images: %w", err)
	}
	return scanRows(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.ImageRecord, error) {
	var (
		rec    model.ImageRecord
		status string
		tags   string
		size   sql.NullInt64
	)
	if err := row.Scan(&rec.OwnerID, &rec.ItemID, &rec.Filename, &rec.ContentType, &rec.StorageKey,
		&status, &rec.CreatedAt, &rec.Caption, &tags, &size); err != nil {
		return nil, err
	}
	rec.Status = model.Status(status)
	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if size.Valid {
		v := size.Int64
		rec.FileSize = &v
	}
	return &rec, nil
}

func scanRows(rows *sql.Rows) ([]*model.ImageRecord, error) {
	defer rows.Close()

	var out []*model.ImageRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate images: %w", err)
	}
	return out, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
