package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/media_cache/internal/content"
)

// ContentRepository stores content records in SQLite. It implements
// content.Ledger.
type ContentRepository struct {
	db *sql.DB
}

func NewContentRepository(dbConn *sql.DB) *ContentRepository {
	return &ContentRepository{db: dbConn}
}

// Get returns the record for key, or content.ErrNotFound.
func (r *ContentRepository) Get(ctx context.Context, key content.Key) (*content.Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, movie_id, source, torrent_id, file_path, media_type, created_at
		 FROM content WHERE movie_id = ? AND source = ?`,
		key.MovieID, key.Source,
	)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, content.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return rec, nil
}

// Insert adds a new record. A duplicate key is a caller bug: replacement
// must tear the old record down first.
func (r *ContentRepository) Insert(ctx context.Context, rec *content.Record) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO content (id, movie_id, source, torrent_id, file_path, media_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.Key.MovieID, rec.Key.Source,
		rec.TorrentID, rec.FilePath, rec.MediaType,
		rec.CreatedAt.Format(time.RFC3339),
	)

	return err
}

// Delete removes the record for key. Returns content.ErrNotFound when no row
// matched, so callers can tell eviction races from real deletes.
func (r *ContentRepository) Delete(ctx context.Context, key content.Key) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM content WHERE movie_id = ? AND source = ?`,
		key.MovieID, key.Source,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return content.ErrNotFound
	}

	return nil
}

// All returns every active record. Used at boot to re-arm eviction timers.
func (r *ContentRepository) All(ctx context.Context) ([]*content.Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, movie_id, source, torrent_id, file_path, media_type, created_at FROM content`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*content.Record

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*content.Record, error) {
	var (
		rec       content.Record
		id        string
		createdAt string
	)

	if err := s.Scan(&id, &rec.Key.MovieID, &rec.Key.Source,
		&rec.TorrentID, &rec.FilePath, &rec.MediaType, &createdAt); err != nil {
		return nil, err
	}

	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid record id %q: %w", id, err)
	}

	rec.ID = parsedID

	rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
	}

	return &rec, nil
}
