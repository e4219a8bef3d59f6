package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bryan-buckman/aurora/internal/apperr"
	"github.com/bryan-buckman/aurora/internal/model"
)

const entryColumns = `id, feed_id, title, url, author, content, summary, published_at,
	is_read, is_starred, created_at, updated_at`

// FindEntry looks up an entry by its dedup key.
func (db *DB) FindEntry(ctx context.Context, feedID, url string) (*model.Entry, error) {
	var entry model.Entry
	err := db.conn.GetContext(ctx, &entry,
		db.conn.Rebind(`SELECT `+entryColumns+` FROM entries WHERE feed_id = ? AND url = ?`), feedID, url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entry %s: %w", url, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find entry %s: %w", url, err)
	}
	return &entry, nil
}

// InsertEntry appends a new entry. A duplicate dedup key is an error.
func (db *DB) InsertEntry(ctx context.Context, e *model.Entry) error {
	_, err := db.conn.ExecContext(ctx, db.conn.Rebind(`
		INSERT INTO entries (id, feed_id, title, url, author, content, summary, published_at,
			is_read, is_starred, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.FeedID, e.Title, e.URL, e.Author, e.Content, e.Summary, utcPtr(e.PublishedAt),
		e.IsRead, e.IsStarred, e.CreatedAt.UTC(), e.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("entry %s: %w", e.URL, apperr.ErrConflict)
		}
		return fmt.Errorf("insert entry %s: %w", e.URL, err)
	}
	return nil
}

// ListEntries returns a feed's entries, newest first.
func (db *DB) ListEntries(ctx context.Context, feedID string) ([]model.Entry, error) {
	var entries []model.Entry
	err := db.conn.SelectContext(ctx, &entries, db.conn.Rebind(`
		SELECT `+entryColumns+` FROM entries WHERE feed_id = ?
		ORDER BY COALESCE(published_at, created_at) DESC`), feedID)
	if err != nil {
		return nil, fmt.Errorf("list entries for feed %s: %w", feedID, err)
	}
	return entries, nil
}
