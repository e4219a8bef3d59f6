package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bryan-buckman/aurora/internal/apperr"
	"github.com/bryan-buckman/aurora/internal/model"
)

const feedColumns = `id, url, title, category, update_interval, last_fetched_at,
	last_status, error_count, created_at, updated_at`

// CreateFeed adds a new feed. The title defaults to the URL.
func (db *DB) CreateFeed(ctx context.Context, url, title string, category *string) (*model.Feed, error) {
	if title == "" {
		title = url
	}
	now := time.Now().UTC()
	feed := &model.Feed{
		ID:        uuid.NewString(),
		URL:       url,
		Title:     title,
		Category:  category,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := db.conn.ExecContext(ctx, db.conn.Rebind(`
		INSERT INTO feeds (id, url, title, category, error_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)`),
		feed.ID, feed.URL, feed.Title, feed.Category, feed.CreatedAt, feed.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("feed %s: %w", url, apperr.ErrConflict)
		}
		return nil, fmt.Errorf("insert feed %s: %w", url, err)
	}
	return feed, nil
}

// GetOrCreateFeed finds a feed by URL, or creates it.
func (db *DB) GetOrCreateFeed(ctx context.Context, url, title string) (*model.Feed, bool, error) {
	var feed model.Feed
	err := db.conn.GetContext(ctx, &feed, db.conn.Rebind(`SELECT `+feedColumns+` FROM feeds WHERE url = ?`), url)
	if errors.Is(err, sql.ErrNoRows) {
		created, err := db.CreateFeed(ctx, url, title, nil)
		return created, err == nil, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("find feed %s: %w", url, err)
	}
	return &feed, false, nil
}

// GetFeedByID returns a feed or an error wrapping apperr.ErrNotFound.
func (db *DB) GetFeedByID(ctx context.Context, id string) (*model.Feed, error) {
	var feed model.Feed
	err := db.conn.GetContext(ctx, &feed, db.conn.Rebind(`SELECT `+feedColumns+` FROM feeds WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feed %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get feed %s: %w", id, err)
	}
	return &feed, nil
}

// ListFeeds returns all feeds ordered by title.
func (db *DB) ListFeeds(ctx context.Context) ([]model.Feed, error) {
	var feeds []model.Feed
	if err := db.conn.SelectContext(ctx, &feeds, `SELECT `+feedColumns+` FROM feeds ORDER BY title`); err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	return feeds, nil
}

// ListFeedsForRefresh returns feeds whose error count is below maxErrors,
// oldest subscription first.
func (db *DB) ListFeedsForRefresh(ctx context.Context, maxErrors int) ([]model.Feed, error) {
	var feeds []model.Feed
	err := db.conn.SelectContext(ctx, &feeds,
		db.conn.Rebind(`SELECT `+feedColumns+` FROM feeds WHERE error_count < ? ORDER BY created_at`), maxErrors)
	if err != nil {
		return nil, fmt.Errorf("list feeds for refresh: %w", err)
	}
	return feeds, nil
}

// UpdateFeed writes every mutable column of feed.
func (db *DB) UpdateFeed(ctx context.Context, feed *model.Feed) error {
	feed.UpdatedAt = time.Now().UTC()
	res, err := db.conn.ExecContext(ctx, db.conn.Rebind(`
		UPDATE feeds SET title = ?, category = ?, update_interval = ?, last_fetched_at = ?,
			last_status = ?, error_count = ?, updated_at = ?
		WHERE id = ?`),
		feed.Title, feed.Category, feed.UpdateInterval, utcPtr(feed.LastFetchedAt),
		feed.LastStatus, feed.ErrorCount, feed.UpdatedAt, feed.ID)
	if err != nil {
		return fmt.Errorf("update feed %s: %w", feed.ID, err)
	}
	return expectRow(res, "feed", feed.ID)
}

// RecordFeedFailure stores status as the feed's last status and increments
// its error count.
func (db *DB) RecordFeedFailure(ctx context.Context, id, status string, at time.Time) error {
	res, err := db.conn.ExecContext(ctx, db.conn.Rebind(`
		UPDATE feeds SET last_status = ?, error_count = error_count + 1, updated_at = ?
		WHERE id = ?`), status, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("record failure for feed %s: %w", id, err)
	}
	return expectRow(res, "feed", id)
}

// ResetFeedErrors clears the error count so the feed rejoins automatic sweeps.
func (db *DB) ResetFeedErrors(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, db.conn.Rebind(`
		UPDATE feeds SET error_count = 0, updated_at = ? WHERE id = ?`), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("reset feed %s: %w", id, err)
	}
	return expectRow(res, "feed", id)
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		// Driver cannot report counts; trust the statement.
		return nil
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, apperr.ErrNotFound)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
