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

const iconColumns = `id, domain, icon_url, icon_data, icon_type, icon_size, last_fetched,
	expires_at, error_count, created_at, updated_at`

// FindIcon returns the cache record for a normalized domain.
func (db *DB) FindIcon(ctx context.Context, domain string) (*model.IconCacheRecord, error) {
	var rec model.IconCacheRecord
	err := db.conn.GetContext(ctx, &rec,
		db.conn.Rebind(`SELECT `+iconColumns+` FROM site_icons WHERE domain = ?`), domain)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("icon %s: %w", domain, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find icon %s: %w", domain, err)
	}
	return &rec, nil
}

// UpsertIcon inserts rec or replaces the existing record for its domain.
// The record keeps its original id and creation time on update.
func (db *DB) UpsertIcon(ctx context.Context, rec *model.IconCacheRecord) error {
	now := time.Now().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx, db.conn.Rebind(`
		INSERT INTO site_icons (id, domain, icon_url, icon_data, icon_type, icon_size,
			last_fetched, expires_at, error_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			icon_url = excluded.icon_url,
			icon_data = excluded.icon_data,
			icon_type = excluded.icon_type,
			icon_size = excluded.icon_size,
			last_fetched = excluded.last_fetched,
			expires_at = excluded.expires_at,
			error_count = excluded.error_count,
			updated_at = excluded.updated_at`),
		rec.ID, rec.Domain, rec.IconURL, rec.IconData, rec.IconType, rec.IconSize,
		utcPtr(rec.LastFetched), utcPtr(rec.ExpiresAt), rec.ErrorCount, rec.CreatedAt.UTC(), rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert icon %s: %w", rec.Domain, err)
	}
	return nil
}

// DeleteStaleIcons removes records that expired before now and have failed
// at least minErrors times. Records without an expiry are never removed.
func (db *DB) DeleteStaleIcons(ctx context.Context, now time.Time, minErrors int) (int64, error) {
	res, err := db.conn.ExecContext(ctx, db.conn.Rebind(`
		DELETE FROM site_icons
		WHERE expires_at IS NOT NULL AND expires_at < ? AND error_count >= ?`), now.UTC(), minErrors)
	if err != nil {
		return 0, fmt.Errorf("delete stale icons: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete stale icons: %w", err)
	}
	return n, nil
}

// ListIconsWithPayload returns every record that holds icon bytes,
// most recently updated first.
func (db *DB) ListIconsWithPayload(ctx context.Context) ([]model.IconCacheRecord, error) {
	var recs []model.IconCacheRecord
	err := db.conn.SelectContext(ctx, &recs, `
		SELECT `+iconColumns+` FROM site_icons
		WHERE icon_data IS NOT NULL AND icon_data <> ''
		ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list icons: %w", err)
	}
	return recs, nil
}
