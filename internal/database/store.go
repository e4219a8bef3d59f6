// Package database provides storage backends for feeds, entries, icons and settings.
package database

import (
	"context"
	"time"

	"github.com/bryan-buckman/aurora/internal/model"
)

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL backends satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// SupportsHighConcurrency returns true if the database can handle
	// many concurrent write operations (e.g., PostgreSQL).
	// SQLite returns false due to write locking limitations.
	SupportsHighConcurrency() bool

	// Ping checks connectivity with the backend.
	Ping(ctx context.Context) error

	// Feed operations
	CreateFeed(ctx context.Context, url, title string, category *string) (*model.Feed, error)
	GetOrCreateFeed(ctx context.Context, url, title string) (*model.Feed, bool, error)
	GetFeedByID(ctx context.Context, id string) (*model.Feed, error)
	ListFeeds(ctx context.Context) ([]model.Feed, error)
	ListFeedsForRefresh(ctx context.Context, maxErrors int) ([]model.Feed, error)
	UpdateFeed(ctx context.Context, feed *model.Feed) error
	RecordFeedFailure(ctx context.Context, id, status string, at time.Time) error
	ResetFeedErrors(ctx context.Context, id string) error

	// Entry operations
	FindEntry(ctx context.Context, feedID, url string) (*model.Entry, error)
	InsertEntry(ctx context.Context, entry *model.Entry) error
	ListEntries(ctx context.Context, feedID string) ([]model.Entry, error)

	// Icon operations
	FindIcon(ctx context.Context, domain string) (*model.IconCacheRecord, error)
	UpsertIcon(ctx context.Context, rec *model.IconCacheRecord) error
	DeleteStaleIcons(ctx context.Context, now time.Time, minErrors int) (int64, error)
	ListIconsWithPayload(ctx context.Context) ([]model.IconCacheRecord, error)

	// Settings operations
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	GetSettings(ctx context.Context) (model.Settings, error)
	SaveSettings(ctx context.Context, s model.Settings) error
}

// Ensure DB implements Store.
var _ Store = (*DB)(nil)
