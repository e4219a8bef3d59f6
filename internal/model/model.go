// Package model defines shared data structures.
package model

import "time"

// Feed represents an RSS/Atom feed subscription.
type Feed struct {
	ID             string     `db:"id" json:"id"`
	URL            string     `db:"url" json:"url"`
	Title          string     `db:"title" json:"title"`
	Category       *string    `db:"category" json:"category,omitempty"`
	UpdateInterval *int       `db:"update_interval" json:"update_interval,omitempty"` // minutes; not consulted by the scheduler
	LastFetchedAt  *time.Time `db:"last_fetched_at" json:"last_fetched_at,omitempty"`
	LastStatus     *string    `db:"last_status" json:"last_status,omitempty"`
	ErrorCount     int        `db:"error_count" json:"error_count"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Entry represents a single article from a feed.
// (FeedID, URL) is unique.
type Entry struct {
	ID          string     `db:"id" json:"id"`
	FeedID      string     `db:"feed_id" json:"feed_id"`
	Title       string     `db:"title" json:"title"`
	URL         string     `db:"url" json:"url"`
	Author      *string    `db:"author" json:"author,omitempty"`
	Content     *string    `db:"content" json:"content,omitempty"`
	Summary     *string    `db:"summary" json:"summary,omitempty"`
	PublishedAt *time.Time `db:"published_at" json:"published_at,omitempty"`
	IsRead      bool       `db:"is_read" json:"is_read"`
	IsStarred   bool       `db:"is_starred" json:"is_starred"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// IconCacheRecord is the cached favicon of a normalized domain.
// A record without IconData remembers failed lookups.
type IconCacheRecord struct {
	ID          string     `db:"id" json:"id"`
	Domain      string     `db:"domain" json:"domain"`
	IconURL     *string    `db:"icon_url" json:"icon_url,omitempty"`
	IconData    *string    `db:"icon_data" json:"icon_data,omitempty"` // base64
	IconType    *string    `db:"icon_type" json:"icon_type,omitempty"`
	IconSize    *int       `db:"icon_size" json:"icon_size,omitempty"`
	LastFetched *time.Time `db:"last_fetched" json:"last_fetched,omitempty"`
	ExpiresAt   *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	ErrorCount  int        `db:"error_count" json:"error_count"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// HasPayload reports whether the record holds icon bytes.
func (r *IconCacheRecord) HasPayload() bool {
	return r.IconData != nil && *r.IconData != ""
}

// Settings holds the user preferences the scheduler consults.
type Settings struct {
	AutoRefresh          bool `json:"auto_refresh"`
	FetchIntervalMinutes int  `json:"fetch_interval_minutes"`
}

// Settings key constants.
const (
	SettingAutoRefresh          = "auto_refresh"
	SettingFetchIntervalMinutes = "fetch_interval_minutes"
)

// Settings defaults, written the first time settings are read.
const (
	DefaultAutoRefresh          = true
	DefaultFetchIntervalMinutes = 720
)

// StatusSuccess is the feed status written after a successful fetch.
const StatusSuccess = "success"
