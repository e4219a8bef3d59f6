package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/aurora/internal/apperr"
)

func newMockPostgres(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewWithConn(sqlx.NewDb(conn, driverPostgres)), mock
}

func TestPostgres_Backend(t *testing.T) {
	db, _ := newMockPostgres(t)
	assert.Equal(t, "PostgreSQL", db.DatabaseType())
	assert.True(t, db.SupportsHighConcurrency())
}

func TestPostgres_RecordFeedFailureRebinds(t *testing.T) {
	db, mock := newMockPostgres(t)

	mock.ExpectExec(`UPDATE feeds SET last_status = \$1, error_count = error_count \+ 1, updated_at = \$2`).
		WithArgs("HTTP 404", sqlmock.AnyArg(), "feed-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, db.RecordFeedFailure(context.Background(), "feed-1", "HTTP 404", time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RecordFeedFailureMissing(t *testing.T) {
	db, mock := newMockPostgres(t)

	mock.ExpectExec(`UPDATE feeds`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := db.RecordFeedFailure(context.Background(), "nope", "x", time.Now())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateFeedDuplicateIsConflict(t *testing.T) {
	db, mock := newMockPostgres(t)

	mock.ExpectExec(`INSERT INTO feeds`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	_, err := db.CreateFeed(context.Background(), "https://example.com/feed.xml", "", nil)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateFeedOtherErrorIsNotConflict(t *testing.T) {
	db, mock := newMockPostgres(t)

	mock.ExpectExec(`INSERT INTO feeds`).WillReturnError(&pq.Error{Code: "23502"})

	_, err := db.CreateFeed(context.Background(), "https://example.com/feed.xml", "", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperr.ErrConflict)
}

func TestPostgres_DeleteStaleIcons(t *testing.T) {
	db, mock := newMockPostgres(t)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`DELETE FROM site_icons\s+WHERE expires_at IS NOT NULL AND expires_at < \$1 AND error_count >= \$2`).
		WithArgs(now, 3).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := db.DeleteStaleIcons(context.Background(), now, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_PingError(t *testing.T) {
	db, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT 1`).WillReturnError(errors.New("connection refused"))

	err := db.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PostgreSQL")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetSettingsSeedsDefaults(t *testing.T) {
	db, mock := newMockPostgres(t)

	mock.ExpectExec(`INSERT INTO settings .* ON CONFLICT\(key\) DO NOTHING`).
		WithArgs("auto_refresh", "true").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO settings .* ON CONFLICT\(key\) DO NOTHING`).
		WithArgs("fetch_interval_minutes", "720").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT value FROM settings WHERE key = \$1`).
		WithArgs("auto_refresh").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("false"))
	mock.ExpectQuery(`SELECT value FROM settings WHERE key = \$1`).
		WithArgs("fetch_interval_minutes").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("15"))

	s, err := db.GetSettings(context.Background())
	require.NoError(t, err)
	assert.False(t, s.AutoRefresh)
	assert.Equal(t, 15, s.FetchIntervalMinutes)
	assert.NoError(t, mock.ExpectationsWereMet())
}
