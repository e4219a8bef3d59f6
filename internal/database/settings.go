package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/bryan-buckman/aurora/internal/apperr"
	"github.com/bryan-buckman/aurora/internal/model"
)

// GetSetting returns the raw value stored under key.
func (db *DB) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.GetContext(ctx, &value, db.conn.Rebind(`SELECT value FROM settings WHERE key = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("setting %s: %w", key, apperr.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting stores value under key, replacing any previous value.
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx, db.conn.Rebind(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`), key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// GetSettings reads the scheduler preferences. Missing keys are written
// with their defaults first, so the first read persists them.
func (db *DB) GetSettings(ctx context.Context) (model.Settings, error) {
	defaults := [][2]string{
		{model.SettingAutoRefresh, strconv.FormatBool(model.DefaultAutoRefresh)},
		{model.SettingFetchIntervalMinutes, strconv.Itoa(model.DefaultFetchIntervalMinutes)},
	}
	for _, kv := range defaults {
		_, err := db.conn.ExecContext(ctx, db.conn.Rebind(`
			INSERT INTO settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO NOTHING`), kv[0], kv[1])
		if err != nil {
			return model.Settings{}, fmt.Errorf("seed setting %s: %w", kv[0], err)
		}
	}

	s := model.Settings{
		AutoRefresh:          model.DefaultAutoRefresh,
		FetchIntervalMinutes: model.DefaultFetchIntervalMinutes,
	}

	raw, err := db.GetSetting(ctx, model.SettingAutoRefresh)
	if err != nil {
		return model.Settings{}, err
	}
	if v, perr := strconv.ParseBool(raw); perr == nil {
		s.AutoRefresh = v
	}

	raw, err = db.GetSetting(ctx, model.SettingFetchIntervalMinutes)
	if err != nil {
		return model.Settings{}, err
	}
	if v, perr := strconv.Atoi(raw); perr == nil && v > 0 {
		s.FetchIntervalMinutes = v
	}
	return s, nil
}

// SaveSettings writes both scheduler preferences.
func (db *DB) SaveSettings(ctx context.Context, s model.Settings) error {
	if s.FetchIntervalMinutes <= 0 {
		return fmt.Errorf("fetch interval %d: %w", s.FetchIntervalMinutes, apperr.ErrValidation)
	}
	if err := db.SetSetting(ctx, model.SettingAutoRefresh, strconv.FormatBool(s.AutoRefresh)); err != nil {
		return err
	}
	return db.SetSetting(ctx, model.SettingFetchIntervalMinutes, strconv.Itoa(s.FetchIntervalMinutes))
}
