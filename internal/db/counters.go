package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/banshee-data/collar.amc/internal/correction"
)

// SaveCounters persists the correction counters. It satisfies
// correction.CounterStore.
func (db *DB) SaveCounters(c correction.Counters) error {
	_, err := db.Exec(`
		INSERT INTO counters (id, warn_count, zap_count, zap_count_day, zap_day, zap_pain, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, strftime('%s', 'now'))
		ON CONFLICT(id) DO UPDATE SET
			warn_count = excluded.warn_count,
			zap_count = excluded.zap_count,
			zap_count_day = excluded.zap_count_day,
			zap_day = excluded.zap_day,
			zap_pain = excluded.zap_pain,
			updated_at = excluded.updated_at`,
		c.WarnCount, c.ZapCount, c.ZapCountDay, c.ZapDay, c.ZapPain,
	)
	if err != nil {
		return fmt.Errorf("save counters: %w", err)
	}
	return nil
}

// LoadCounters returns the persisted counters, or zero counters when none
// have been saved.
func (db *DB) LoadCounters(ctx context.Context) (correction.Counters, error) {
	var c correction.Counters
	err := db.QueryRowContext(ctx,
		`SELECT warn_count, zap_count, zap_count_day, zap_day, zap_pain FROM counters WHERE id = 1`,
	).Scan(&c.WarnCount, &c.ZapCount, &c.ZapCountDay, &c.ZapDay, &c.ZapPain)
	if errors.Is(err, sql.ErrNoRows) {
		return correction.Counters{}, nil
	}
	if err != nil {
		return correction.Counters{}, fmt.Errorf("load counters: %w", err)
	}
	return c, nil
}

const keyKeepMode = "keep_mode"

// Setting returns the raw value stored under key.
func (db *DB) Setting(ctx context.Context, key string) (string, error) {
	var v string
	err := db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("setting %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("setting %q: %w", key, err)
	}
	return v, nil
}

// SetSetting stores value under key.
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// KeepMode reports whether a new fence keeps the current operating mode.
// It is false until set.
func (db *DB) KeepMode(ctx context.Context) (bool, error) {
	v, err := db.Setting(ctx, keyKeepMode)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	keep, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("setting %q: %w", keyKeepMode, err)
	}
	return keep, nil
}

// SetKeepMode stores the keep-mode setting.
func (db *DB) SetKeepMode(ctx context.Context, keep bool) error {
	return db.SetSetting(ctx, keyKeepMode, strconv.FormatBool(keep))
}
