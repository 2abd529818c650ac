package db

import (
	"context"
	"database/sql"
	"errors"
)

// GetSystemSetting reads one system-settings value as raw JSON.
// Returns nil when the key is absent.
func (d *DB) GetSystemSetting(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("key required")
	}
	row := d.conn.QueryRowContext(ctx, `SELECT value_json FROM system_settings WHERE key=$1`, key)
	var out []byte
	if err := row.Scan(&out); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

func (d *DB) PutSystemSetting(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return errors.New("key required")
	}
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO system_settings(key, value_json) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value_json = EXCLUDED.value_json
	`, key, value)
	return err
}
