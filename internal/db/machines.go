package db

import (
	"context"
	"encoding/json"
	"time"
)

// UpdateMachineSysInfo upserts the collected system metadata for one
// host. The machine row is keyed by ip; collectors run after host
// initialization and whenever a drill or destroy touches the host.
func (d *DB) UpdateMachineSysInfo(ctx context.Context, ip string, info map[string]any) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return err
	}
	_, err = d.conn.ExecContext(ctx, `
		INSERT INTO machines(ip, sys_info_json, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (ip) DO UPDATE SET sys_info_json = EXCLUDED.sys_info_json, updated_at = EXCLUDED.updated_at
	`, ip, raw, time.Now().UTC())
	return err
}
