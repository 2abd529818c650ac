package reverseapi

import (
	"context"
	"encoding/json"
	"fmt"
)

// SystemSettingKeyBKMReport holds the monitoring data ids and tokens
// agents report with.
const SystemSettingKeyBKMReport = "BKM_DBM_REPORT"

// SettingsStore reads system settings.
type SettingsStore interface {
	GetSystemSetting(ctx context.Context, key string) ([]byte, error)
}

// CrondConfig is the per-host mysql-crond bootstrap payload. Data ids
// are integers and tokens strings; ip and bk_cloud_id echo the input.
type CrondConfig struct {
	IP               string `json:"ip"`
	BkCloudID        int64  `json:"bk_cloud_id"`
	EventDataID      int64  `json:"event_data_id"`
	EventDataToken   string `json:"event_data_token"`
	MetricsDataID    int64  `json:"metrics_data_id"`
	MetricsDataToken string `json:"metrics_data_token"`
	BeatPath         string `json:"beat_path"`
	AgentAddress     string `json:"agent_address"`
}

type bkmReport struct {
	Event struct {
		DataID int64  `json:"data_id"`
		Token  string `json:"token"`
	} `json:"event"`
	Metric struct {
		DataID int64  `json:"data_id"`
		Token  string `json:"token"`
	} `json:"metric"`
}

// CrondConfigProvider assembles crond bootstrap payloads from system
// settings and process configuration.
type CrondConfigProvider struct {
	Settings     SettingsStore
	BeatPath     string
	AgentAddress string
}

func (p *CrondConfigProvider) MySQLCrondConfig(ctx context.Context, bkCloudID int64, ip string) (*CrondConfig, error) {
	raw, err := p.Settings.GetSystemSetting(ctx, SystemSettingKeyBKMReport)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", SystemSettingKeyBKMReport, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("system setting %s not configured", SystemSettingKeyBKMReport)
	}
	var report bkmReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("decode %s: %w", SystemSettingKeyBKMReport, err)
	}
	return &CrondConfig{
		IP:               ip,
		BkCloudID:        bkCloudID,
		EventDataID:      report.Event.DataID,
		EventDataToken:   report.Event.Token,
		MetricsDataID:    report.Metric.DataID,
		MetricsDataToken: report.Metric.Token,
		BeatPath:         p.BeatPath,
		AgentAddress:     p.AgentAddress,
	}, nil
}
