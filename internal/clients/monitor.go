package clients

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// MonitorClient talks to the monitoring platform's alarm-shield API.
type MonitorClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func (c *MonitorClient) Shield(ctx context.Context, ips []string, durationSecs int) (string, error) {
	if strings.TrimSpace(c.BaseURL) == "" {
		return "", errors.New("monitor base url required")
	}
	in := map[string]any{"ips": ips, "duration_secs": durationSecs}
	var out struct {
		ShieldID string `json:"shield_id"`
	}
	if err := doJSON(ctx, c.HTTPClient, http.MethodPost, joinURL(c.BaseURL, "/api/v1/alarm_shields"), c.Token, in, &out); err != nil {
		return "", err
	}
	if out.ShieldID == "" {
		return "", errors.New("monitor returned empty shield id")
	}
	return out.ShieldID, nil
}

func (c *MonitorClient) Unshield(ctx context.Context, shieldID string) error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("monitor base url required")
	}
	return doJSON(ctx, c.HTTPClient, http.MethodDelete, joinURL(c.BaseURL, "/api/v1/alarm_shields/"+shieldID), c.Token, nil, nil)
}
