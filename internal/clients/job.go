package clients

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"dbmflow/internal/pipeline"
)

// JobClient dispatches actuator payloads to the job sidecar.
type JobClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func (c *JobClient) Dispatch(ctx context.Context, payload pipeline.JobPayload) (string, error) {
	if strings.TrimSpace(c.BaseURL) == "" {
		return "", errors.New("job sidecar base url required")
	}
	var out struct {
		JobID string `json:"job_id"`
	}
	if err := doJSON(ctx, c.HTTPClient, http.MethodPost, joinURL(c.BaseURL, "/api/v1/jobs"), c.Token, payload, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", errors.New("job sidecar returned empty job id")
	}
	return out.JobID, nil
}
