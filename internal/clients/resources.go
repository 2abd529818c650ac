package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// ResourceClient asks the resource pool for hosts matching a ticket's
// resource spec. The response is the ticket details enriched with the
// granted hosts, which the manager stores back on the inner flow.
type ResourceClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func (c *ResourceClient) Allocate(ctx context.Context, ticketID string, details json.RawMessage) (json.RawMessage, error) {
	if strings.TrimSpace(c.BaseURL) == "" {
		return nil, errors.New("resource pool base url required")
	}
	in := map[string]any{
		"ticket_id": ticketID,
		"details":   json.RawMessage(details),
	}
	var out struct {
		Details json.RawMessage `json:"details"`
	}
	if err := doJSON(ctx, c.HTTPClient, http.MethodPost, joinURL(c.BaseURL, "/api/v1/resources:allocate"), c.Token, in, &out); err != nil {
		return nil, err
	}
	if len(out.Details) == 0 {
		return nil, errors.New("resource pool returned empty details")
	}
	return out.Details, nil
}

// Recycle hands the ticket's hosts back to the pool once a destroy
// ticket reaches its POST stage.
func (c *ResourceClient) Recycle(ctx context.Context, ticketID string, details json.RawMessage) error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("resource pool base url required")
	}
	in := map[string]any{
		"ticket_id": ticketID,
		"details":   json.RawMessage(details),
	}
	return doJSON(ctx, c.HTTPClient, http.MethodPost, joinURL(c.BaseURL, "/api/v1/resources:recycle"), c.Token, in, nil)
}
