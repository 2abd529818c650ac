package clients

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"dbmflow/internal/db"
)

// CLBClient allocates and releases cloud load balancers.
type CLBClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func (c *CLBClient) AllocCLB(ctx context.Context, region string) (db.CLBDetail, error) {
	if strings.TrimSpace(c.BaseURL) == "" {
		return db.CLBDetail{}, errors.New("clb base url required")
	}
	in := map[string]any{"region": region}
	var out db.CLBDetail
	if err := doJSON(ctx, c.HTTPClient, http.MethodPost, joinURL(c.BaseURL, "/api/v1/clbs"), c.Token, in, &out); err != nil {
		return db.CLBDetail{}, err
	}
	if out.CLBID == "" {
		return db.CLBDetail{}, errors.New("clb api returned empty clb id")
	}
	return out, nil
}

func (c *CLBClient) ReleaseCLB(ctx context.Context, clbID string) error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("clb base url required")
	}
	return doJSON(ctx, c.HTTPClient, http.MethodDelete, joinURL(c.BaseURL, "/api/v1/clbs/"+clbID), c.Token, nil, nil)
}
