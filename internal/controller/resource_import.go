package controller

import (
	"encoding/json"
	"fmt"

	"dbmflow/internal/pipeline"
)

type resourceImportDetails struct {
	IPs       []string `json:"ips"`
	BkCloudID int64    `json:"bk_cloud_id"`
	Creator   string   `json:"creator"`
}

// ResourceImportController takes raw hosts into the resource pool:
// OS init, then a system-info refresh.
type ResourceImportController struct {
	base
	details resourceImportDetails
}

func NewResourceImportController(rootID string, details json.RawMessage) (*ResourceImportController, error) {
	c := &ResourceImportController{base: base{rootID: rootID}}
	if err := decodeDetails(details, &c.details); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *ResourceImportController) Import() (*pipeline.Node, map[string]any, error) {
	if len(c.details.IPs) == 0 {
		return nil, nil, fmt.Errorf("ips required")
	}
	b := pipeline.NewBuilder(c.rootID, "resource import")
	b.AddSubProcess("init hosts", c.importResourceInitStep(c.details.IPs))
	return b.Build(), map[string]any{
		"bk_cloud_id": c.details.BkCloudID,
		"creator":     c.details.Creator,
	}, nil
}

func (c *ResourceImportController) FakeScene() (*pipeline.Node, map[string]any, error) {
	return fakeScene(c.rootID, "resource import fake scene", 2), nil, nil
}
