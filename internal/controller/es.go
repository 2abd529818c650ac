package controller

import (
	"encoding/json"

	"dbmflow/internal/pipeline"
)

type esDetails struct {
	ClusterID   int64  `json:"cluster_id"`
	CLBIP       string `json:"clb_ip"`
	CLBID       string `json:"clb_id"`
	ListenerID  string `json:"listener_id"`
	Region      string `json:"region"`
	PolarisName string `json:"polaris_name"`
	Creator     string `json:"creator"`
}

// ESNameServiceController builds name-service pipelines for ES
// clusters: CLB entries, Polaris entries and DNS rebinding.
type ESNameServiceController struct {
	base
	details esDetails
}

func NewESNameServiceController(rootID string, details json.RawMessage) (*ESNameServiceController, error) {
	c := &ESNameServiceController{base: base{rootID: rootID}}
	if err := decodeDetails(details, &c.details); err != nil {
		return nil, err
	}
	return c, nil
}

// ESCreate persists the CLB entry for an ES cluster. The entry's
// storage-instance set mirrors the DNS entry's set at call time.
func (c *ESNameServiceController) ESCreate() (*pipeline.Node, map[string]any, error) {
	d := c.details
	b := pipeline.NewBuilder(c.rootID, "es clb create")
	b.AddActivity("persist clb entry", "meta.create_clb_entry", map[string]any{
		"cluster_id":  d.ClusterID,
		"clb_ip":      d.CLBIP,
		"clb_id":      d.CLBID,
		"listener_id": d.ListenerID,
		"region":      d.Region,
		"creator":     d.Creator,
	})
	return b.Build(), c.globalData(), nil
}

// DeletePolaris removes the cluster's Polaris entry.
func (c *ESNameServiceController) DeletePolaris() (*pipeline.Node, map[string]any, error) {
	b := pipeline.NewBuilder(c.rootID, "es delete polaris")
	b.AddActivity("delete polaris entry", "meta.delete_entry", map[string]any{
		"cluster_id": c.details.ClusterID,
		"entry_type": "polaris",
	})
	return b.Build(), c.globalData(), nil
}

// DNSBindCLB points the ES immute domain at the CLB ip.
func (c *ESNameServiceController) DNSBindCLB() (*pipeline.Node, map[string]any, error) {
	b := pipeline.NewBuilder(c.rootID, "es dns bind clb")
	b.AddActivity("bind domain to clb", "meta.bind_domain_clb", map[string]any{
		"cluster_id": c.details.ClusterID,
		"clb_ip":     c.details.CLBIP,
	})
	return b.Build(), c.globalData(), nil
}

func (c *ESNameServiceController) FakeScene() (*pipeline.Node, map[string]any, error) {
	return fakeScene(c.rootID, "es fake scene", 2), c.globalData(), nil
}

func (c *ESNameServiceController) globalData() map[string]any {
	return map[string]any{
		"cluster_id": c.details.ClusterID,
		"creator":    c.details.Creator,
	}
}
