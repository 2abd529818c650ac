package controller

import (
	"encoding/json"

	"dbmflow/internal/pipeline"
)

type spiderDetails struct {
	ClusterID        int64    `json:"cluster_id"`
	CLBIP            string   `json:"clb_ip"`
	CLBID            string   `json:"clb_id"`
	ListenerID       string   `json:"listener_id"`
	Region           string   `json:"region"`
	DBPatterns       []string `json:"db_patterns"`
	TruncateDataType string   `json:"truncate_data_type"`
	IPs              []string `json:"ips"`
	Creator          string   `json:"creator"`
	Unbind           bool     `json:"unbind"`
}

// SpiderController builds pipelines for TendbCluster (spider) clusters.
type SpiderController struct {
	base
	details spiderDetails
}

func NewSpiderController(rootID string, details json.RawMessage) (*SpiderController, error) {
	c := &SpiderController{base: base{rootID: rootID}}
	if err := decodeDetails(details, &c.details); err != nil {
		return nil, err
	}
	return c, nil
}

// AddCLB allocates a CLB for the spider proxy layer and persists the
// entry with the DNS entry's storage instances mirrored onto it.
func (c *SpiderController) AddCLB() (*pipeline.Node, map[string]any, error) {
	d := c.details
	b := pipeline.NewBuilder(c.rootID, "tendbcluster add clb")
	b.AddActivity("allocate clb", "cloud.alloc_clb", map[string]any{
		"clb_ip":      d.CLBIP,
		"clb_id":      d.CLBID,
		"listener_id": d.ListenerID,
		"region":      d.Region,
	})
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

// CLBBindDomain binds or unbinds the immute domain depending on the
// ticket's unbind flag.
func (c *SpiderController) CLBBindDomain() (*pipeline.Node, map[string]any, error) {
	component := "meta.bind_domain_clb"
	name := "tendbcluster clb bind domain"
	if c.details.Unbind {
		component = "meta.unbind_domain_clb"
		name = "tendbcluster clb unbind domain"
	}
	b := pipeline.NewBuilder(c.rootID, name)
	b.AddActivity("switch domain forward", component, map[string]any{
		"cluster_id": c.details.ClusterID,
		"clb_ip":     c.details.CLBIP,
	})
	return b.Build(), c.globalData(), nil
}

// DeleteClearDB pushes the cleanup config and runs the truncate
// actuator across the cluster's backends.
func (c *SpiderController) DeleteClearDB() (*pipeline.Node, map[string]any, error) {
	d := c.details
	truncate := d.TruncateDataType
	if truncate == "" {
		truncate = "truncate_table"
	}
	b := pipeline.NewBuilder(c.rootID, "tendbcluster delete clear db")
	b.AddActivity("push cleanup config", "job.push_config", map[string]any{
		"ips":       d.IPs,
		"conf_type": "clear_db",
	})
	b.AddActivity("run truncate actuator", "job.exec_actuator", map[string]any{
		"ips":      d.IPs,
		"job_type": "clear_db",
		"params": map[string]any{
			"db_patterns":        d.DBPatterns,
			"truncate_data_type": truncate,
		},
	})
	return b.Build(), c.globalData(), nil
}

func (c *SpiderController) FakeScene() (*pipeline.Node, map[string]any, error) {
	return fakeScene(c.rootID, "spider fake scene", 3), c.globalData(), nil
}

func (c *SpiderController) globalData() map[string]any {
	return map[string]any{
		"cluster_id": c.details.ClusterID,
		"creator":    c.details.Creator,
	}
}
