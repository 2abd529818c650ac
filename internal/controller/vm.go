package controller

import (
	"encoding/json"

	"dbmflow/internal/pipeline"
)

type vmDetails struct {
	ClusterID int64    `json:"cluster_id"`
	IPs       []string `json:"ips"`
	BkCloudID int64    `json:"bk_cloud_id"`
	Creator   string   `json:"creator"`
}

// VMController builds teardown pipelines for VictoriaMetrics clusters.
type VMController struct {
	base
	details vmDetails
}

func NewVMController(rootID string, details json.RawMessage) (*VMController, error) {
	c := &VMController{base: base{rootID: rootID}}
	if err := decodeDetails(details, &c.details); err != nil {
		return nil, err
	}
	return c, nil
}

// Destroy shields alarms, stops and wipes the VM components on every
// host, then releases the shield. Cluster phase moves in the POST stage,
// not here.
func (c *VMController) Destroy() (*pipeline.Node, map[string]any, error) {
	d := c.details
	b := pipeline.NewBuilder(c.rootID, "vm destroy")
	b.AddActivity("shield alarms", "monitor.shield_alarm", map[string]any{
		"ips":           d.IPs,
		"duration_secs": 7200,
	})
	b.AddActivity("stop and wipe vm", "job.exec_actuator", map[string]any{
		"ips":      d.IPs,
		"job_type": "vm_destroy",
	})
	b.AddActivity("unshield alarms", "monitor.unshield_alarm", nil)
	b.AddSubProcess("refresh machine info", pipeline.UpdateSystemInfo(d.IPs))
	return b.Build(), c.globalData(), nil
}

func (c *VMController) FakeScene() (*pipeline.Node, map[string]any, error) {
	return fakeScene(c.rootID, "vm fake scene", 2), c.globalData(), nil
}

func (c *VMController) globalData() map[string]any {
	return map[string]any{
		"cluster_id":  c.details.ClusterID,
		"bk_cloud_id": c.details.BkCloudID,
		"creator":     c.details.Creator,
	}
}
