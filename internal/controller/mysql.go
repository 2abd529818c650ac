package controller

import (
	"encoding/json"
	"fmt"

	"dbmflow/internal/pipeline"
)

type semanticCheckDetails struct {
	Params struct {
		Act string `json:"act"`
	} `json:"params"`
}

// MySQLFakeSemanticCheck exercises the full ticket path without
// touching any MySQL host. Real semantic checks run through the job
// sidecar; this controller substitutes no-ops of the same shape.
type MySQLFakeSemanticCheck struct {
	base
	details semanticCheckDetails
}

func NewMySQLFakeSemanticCheck(rootID string, details json.RawMessage) (*MySQLFakeSemanticCheck, error) {
	c := &MySQLFakeSemanticCheck{base: base{rootID: rootID}}
	if err := decodeDetails(details, &c.details); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *MySQLFakeSemanticCheck) FakeSemanticCheck() (*pipeline.Node, map[string]any, error) {
	if c.details.Params.Act == "" {
		return nil, nil, fmt.Errorf("params.act required")
	}
	b := pipeline.NewBuilder(c.rootID, "mysql fake semantic check")
	b.AddActivity("prepare semantic env", "noop", map[string]any{"name": "prepare"})
	b.AddActivity("run semantic check", "noop", map[string]any{"name": c.details.Params.Act})
	b.AddActivity("collect result", "noop", map[string]any{"name": "collect"})
	return b.Build(), map[string]any{"act": c.details.Params.Act}, nil
}

type autofixDetails struct {
	CheckID   string `json:"check_id"`
	IP        string `json:"ip"`
	BkCloudID int64  `json:"bk_cloud_id"`
	Ports     []int  `json:"ports"`
	Cluster   string `json:"cluster"`
}

// MySQLProxyAutofixController rebuilds a misbehaving proxy in place.
type MySQLProxyAutofixController struct {
	base
	details autofixDetails
}

func NewMySQLProxyAutofixController(rootID string, details json.RawMessage) (*MySQLProxyAutofixController, error) {
	c := &MySQLProxyAutofixController{base: base{rootID: rootID}}
	if err := decodeDetails(details, &c.details); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *MySQLProxyAutofixController) InPlaceAutofix() (*pipeline.Node, map[string]any, error) {
	d := c.details
	ips := []string{d.IP}
	b := pipeline.NewBuilder(c.rootID, "mysql proxy autofix")
	b.AddActivity("shield alarms", "monitor.shield_alarm", map[string]any{
		"ips":           ips,
		"duration_secs": 1800,
	})
	b.AddActivity("restart proxy", "job.exec_actuator", map[string]any{
		"ips":      ips,
		"job_type": "proxy_restart",
		"params": map[string]any{
			"check_id": d.CheckID,
			"ports":    d.Ports,
		},
	})
	b.AddActivity("unshield alarms", "monitor.unshield_alarm", nil)
	return b.Build(), map[string]any{
		"bk_cloud_id": d.BkCloudID,
		"cluster":     d.Cluster,
	}, nil
}

type authorizeDetails struct {
	Rules []struct {
		User      string   `json:"user"`
		AccessDB  string   `json:"access_db"`
		SourceIPs []string `json:"source_ips"`
	} `json:"rules"`
}

// MySQLAuthorizeController grants account privileges through the job
// sidecar, one actuator run per rule batch.
type MySQLAuthorizeController struct {
	base
	details authorizeDetails
}

func NewMySQLAuthorizeController(rootID string, details json.RawMessage) (*MySQLAuthorizeController, error) {
	c := &MySQLAuthorizeController{base: base{rootID: rootID}}
	if err := decodeDetails(details, &c.details); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *MySQLAuthorizeController) AuthorizeRules() (*pipeline.Node, map[string]any, error) {
	if len(c.details.Rules) == 0 {
		return nil, nil, fmt.Errorf("rules required")
	}
	b := pipeline.NewBuilder(c.rootID, "mysql authorize rules")
	for i, rule := range c.details.Rules {
		b.AddActivity(fmt.Sprintf("authorize rule %d", i+1), "job.exec_actuator", map[string]any{
			"ips":      rule.SourceIPs,
			"job_type": "mysql_authorize",
			"params": map[string]any{
				"user":      rule.User,
				"access_db": rule.AccessDB,
			},
		})
	}
	return b.Build(), nil, nil
}

type failoverDrillDetails struct {
	ClusterID int64  `json:"cluster_id"`
	DrillKind string `json:"drill_kind"`
}

// MySQLFailoverDrillController simulates a primary failure to verify
// the failover path end to end.
type MySQLFailoverDrillController struct {
	base
	details failoverDrillDetails
}

func NewMySQLFailoverDrillController(rootID string, details json.RawMessage) (*MySQLFailoverDrillController, error) {
	c := &MySQLFailoverDrillController{base: base{rootID: rootID}}
	if err := decodeDetails(details, &c.details); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *MySQLFailoverDrillController) FailoverDrill() (*pipeline.Node, map[string]any, error) {
	kind := c.details.DrillKind
	if kind == "" {
		kind = "kill_primary"
	}
	b := pipeline.NewBuilder(c.rootID, "mysql failover drill")
	b.AddActivity("inject failure", "job.exec_actuator", map[string]any{
		"ips":      []string{},
		"job_type": "failover_drill",
		"params":   map[string]any{"drill_kind": kind},
	})
	return b.Build(), map[string]any{"cluster_id": c.details.ClusterID}, nil
}
