package controller

import (
	"encoding/json"

	"dbmflow/internal/pipeline"
)

type clbDetails struct {
	ClusterID  int64  `json:"cluster_id"`
	CLBIP      string `json:"clb_ip"`
	CLBID      string `json:"clb_id"`
	ListenerID string `json:"listener_id"`
	Region     string `json:"region"`
	Creator    string `json:"creator"`
	Unbind     bool   `json:"unbind"`
}

// MySQLClbController builds CLB pipelines for MySQL clusters. It only
// assembles trees; nothing here touches the store or the cloud.
type MySQLClbController struct {
	base
	details clbDetails
}

func NewMySQLClbController(rootID string, details json.RawMessage) (*MySQLClbController, error) {
	c := &MySQLClbController{base: base{rootID: rootID}}
	if err := decodeDetails(details, &c.details); err != nil {
		return nil, err
	}
	return c, nil
}

// CLBCreate allocates the CLB, persists the entry (mirroring the DNS
// entry's storage instances) and binds the immute domain onto it.
func (c *MySQLClbController) CLBCreate() (*pipeline.Node, map[string]any, error) {
	d := c.details
	b := pipeline.NewBuilder(c.rootID, "mysql clb create")
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
	b.AddActivity("bind domain to clb", "meta.bind_domain_clb", map[string]any{
		"cluster_id": d.ClusterID,
		"clb_ip":     d.CLBIP,
	})
	return b.Build(), c.globalData(), nil
}

// ImmuteDomainBindCLBIP CNAMEs the immute domain onto the CLB ip; the
// inverse of ImmuteDomainUnbindCLBIP.
func (c *MySQLClbController) ImmuteDomainBindCLBIP() (*pipeline.Node, map[string]any, error) {
	b := pipeline.NewBuilder(c.rootID, "mysql clb bind domain")
	b.AddActivity("bind domain to clb", "meta.bind_domain_clb", map[string]any{
		"cluster_id": c.details.ClusterID,
	})
	return b.Build(), c.globalData(), nil
}

func (c *MySQLClbController) ImmuteDomainUnbindCLBIP() (*pipeline.Node, map[string]any, error) {
	b := pipeline.NewBuilder(c.rootID, "mysql clb unbind domain")
	b.AddActivity("unbind domain from clb", "meta.unbind_domain_clb", map[string]any{
		"cluster_id": c.details.ClusterID,
	})
	return b.Build(), c.globalData(), nil
}

// BindOrUnbind dispatches on the ticket's unbind flag so a single
// ticket type covers both directions.
func (c *MySQLClbController) BindOrUnbind() (*pipeline.Node, map[string]any, error) {
	if c.details.Unbind {
		return c.ImmuteDomainUnbindCLBIP()
	}
	return c.ImmuteDomainBindCLBIP()
}

func (c *MySQLClbController) FakeScene() (*pipeline.Node, map[string]any, error) {
	return fakeScene(c.rootID, "mysql clb fake scene", 3), c.globalData(), nil
}

func (c *MySQLClbController) globalData() map[string]any {
	return map[string]any{
		"cluster_id": c.details.ClusterID,
		"creator":    c.details.Creator,
	}
}
