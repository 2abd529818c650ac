package controller

import (
	"encoding/json"
	"sync"

	"dbmflow/internal/pipeline"
	"dbmflow/internal/ticket"
)

// RegisterFuncs installs every controller function under its persisted
// func key.
func RegisterFuncs(reg *Registry) {
	reg.Register("spider.add_clb", func(rootID string, details json.RawMessage) (*pipeline.Node, map[string]any, error) {
		c, err := NewSpiderController(rootID, details)
		if err != nil {
			return nil, nil, err
		}
		return c.AddCLB()
	})
	reg.Register("spider.clb_bind_domain", func(rootID string, details json.RawMessage) (*pipeline.Node, map[string]any, error) {
		c, err := NewSpiderController(rootID, details)
		if err != nil {
			return nil, nil, err
		}
		return c.CLBBindDomain()
	})
	reg.Register("spider.delete_clear_db", func(rootID string, details json.RawMessage) (*pipeline.Node, map[string]any, error) {
		c, err := NewSpiderController(rootID, details)
		if err != nil {
			return nil, nil, err
		}
		return c.DeleteClearDB()
	})
	reg.Register("spider.fake_scene", func(rootID string, details json.RawMessage) (*pipeline.Node, map[string]any, error) {
		c, err := NewSpiderController(rootID, details)
		if err != nil {
			return nil, nil, err
		}
		return c.FakeScene()
	})
	reg.Register("mysql_clb.clb_create", func(rootID string, details json.RawMessage) (*pipeline.Node, map[string]any, error) {
		c, err := NewMySQLClbController(rootID, details)
		if err != nil {
			return nil, nil, err
		}
		return c.CLBCreate()
	})
	reg.Register("mysql_clb.bind_or_unbind", func(rootID string, details json.RawMessage) (*pipeline.Node, map[string]any, error) {
		c, err := NewMySQLClbController(rootID, details)
		if err != nil {
			return nil, nil, err
		}
		return c.BindOrUnbind()
	})
	reg.Register("mysql_clb.fake_scene", func(rootID string, details json.RawMessage) (*pipeline.Node, map[string]any, error) {
		c, err := NewMySQLClbController(rootID, details)
		if err != nil {
			return nil, nil, err
		}
		return c.FakeScene()
	})
	reg.Register("es_name_service.es_create", func(rootID string, details json.RawMessage) (*pipeline.Node, map[string]any, error) {
		c, err := NewESNameServiceController(rootID, details)
		if err != nil {
			return nil, nil, err
		}
		return c.ESCreate()
	})
	reg.Register("es_name_service.delete_polaris", func(rootID string, details json.RawMessage) (*pipeline.Node, map[string]any, error) {
		c, err := NewESNameServiceController(rootID, details)
		if err != nil {
			return nil, nil, err
		}
		return c.DeletePolaris()
	})
	reg.Register("es_name_service.dns_bind_clb", func(rootID string, details json.RawMessage) (*pipeline.Node, map[string]any, error) {
		c, err := NewESNameServiceController(rootID, details)
		if err != nil {
			return nil, nil, err
		}
		return c.DNSBindCLB()
	})
	reg.Register("vm.destroy", func(rootID string, details json.RawMessage) (*pipeline.Node, map[string]any, error) {
		c, err := NewVMController(rootID, details)
		if err != nil {
			return nil, nil, err
		}
		return c.Destroy()
	})
	reg.Register("base.import_resource", func(rootID string, details json.RawMessage) (*pipeline.Node, map[string]any, error) {
		c, err := NewResourceImportController(rootID, details)
		if err != nil {
			return nil, nil, err
		}
		return c.Import()
	})
	reg.Register("mysql.fake_semantic_check", func(rootID string, details json.RawMessage) (*pipeline.Node, map[string]any, error) {
		c, err := NewMySQLFakeSemanticCheck(rootID, details)
		if err != nil {
			return nil, nil, err
		}
		return c.FakeSemanticCheck()
	})
	reg.Register("mysql.authorize_rules", func(rootID string, details json.RawMessage) (*pipeline.Node, map[string]any, error) {
		c, err := NewMySQLAuthorizeController(rootID, details)
		if err != nil {
			return nil, nil, err
		}
		return c.AuthorizeRules()
	})
	reg.Register("mysql.proxy_autofix", func(rootID string, details json.RawMessage) (*pipeline.Node, map[string]any, error) {
		c, err := NewMySQLProxyAutofixController(rootID, details)
		if err != nil {
			return nil, nil, err
		}
		return c.InPlaceAutofix()
	})
	reg.Register("mysql.failover_drill", func(rootID string, details json.RawMessage) (*pipeline.Node, map[string]any, error) {
		c, err := NewMySQLFailoverDrillController(rootID, details)
		if err != nil {
			return nil, nil, err
		}
		return c.FailoverDrill()
	})
}

var registerBuildersOnce sync.Once

// RegisterBuilders declares the closed ticket-type enumeration. Safe to
// call from every process entrypoint; registration happens once.
func RegisterBuilders() {
	registerBuildersOnce.Do(func() {
		ticket.Register(ticket.Builder{
			TicketType:  ticket.TypeTendbClusterAddCLB,
			DisplayName: "TendbCluster add CLB",
			FuncKey:     "spider.add_clb",
			Policy:      ticket.FlowPolicy{NeedITSM: true, Phase: "online"},
		})
		ticket.Register(ticket.Builder{
			TicketType:  ticket.TypeTendbClusterCLBBind,
			DisplayName: "TendbCluster bind immute domain to CLB",
			FuncKey:     "mysql_clb.bind_or_unbind",
			Policy:      ticket.FlowPolicy{NeedManualConfirm: true},
		})
		ticket.Register(ticket.Builder{
			TicketType:  ticket.TypeTendbClusterDeleteClear,
			DisplayName: "TendbCluster clear database",
			FuncKey:     "spider.delete_clear_db",
			Policy:      ticket.FlowPolicy{NeedITSM: true, NeedManualConfirm: true, IsSensitive: true},
		})
		ticket.Register(ticket.Builder{
			TicketType:  ticket.TypeESDeletePolaris,
			DisplayName: "ES delete Polaris entry",
			FuncKey:     "es_name_service.delete_polaris",
		})
		ticket.Register(ticket.Builder{
			TicketType:  ticket.TypeESDNSBindCLB,
			DisplayName: "ES bind DNS to CLB",
			FuncKey:     "es_name_service.dns_bind_clb",
		})
		ticket.Register(ticket.Builder{
			TicketType:  ticket.TypeVMDestroy,
			DisplayName: "VictoriaMetrics destroy",
			FuncKey:     "vm.destroy",
			Policy:      ticket.FlowPolicy{NeedITSM: true, IsRecycle: true, Phase: "offline"},
		})
		ticket.Register(ticket.Builder{
			TicketType:  ticket.TypeResourceImport,
			DisplayName: "Import hosts into resource pool",
			FuncKey:     "base.import_resource",
		})
		ticket.Register(ticket.Builder{
			TicketType:  ticket.TypeMySQLSemanticCheck,
			DisplayName: "MySQL semantic check",
			FuncKey:     "mysql.fake_semantic_check",
		})
		ticket.Register(ticket.Builder{
			TicketType:  ticket.TypeMySQLAuthorizeRules,
			DisplayName: "MySQL authorize rules",
			FuncKey:     "mysql.authorize_rules",
			Policy:      ticket.FlowPolicy{NeedITSM: true},
		})
		ticket.Register(ticket.Builder{
			TicketType:  ticket.TypeMySQLProxyAutofix,
			DisplayName: "MySQL proxy in-place autofix",
			FuncKey:     "mysql.proxy_autofix",
		})
		ticket.Register(ticket.Builder{
			TicketType:  ticket.TypeMySQLFailoverDrill,
			DisplayName: "MySQL failover drill",
			FuncKey:     "mysql.failover_drill",
		})
	})
}
