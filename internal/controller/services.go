package controller

import (
	"context"
	"fmt"

	"dbmflow/internal/db"
	"dbmflow/internal/pipeline"
)

// MetaStore is the slice of the database layer the metadata components
// mutate through. Every method is atomic on the store side.
type MetaStore interface {
	CreateCLBEntry(ctx context.Context, clusterID int64, detail db.CLBDetail, creator string) (string, error)
	CreatePolarisEntry(ctx context.Context, clusterID int64, name, creator string) (string, error)
	DeleteEntry(ctx context.Context, clusterID int64, entryType string) error
	BindDomainToCLB(ctx context.Context, clusterID int64, clbIP string) error
	UnbindDomainFromCLB(ctx context.Context, clusterID int64) error
	UpdateClusterPhase(ctx context.Context, clusterID int64, phase string) error
}

// CloudCLBClient talks to the cloud load-balancer API.
type CloudCLBClient interface {
	AllocCLB(ctx context.Context, region string) (db.CLBDetail, error)
	ReleaseCLB(ctx context.Context, clbID string) error
}

func strArg(in pipeline.Input, key string) (string, error) {
	if v, ok := in.Kwargs[key].(string); ok && v != "" {
		return v, nil
	}
	if v, ok := in.Global[key].(string); ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", pipeline.ErrMissingKwarg, key)
}

func intArg(in pipeline.Input, key string) (int64, error) {
	for _, m := range []map[string]any{in.Kwargs, in.Global} {
		switch v := m[key].(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case float64:
			return int64(v), nil
		}
	}
	return 0, fmt.Errorf("%w: %s", pipeline.ErrMissingKwarg, key)
}

// AllocCLBService acquires a CLB. Tickets that already carry an
// allocated CLB pass it through kwargs and the service just records it;
// otherwise the cloud API allocates one. Either way the external id
// lands in trans data for compensation.
type AllocCLBService struct {
	Cloud CloudCLBClient
}

func (s *AllocCLBService) Execute(ctx context.Context, in pipeline.Input) (map[string]any, error) {
	if clbID, err := strArg(in, "clb_id"); err == nil {
		clbIP, _ := strArg(in, "clb_ip")
		return map[string]any{"clb_id": clbID, "clb_ip": clbIP, "clb_preallocated": true}, nil
	}
	if s.Cloud == nil {
		return nil, fmt.Errorf("no clb provided and no cloud client configured")
	}
	region, err := strArg(in, "region")
	if err != nil {
		return nil, err
	}
	detail, err := s.Cloud.AllocCLB(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("alloc clb in %s: %w", region, err)
	}
	return map[string]any{
		"clb_id":      detail.CLBID,
		"clb_ip":      detail.CLBIP,
		"listener_id": detail.ListenerID,
	}, nil
}

func (s *AllocCLBService) Compensate(ctx context.Context, in pipeline.Input) error {
	if pre, _ := in.Trans["clb_preallocated"].(bool); pre {
		return nil
	}
	clbID, ok := in.Trans["clb_id"].(string)
	if !ok || clbID == "" || s.Cloud == nil {
		return nil
	}
	return s.Cloud.ReleaseCLB(ctx, clbID)
}

// CreateCLBEntryService persists the CLB entry and mirrors the DNS
// entry's storage-instance set onto it.
type CreateCLBEntryService struct {
	Store MetaStore
}

func (s *CreateCLBEntryService) Execute(ctx context.Context, in pipeline.Input) (map[string]any, error) {
	clusterID, err := intArg(in, "cluster_id")
	if err != nil {
		return nil, err
	}
	detail := db.CLBDetail{}
	if detail.CLBIP, err = strArg(in, "clb_ip"); err != nil {
		return nil, err
	}
	if detail.CLBID, err = strArg(in, "clb_id"); err != nil {
		return nil, err
	}
	if detail.ListenerID, err = strArg(in, "listener_id"); err != nil {
		return nil, err
	}
	if detail.Region, err = strArg(in, "region"); err != nil {
		return nil, err
	}
	creator, _ := strArg(in, "creator")
	entryID, err := s.Store.CreateCLBEntry(ctx, clusterID, detail, creator)
	if err != nil {
		return nil, err
	}
	return map[string]any{"entry_id": entryID}, nil
}

// CreatePolarisEntryService persists a Polaris name-service entry.
type CreatePolarisEntryService struct {
	Store MetaStore
}

func (s *CreatePolarisEntryService) Execute(ctx context.Context, in pipeline.Input) (map[string]any, error) {
	clusterID, err := intArg(in, "cluster_id")
	if err != nil {
		return nil, err
	}
	name, err := strArg(in, "polaris_name")
	if err != nil {
		return nil, err
	}
	creator, _ := strArg(in, "creator")
	entryID, err := s.Store.CreatePolarisEntry(ctx, clusterID, name, creator)
	if err != nil {
		return nil, err
	}
	return map[string]any{"entry_id": entryID}, nil
}

// DeleteEntryService removes a cluster entry and its detail rows.
type DeleteEntryService struct {
	Store MetaStore
}

func (s *DeleteEntryService) Execute(ctx context.Context, in pipeline.Input) (map[string]any, error) {
	clusterID, err := intArg(in, "cluster_id")
	if err != nil {
		return nil, err
	}
	entryType, err := strArg(in, "entry_type")
	if err != nil {
		return nil, err
	}
	if err := s.Store.DeleteEntry(ctx, clusterID, entryType); err != nil {
		return nil, err
	}
	return nil, nil
}

// BindDomainService points the cluster's immute domain at the CLB ip.
type BindDomainService struct {
	Store MetaStore
}

func (s *BindDomainService) Execute(ctx context.Context, in pipeline.Input) (map[string]any, error) {
	clusterID, err := intArg(in, "cluster_id")
	if err != nil {
		return nil, err
	}
	clbIP, err := strArg(in, "clb_ip")
	if err != nil {
		if v, ok := in.Trans["clb_ip"].(string); ok && v != "" {
			clbIP = v
		} else {
			return nil, err
		}
	}
	if err := s.Store.BindDomainToCLB(ctx, clusterID, clbIP); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *BindDomainService) Compensate(ctx context.Context, in pipeline.Input) error {
	clusterID, err := intArg(in, "cluster_id")
	if err != nil {
		return nil
	}
	return s.Store.UnbindDomainFromCLB(ctx, clusterID)
}

// UnbindDomainService restores direct DNS forwarding for the immute
// domain.
type UnbindDomainService struct {
	Store MetaStore
}

func (s *UnbindDomainService) Execute(ctx context.Context, in pipeline.Input) (map[string]any, error) {
	clusterID, err := intArg(in, "cluster_id")
	if err != nil {
		return nil, err
	}
	if err := s.Store.UnbindDomainFromCLB(ctx, clusterID); err != nil {
		return nil, err
	}
	return nil, nil
}

// UpdateClusterPhaseService transitions the cluster phase inside a
// pipeline, for flows that change phase mid-way rather than in POST.
type UpdateClusterPhaseService struct {
	Store MetaStore
}

func (s *UpdateClusterPhaseService) Execute(ctx context.Context, in pipeline.Input) (map[string]any, error) {
	clusterID, err := intArg(in, "cluster_id")
	if err != nil {
		return nil, err
	}
	phase, err := strArg(in, "phase")
	if err != nil {
		return nil, err
	}
	if err := s.Store.UpdateClusterPhase(ctx, clusterID, phase); err != nil {
		return nil, err
	}
	return nil, nil
}

// ComponentDeps wires every component the controllers reference.
type ComponentDeps struct {
	Store   MetaStore
	Cloud   CloudCLBClient
	Jobs    pipeline.JobDispatcher
	Monitor pipeline.MonitorClient
	SysInfo pipeline.SysInfoStore
}

// RegisterComponents installs the full component catalog. Called once
// per worker process; duplicate registration panics by design of the
// registry.
func RegisterComponents(reg *pipeline.Registry, deps ComponentDeps) {
	reg.Register("noop", pipeline.NoopService{})
	reg.Register("cloud.alloc_clb", &AllocCLBService{Cloud: deps.Cloud})
	reg.Register("meta.create_clb_entry", &CreateCLBEntryService{Store: deps.Store})
	reg.Register("meta.create_polaris_entry", &CreatePolarisEntryService{Store: deps.Store})
	reg.Register("meta.delete_entry", &DeleteEntryService{Store: deps.Store})
	reg.Register("meta.bind_domain_clb", &BindDomainService{Store: deps.Store})
	reg.Register("meta.unbind_domain_clb", &UnbindDomainService{Store: deps.Store})
	reg.Register("meta.update_cluster_phase", &UpdateClusterPhaseService{Store: deps.Store})
	reg.Register("job.push_config", &pipeline.PushConfigService{Jobs: deps.Jobs})
	reg.Register("job.exec_actuator", &pipeline.ExecActuatorService{Jobs: deps.Jobs})
	reg.Register("monitor.shield_alarm", &pipeline.ShieldAlarmService{Monitor: deps.Monitor})
	reg.Register("monitor.unshield_alarm", &pipeline.UnshieldAlarmService{Monitor: deps.Monitor})
	reg.Register("sys.collect_sysinfo", &pipeline.CollectSysInfoService{Jobs: deps.Jobs})
	reg.Register("sys.update_system_info", &pipeline.UpdateSystemInfoService{Store: deps.SysInfo})
}
