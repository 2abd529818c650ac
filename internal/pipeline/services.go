package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// MonitorClient shields and unshields alarms on the monitoring platform.
type MonitorClient interface {
	Shield(ctx context.Context, ips []string, durationSecs int) (string, error)
	Unshield(ctx context.Context, shieldID string) error
}

// The worker registers every component even when an optional backend
// address is unset; a service whose client is nil must fail cleanly
// instead of panicking through the retry policy.
var (
	ErrNoMonitorClient = errors.New("no monitor client configured")
	ErrNoJobDispatcher = errors.New("no job dispatcher configured")
)

// SysInfoStore persists refreshed machine metadata.
type SysInfoStore interface {
	UpdateMachineSysInfo(ctx context.Context, ip string, info map[string]any) error
}

func ipsKwarg(in Input) ([]string, error) {
	raw, ok := in.Kwargs["ips"]
	if !ok {
		return nil, fmt.Errorf("%w: ips", ErrMissingKwarg)
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		ips := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("ips entry %v is not a string", item)
			}
			ips = append(ips, s)
		}
		return ips, nil
	default:
		return nil, fmt.Errorf("ips has unexpected type %T", raw)
	}
}

// PushConfigService ships a rendered config bundle to hosts through the
// job sidecar.
type PushConfigService struct {
	Jobs JobDispatcher
}

func (s *PushConfigService) Execute(ctx context.Context, in Input) (map[string]any, error) {
	if s.Jobs == nil {
		return nil, ErrNoJobDispatcher
	}
	ips, err := ipsKwarg(in)
	if err != nil {
		return nil, err
	}
	confType, err := stringKwarg(in, "conf_type")
	if err != nil {
		return nil, err
	}
	cloudID, _ := int64Kwarg(in, "bk_cloud_id")
	jobID, err := s.Jobs.Dispatch(ctx, JobPayload{
		JobType:   "push_config",
		RootID:    in.RootID,
		NodeID:    in.NodeID,
		BkCloudID: cloudID,
		IPs:       ips,
		Params:    map[string]any{"conf_type": confType},
	})
	if err != nil {
		return nil, fmt.Errorf("push config: %w", err)
	}
	return map[string]any{"job_id": jobID}, nil
}

// ExecActuatorService runs a database actuator command on hosts through
// the job sidecar.
type ExecActuatorService struct {
	Jobs JobDispatcher
}

func (s *ExecActuatorService) Execute(ctx context.Context, in Input) (map[string]any, error) {
	if s.Jobs == nil {
		return nil, ErrNoJobDispatcher
	}
	ips, err := ipsKwarg(in)
	if err != nil {
		return nil, err
	}
	jobType, err := stringKwarg(in, "job_type")
	if err != nil {
		return nil, err
	}
	cloudID, _ := int64Kwarg(in, "bk_cloud_id")
	params := map[string]any{}
	if extra, ok := in.Kwargs["params"].(map[string]any); ok {
		for k, v := range extra {
			params[k] = v
		}
	}
	jobID, err := s.Jobs.Dispatch(ctx, JobPayload{
		JobType:   jobType,
		RootID:    in.RootID,
		NodeID:    in.NodeID,
		BkCloudID: cloudID,
		IPs:       ips,
		Params:    params,
	})
	if err != nil {
		return nil, fmt.Errorf("exec actuator %s: %w", jobType, err)
	}
	return map[string]any{"job_id": jobID}, nil
}

// ShieldAlarmService creates a monitoring shield and records the returned
// id in trans data for the paired unshield activity.
type ShieldAlarmService struct {
	Monitor MonitorClient
}

func (s *ShieldAlarmService) Execute(ctx context.Context, in Input) (map[string]any, error) {
	if s.Monitor == nil {
		return nil, ErrNoMonitorClient
	}
	ips, err := ipsKwarg(in)
	if err != nil {
		return nil, err
	}
	duration := 3600
	if d, err := int64Kwarg(in, "duration_secs"); err == nil && d > 0 {
		duration = int(d)
	}
	shieldID, err := s.Monitor.Shield(ctx, ips, duration)
	if err != nil {
		return nil, fmt.Errorf("shield alarms: %w", err)
	}
	return map[string]any{"alarm_shield_id": shieldID}, nil
}

func (s *ShieldAlarmService) Compensate(ctx context.Context, in Input) error {
	shieldID, ok := in.Trans["alarm_shield_id"].(string)
	if !ok || shieldID == "" {
		return nil
	}
	if s.Monitor == nil {
		return ErrNoMonitorClient
	}
	return s.Monitor.Unshield(ctx, shieldID)
}

// UnshieldAlarmService releases the shield recorded upstream. A missing
// shield id is not an error; the shield activity may have been skipped.
type UnshieldAlarmService struct {
	Monitor MonitorClient
}

func (s *UnshieldAlarmService) Execute(ctx context.Context, in Input) (map[string]any, error) {
	shieldID, ok := in.Trans["alarm_shield_id"].(string)
	if !ok || shieldID == "" {
		slog.Info("no alarm shield to release", "root_id", in.RootID, "node_id", in.NodeID)
		return nil, nil
	}
	if s.Monitor == nil {
		return nil, ErrNoMonitorClient
	}
	if err := s.Monitor.Unshield(ctx, shieldID); err != nil {
		return nil, fmt.Errorf("unshield %s: %w", shieldID, err)
	}
	return nil, nil
}

// CollectSysInfoService gathers host facts through the job sidecar and
// publishes them for the downstream update activity.
type CollectSysInfoService struct {
	Jobs JobDispatcher
}

func (s *CollectSysInfoService) Execute(ctx context.Context, in Input) (map[string]any, error) {
	if s.Jobs == nil {
		return nil, ErrNoJobDispatcher
	}
	ips, err := ipsKwarg(in)
	if err != nil {
		return nil, err
	}
	cloudID, _ := int64Kwarg(in, "bk_cloud_id")
	jobID, err := s.Jobs.Dispatch(ctx, JobPayload{
		JobType:   "collect_sysinfo",
		RootID:    in.RootID,
		NodeID:    in.NodeID,
		BkCloudID: cloudID,
		IPs:       ips,
	})
	if err != nil {
		return nil, fmt.Errorf("collect sysinfo: %w", err)
	}
	return map[string]any{"sysinfo_job_id": jobID, "sysinfo_ips": ips}, nil
}

// UpdateSystemInfoService writes collected facts back onto machine rows.
type UpdateSystemInfoService struct {
	Store SysInfoStore
}

func (s *UpdateSystemInfoService) Execute(ctx context.Context, in Input) (map[string]any, error) {
	ips, err := ipsKwarg(in)
	if err != nil {
		return nil, err
	}
	info, _ := in.Trans["sysinfo"].(map[string]any)
	for _, ip := range ips {
		if err := s.Store.UpdateMachineSysInfo(ctx, ip, info); err != nil {
			return nil, fmt.Errorf("update sysinfo for %s: %w", ip, err)
		}
	}
	return nil, nil
}

// NoopService succeeds without side effects. Fake scenes register it so a
// dry run walks the full tree without touching anything.
type NoopService struct{}

func (NoopService) Execute(ctx context.Context, in Input) (map[string]any, error) {
	slog.Info("noop activity", "root_id", in.RootID, "node_id", in.NodeID, "name", in.Kwargs["name"])
	return nil, nil
}
