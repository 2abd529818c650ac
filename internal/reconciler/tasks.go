package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"dbmflow/internal/db"
	"dbmflow/internal/pipeline"
	"dbmflow/internal/ticket"
)

// StatStore is what the extension-stat sync reads and writes.
type StatStore interface {
	EntryTypeCounts(ctx context.Context) (map[string]int64, error)
	PutSystemSetting(ctx context.Context, key string, value []byte) error
}

// SystemSettingKeyExtensionStat holds the latest cloud-component entry
// counts for the ops dashboard.
const SystemSettingKeyExtensionStat = "EXTENSION_STAT"

// SyncExtensionStats snapshots per-type entry counts into system
// settings.
func SyncExtensionStats(store StatStore) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		counts, err := store.EntryTypeCounts(ctx)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(map[string]any{
			"counts":     counts,
			"updated_at": time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		return store.PutSystemSetting(ctx, SystemSettingKeyExtensionStat, payload)
	}
}

// ForwardStore lists the routable DNS entries the nginx frontend
// serves.
type ForwardStore interface {
	ListEntryForwards(ctx context.Context) ([]db.EntryForward, error)
}

// SyncNginxConf pushes the current domain-to-forward map to the
// cluster-service nginx hosts through the job sidecar.
func SyncNginxConf(store ForwardStore, jobs pipeline.JobDispatcher) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		forwards, err := store.ListEntryForwards(ctx)
		if err != nil {
			return err
		}
		if len(forwards) == 0 {
			return nil
		}
		upstreams := make([]map[string]any, 0, len(forwards))
		for _, f := range forwards {
			upstreams = append(upstreams, map[string]any{
				"server_name": f.Domain,
				"proxy_pass":  f.Forward,
			})
		}
		_, err = jobs.Dispatch(ctx, pipeline.JobPayload{
			JobType: "nginx_conf_sync",
			Params:  map[string]any{"upstreams": upstreams},
		})
		return err
	}
}

type drillSpec struct {
	BkBizID   int64  `json:"bk_biz_id"`
	ClusterID int64  `json:"cluster_id"`
	DrillKind string `json:"drill_kind"`
}

// CreateFailoverDrills reads the drill spec file and submits one
// MYSQL_FAILOVER_DRILL ticket per listed cluster.
func CreateFailoverDrills(tickets TicketCreator, specPath string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		raw, err := os.ReadFile(specPath)
		if err != nil {
			return fmt.Errorf("read drill spec: %w", err)
		}
		var specs []drillSpec
		if err := json.Unmarshal(raw, &specs); err != nil {
			return fmt.Errorf("decode drill spec: %w", err)
		}
		for _, spec := range specs {
			details, err := json.Marshal(map[string]any{
				"cluster_id": spec.ClusterID,
				"drill_kind": spec.DrillKind,
			})
			if err != nil {
				return err
			}
			if _, err := tickets.Create(ctx, ticket.CreateRequest{
				BkBizID:     spec.BkBizID,
				TicketType:  ticket.TypeMySQLFailoverDrill,
				Details:     details,
				Remark:      "scheduled failover drill",
				Creator:     "dba",
				AutoExecute: true,
			}); err != nil {
				return err
			}
		}
		return nil
	}
}
