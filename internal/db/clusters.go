package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// Cluster entry access-point types.
const (
	EntryTypeDNS     = "dns"
	EntryTypeCLB     = "clb"
	EntryTypePolaris = "polaris"
)

type ClusterRef struct {
	ClusterID    int64  `json:"cluster_id"`
	ImmuteDomain string `json:"immute_domain"`
	ClusterType  string `json:"cluster_type"`
	BkBizID      int64  `json:"bk_biz_id"`
	BkCloudID    int64  `json:"bk_cloud_id"`
	Phase        string `json:"phase"`
}

func (d *DB) GetCluster(ctx context.Context, clusterID int64) (*ClusterRef, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT cluster_id, immute_domain, cluster_type, bk_biz_id, bk_cloud_id, phase
		FROM clusters WHERE cluster_id=$1
	`, clusterID)
	var ref ClusterRef
	if err := row.Scan(&ref.ClusterID, &ref.ImmuteDomain, &ref.ClusterType, &ref.BkBizID, &ref.BkCloudID, &ref.Phase); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ref, nil
}

func (d *DB) GetClusterByDomain(ctx context.Context, immuteDomain string) (*ClusterRef, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT cluster_id, immute_domain, cluster_type, bk_biz_id, bk_cloud_id, phase
		FROM clusters WHERE immute_domain=$1
	`, immuteDomain)
	var ref ClusterRef
	if err := row.Scan(&ref.ClusterID, &ref.ImmuteDomain, &ref.ClusterType, &ref.BkBizID, &ref.BkCloudID, &ref.Phase); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ref, nil
}

func (d *DB) UpdateClusterPhase(ctx context.Context, clusterID int64, phase string) error {
	if phase == "" {
		return errors.New("phase required")
	}
	_, err := d.conn.ExecContext(ctx, `
		UPDATE clusters SET phase=$1, updated_at=$2 WHERE cluster_id=$3
	`, phase, time.Now().UTC(), clusterID)
	return err
}

// GetClusterGraph reads the cluster with its entries and each entry's
// bound storage-instance set in one query, so the caller observes a
// consistent snapshot of the whole entity graph.
func (d *DB) GetClusterGraph(ctx context.Context, clusterID int64) ([]byte, error) {
	query := `SELECT jsonb_build_object(
		'cluster_id', c.cluster_id,
		'immute_domain', c.immute_domain,
		'cluster_type', c.cluster_type,
		'bk_biz_id', c.bk_biz_id,
		'bk_cloud_id', c.bk_cloud_id,
		'phase', c.phase,
		'entries', COALESCE((
			SELECT jsonb_agg(jsonb_build_object(
				'entry_id', e.entry_id,
				'entry_type', e.entry_type,
				'entry', e.entry,
				'storage_instances', COALESCE((
					SELECT jsonb_agg(b.instance_id ORDER BY b.instance_id)
					FROM cluster_entry_instances b WHERE b.entry_id = e.entry_id
				), '[]'::jsonb)
			) ORDER BY e.entry_type, e.entry)
			FROM cluster_entries e WHERE e.cluster_id = c.cluster_id
		), '[]'::jsonb)
	)
	FROM clusters c WHERE c.cluster_id=$1`
	row := d.conn.QueryRowContext(ctx, query, clusterID)
	var out []byte
	if err := row.Scan(&out); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

// EntryStorageInstances returns the sorted storage-instance ids bound to
// the cluster's entry of the given type.
func (d *DB) EntryStorageInstances(ctx context.Context, clusterID int64, entryType string) ([]int64, error) {
	query := `SELECT COALESCE(jsonb_agg(b.instance_id ORDER BY b.instance_id), '[]'::jsonb)
	FROM cluster_entries e
	JOIN cluster_entry_instances b ON b.entry_id = e.entry_id
	WHERE e.cluster_id=$1 AND e.entry_type=$2`
	row := d.conn.QueryRowContext(ctx, query, clusterID, entryType)
	var out []byte
	if err := row.Scan(&out); err != nil {
		return nil, err
	}
	var ids []int64
	if len(out) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(out, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// EntryTypeCounts returns how many entries of each access-point type
// exist across all clusters.
func (d *DB) EntryTypeCounts(ctx context.Context) (map[string]int64, error) {
	query := `SELECT COALESCE(jsonb_object_agg(t.entry_type, t.cnt), '{}'::jsonb)
	FROM (SELECT entry_type, COUNT(*) AS cnt FROM cluster_entries GROUP BY entry_type) t`
	row := d.conn.QueryRowContext(ctx, query)
	var out []byte
	if err := row.Scan(&out); err != nil {
		return nil, err
	}
	counts := map[string]int64{}
	if len(out) == 0 {
		return counts, nil
	}
	if err := json.Unmarshal(out, &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

// EntryForward is one routable service entry for the cluster-service
// nginx frontend.
type EntryForward struct {
	Domain  string `json:"domain"`
	Forward string `json:"forward"`
}

// ListEntryForwards returns every DNS entry with a non-empty forward
// value, ordered by domain.
func (d *DB) ListEntryForwards(ctx context.Context) ([]EntryForward, error) {
	query := `SELECT COALESCE(jsonb_agg(jsonb_build_object(
		'domain', e.entry,
		'forward', e.forward_value
	) ORDER BY e.entry), '[]'::jsonb)
	FROM cluster_entries e
	WHERE e.entry_type='dns' AND COALESCE(e.forward_value, '') <> ''`
	row := d.conn.QueryRowContext(ctx, query)
	var out []byte
	if err := row.Scan(&out); err != nil {
		return nil, err
	}
	var forwards []EntryForward
	if len(out) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(out, &forwards); err != nil {
		return nil, err
	}
	return forwards, nil
}
