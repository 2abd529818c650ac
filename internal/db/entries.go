package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dbmflow/internal/errs"
)

type CLBDetail struct {
	CLBIP      string `json:"clb_ip"`
	CLBID      string `json:"clb_id"`
	ListenerID string `json:"listener_id"`
	Region     string `json:"region"`
}

// CreateCLBEntry creates the cluster's CLB access point inside one
// transaction: the entry row, its detail row, and a mirror of the DNS
// entry's storage-instance set taken at bind time. Any failure rolls the
// whole change back; a duplicate entry surfaces as ClusterEntryExist.
func (d *DB) CreateCLBEntry(ctx context.Context, clusterID int64, detail CLBDetail, creator string) (string, error) {
	if detail.CLBIP == "" {
		return "", errors.New("clb_ip required")
	}
	entryID := newID("entry")
	err := d.withTx(ctx, func(conn dbConn) error {
		if err := insertEntry(ctx, conn, entryID, clusterID, EntryTypeCLB, detail.CLBIP, creator); err != nil {
			return err
		}
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO clb_entry_details(entry_id, clb_ip, clb_id, listener_id, region)
			VALUES ($1, $2, $3, $4, $5)
		`, entryID, detail.CLBIP, detail.CLBID, detail.ListenerID, detail.Region); err != nil {
			return fmt.Errorf("insert clb detail: %w", err)
		}
		return mirrorDNSInstances(ctx, conn, clusterID, entryID)
	})
	if err != nil {
		return "", err
	}
	return entryID, nil
}

// CreatePolarisEntry creates a polaris access point for the cluster.
func (d *DB) CreatePolarisEntry(ctx context.Context, clusterID int64, name, creator string) (string, error) {
	if name == "" {
		return "", errors.New("polaris name required")
	}
	entryID := newID("entry")
	err := d.withTx(ctx, func(conn dbConn) error {
		if err := insertEntry(ctx, conn, entryID, clusterID, EntryTypePolaris, name, creator); err != nil {
			return err
		}
		return mirrorDNSInstances(ctx, conn, clusterID, entryID)
	})
	if err != nil {
		return "", err
	}
	return entryID, nil
}

// DeleteEntry removes the cluster's entry of the given type together with
// its detail and binding rows.
func (d *DB) DeleteEntry(ctx context.Context, clusterID int64, entryType string) error {
	return d.withTx(ctx, func(conn dbConn) error {
		row := conn.QueryRowContext(ctx, `
			SELECT entry_id FROM cluster_entries WHERE cluster_id=$1 AND entry_type=$2
		`, clusterID, entryType)
		var entryID string
		if err := row.Scan(&entryID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errs.ClusterEntryNotExist.WithArgs(map[string]any{
					"cluster_id": clusterID,
					"entry_type": entryType,
				})
			}
			return err
		}
		if _, err := conn.ExecContext(ctx, `DELETE FROM cluster_entry_instances WHERE entry_id=$1`, entryID); err != nil {
			return err
		}
		if _, err := conn.ExecContext(ctx, `DELETE FROM clb_entry_details WHERE entry_id=$1`, entryID); err != nil {
			return err
		}
		_, err := conn.ExecContext(ctx, `DELETE FROM cluster_entries WHERE entry_id=$1`, entryID)
		return err
	})
}

// BindDomainToCLB repoints the cluster's DNS entry at the CLB ip.
// UnbindDomainFromCLB is its inverse; both only touch the dns forward value.
func (d *DB) BindDomainToCLB(ctx context.Context, clusterID int64, clbIP string) error {
	return d.setDNSForward(ctx, clusterID, clbIP)
}

func (d *DB) UnbindDomainFromCLB(ctx context.Context, clusterID int64) error {
	return d.setDNSForward(ctx, clusterID, "")
}

func (d *DB) setDNSForward(ctx context.Context, clusterID int64, forward string) error {
	res, err := d.conn.ExecContext(ctx, `
		UPDATE cluster_entries SET forward_value=$1, updated_at=$2
		WHERE cluster_id=$3 AND entry_type=$4
	`, nullString(forward), time.Now().UTC(), clusterID, EntryTypeDNS)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errs.ClusterEntryNotExist.WithArgs(map[string]any{
			"cluster_id": clusterID,
			"entry_type": EntryTypeDNS,
		})
	}
	return nil
}

func (d *DB) GetCLBDetail(ctx context.Context, clusterID int64) (*CLBDetail, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT dt.clb_ip, dt.clb_id, dt.listener_id, dt.region
		FROM cluster_entries e
		JOIN clb_entry_details dt ON dt.entry_id = e.entry_id
		WHERE e.cluster_id=$1 AND e.entry_type=$2
	`, clusterID, EntryTypeCLB)
	var detail CLBDetail
	if err := row.Scan(&detail.CLBIP, &detail.CLBID, &detail.ListenerID, &detail.Region); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &detail, nil
}

func insertEntry(ctx context.Context, conn dbConn, entryID string, clusterID int64, entryType, entry, creator string) error {
	_, err := conn.ExecContext(ctx, `
		INSERT INTO cluster_entries(entry_id, cluster_id, entry_type, entry, creator, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entryID, clusterID, entryType, entry, nullString(creator), time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return errs.ClusterEntryExist.WithArgs(map[string]any{
				"cluster_id": clusterID,
				"entry_type": entryType,
				"entry":      entry,
			})
		}
		return err
	}
	return nil
}

// mirrorDNSInstances copies the DNS entry's storage-instance bindings onto
// the new entry. The set is whatever the DNS entry holds at bind time.
func mirrorDNSInstances(ctx context.Context, conn dbConn, clusterID int64, entryID string) error {
	_, err := conn.ExecContext(ctx, `
		INSERT INTO cluster_entry_instances(entry_id, instance_id)
		SELECT $1, b.instance_id
		FROM cluster_entries e
		JOIN cluster_entry_instances b ON b.entry_id = e.entry_id
		WHERE e.cluster_id=$2 AND e.entry_type=$3
	`, entryID, clusterID, EntryTypeDNS)
	if err != nil {
		return fmt.Errorf("mirror dns instances: %w", err)
	}
	return nil
}
