package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
)

// Auto-fix todo lifecycle values.
const (
	StepInPlaceAutofix = "IN_PLACE_AUTOFIX"
	AutofixUnsubmitted = "UNSUBMITTED"
	AutofixSubmitted   = "SUBMITTED"
)

// ErrAutofixAlreadySubmitted signals that a concurrent sweep already
// created the ticket for this (check_id, ip) today; the caller treats it
// as a no-op.
var ErrAutofixAlreadySubmitted = errors.New("autofix ticket already submitted")

type AutofixGroup struct {
	CheckID   string   `json:"check_id"`
	BkCloudID int64    `json:"bk_cloud_id"`
	BkBizID   int64    `json:"bk_biz_id"`
	IP        string   `json:"ip"`
	Ports     []int    `json:"ports"`
	TodoIDs   []string `json:"todo_ids"`
	Cluster   string   `json:"cluster"`
}

// ListEligibleAutofixTodos selects the proxy auto-fix work that is still
// inside the freshness horizon, grouped the way tickets are emitted: one
// group per (check_id, bk_cloud_id, bk_biz_id, ip). Anything older than
// the horizon is a stale check and must not re-trigger.
func (d *DB) ListEligibleAutofixTodos(ctx context.Context, horizon time.Duration, now time.Time) ([]AutofixGroup, error) {
	cutoff := now.UTC().Add(-horizon)
	query := `SELECT COALESCE(jsonb_agg(
		jsonb_build_object(
			'check_id', check_id,
			'bk_cloud_id', bk_cloud_id,
			'bk_biz_id', bk_biz_id,
			'ip', ip,
			'ports', ports,
			'todo_ids', todo_ids,
			'cluster', cluster
		)
	), '[]'::jsonb)
	FROM (
		SELECT check_id, bk_cloud_id, bk_biz_id, ip,
			jsonb_agg(port ORDER BY port) AS ports,
			jsonb_agg(todo_id ORDER BY todo_id) AS todo_ids,
			MIN(cluster) AS cluster
		FROM mysql_autofix_todo
		WHERE current_step=$1 AND inplace_ticket_status=$2 AND create_at >= $3
		GROUP BY check_id, bk_cloud_id, bk_biz_id, ip
	) AS grouped`
	row := d.conn.QueryRowContext(ctx, query, StepInPlaceAutofix, AutofixUnsubmitted, cutoff)
	var out []byte
	if err := row.Scan(&out); err != nil {
		return nil, err
	}
	var groups []AutofixGroup
	if len(out) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(out, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// SubmitAutofixGroup records the emitted ticket and flips the group's todo
// rows to SUBMITTED in one transaction. The unique index on
// (check_id, ip, sweep_date) makes a concurrent sweep's insert fail, which
// surfaces as ErrAutofixAlreadySubmitted.
func (d *DB) SubmitAutofixGroup(ctx context.Context, group AutofixGroup, ticketID string, sweepDate string) error {
	if ticketID == "" {
		return errors.New("ticket id required")
	}
	return d.withTx(ctx, func(conn dbConn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO mysql_autofix_ticket_status(status_id, check_id, ip, sweep_date, ticket_id, status, create_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, newID("afx"), group.CheckID, group.IP, sweepDate, ticketID, AutofixSubmitted, time.Now().UTC())
		if err != nil {
			if isUniqueViolation(err) {
				return ErrAutofixAlreadySubmitted
			}
			return err
		}
		_, err = conn.ExecContext(ctx, `
			UPDATE mysql_autofix_todo SET inplace_ticket_status=$1
			WHERE todo_id = ANY($2)
		`, AutofixSubmitted, pq.Array(group.TodoIDs))
		return err
	})
}

// InsertAutofixTodo seeds a todo row; used by the reverse-report ingest
// path and by tests.
func (d *DB) InsertAutofixTodo(ctx context.Context, group AutofixGroup, port int, cluster string, createAt time.Time) (string, error) {
	todoID := newID("todo")
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO mysql_autofix_todo(todo_id, check_id, bk_cloud_id, bk_biz_id, ip, port, cluster, current_step, inplace_ticket_status, create_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, todoID, group.CheckID, group.BkCloudID, group.BkBizID, group.IP, port, cluster,
		StepInPlaceAutofix, AutofixUnsubmitted, createAt.UTC())
	if err != nil {
		return "", err
	}
	return todoID, nil
}
