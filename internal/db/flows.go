package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"dbmflow/internal/metrics"
)

type FlowSeed struct {
	FlowType string          `json:"flow_type"`
	Details  json.RawMessage `json:"details"`
}

type FlowRef struct {
	FlowID     string `json:"flow_id"`
	TicketID   string `json:"ticket_id"`
	FlowType   string `json:"flow_type"`
	Status     string `json:"status"`
	Seq        int    `json:"seq"`
	ExternalID string `json:"external_id"`
}

// CreateFlows inserts the ticket's flow rows in stage order, all in one
// transaction so a ticket never exists with a partial flow sequence.
func (d *DB) CreateFlows(ctx context.Context, ticketID string, seeds []FlowSeed) ([]string, error) {
	if ticketID == "" {
		return nil, errors.New("ticket id required")
	}
	if len(seeds) == 0 {
		return nil, errors.New("at least one flow required")
	}
	ids := make([]string, 0, len(seeds))
	err := d.withTx(ctx, func(conn dbConn) error {
		now := time.Now().UTC()
		for i, seed := range seeds {
			flowID := newID("flow")
			var details any
			if len(seed.Details) > 0 {
				details = []byte(seed.Details)
			}
			if _, err := conn.ExecContext(ctx, `
				INSERT INTO flows(flow_id, ticket_id, flow_type, status, seq, details_json, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, flowID, ticketID, seed.FlowType, "PENDING", i, details, now); err != nil {
				return err
			}
			ids = append(ids, flowID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (d *DB) GetFlow(ctx context.Context, flowID string) (*FlowRef, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT flow_id, ticket_id, flow_type, status, seq, COALESCE(external_id, '')
		FROM flows WHERE flow_id=$1
	`, flowID)
	var ref FlowRef
	if err := row.Scan(&ref.FlowID, &ref.TicketID, &ref.FlowType, &ref.Status, &ref.Seq, &ref.ExternalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ref, nil
}

// NextPendingFlow returns the ticket's lowest-seq PENDING flow, or nil
// when every stage has run.
func (d *DB) NextPendingFlow(ctx context.Context, ticketID string) (*FlowRef, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT flow_id, ticket_id, flow_type, status, seq, COALESCE(external_id, '')
		FROM flows WHERE ticket_id=$1 AND status='PENDING'
		ORDER BY seq LIMIT 1
	`, ticketID)
	var ref FlowRef
	if err := row.Scan(&ref.FlowID, &ref.TicketID, &ref.FlowType, &ref.Status, &ref.Seq, &ref.ExternalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ref, nil
}

// CurrentFlow returns the ticket's lowest-seq flow that has not reached
// a terminal status, or nil when the ticket is done.
func (d *DB) CurrentFlow(ctx context.Context, ticketID string) (*FlowRef, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT flow_id, ticket_id, flow_type, status, seq, COALESCE(external_id, '')
		FROM flows WHERE ticket_id=$1 AND status IN ('PENDING', 'RUNNING')
		ORDER BY seq LIMIT 1
	`, ticketID)
	var ref FlowRef
	if err := row.Scan(&ref.FlowID, &ref.TicketID, &ref.FlowType, &ref.Status, &ref.Seq, &ref.ExternalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ref, nil
}

func (d *DB) StartFlow(ctx context.Context, flowID string) error {
	_, err := d.conn.ExecContext(ctx, `
		UPDATE flows SET status='RUNNING', start_at=$1 WHERE flow_id=$2
	`, time.Now().UTC(), flowID)
	return err
}

// CompleteFlow stamps the terminal status and records the flow's wall
// duration, measured from the start_at the RUNNING transition wrote.
func (d *DB) CompleteFlow(ctx context.Context, flowID, status, errMsg string) error {
	if flowID == "" {
		return errors.New("flow id required")
	}
	now := time.Now().UTC()
	row := d.conn.QueryRowContext(ctx, `
		UPDATE flows SET status=$1, err_msg=$2, end_at=$3 WHERE flow_id=$4
		RETURNING flow_type, start_at
	`, status, nullString(errMsg), now, flowID)
	var flowType string
	var startAt sql.NullTime
	if err := row.Scan(&flowType, &startAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	// Flows completed without ever starting (skipped stages) have no
	// start_at and no duration to report.
	if startAt.Valid {
		metrics.FlowDuration.WithLabelValues(flowType).Observe(now.Sub(startAt.Time).Seconds())
	}
	return nil
}

func (d *DB) SetFlowExternalID(ctx context.Context, flowID, externalID string) error {
	_, err := d.conn.ExecContext(ctx, `
		UPDATE flows SET external_id=$1 WHERE flow_id=$2
	`, nullString(externalID), flowID)
	return err
}

// SetFlowControllerInfo persists the controller invocation snapshot so a
// restarted worker can rebuild the controller from the flow row alone.
func (d *DB) SetFlowControllerInfo(ctx context.Context, flowID string, info []byte) error {
	if flowID == "" {
		return errors.New("flow id required")
	}
	_, err := d.conn.ExecContext(ctx, `
		UPDATE flows SET controller_info_json=$1 WHERE flow_id=$2
	`, info, flowID)
	return err
}

func (d *DB) GetFlowControllerInfo(ctx context.Context, flowID string) ([]byte, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT controller_info_json FROM flows WHERE flow_id=$1
	`, flowID)
	var out []byte
	if err := row.Scan(&out); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}
