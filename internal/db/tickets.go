package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

type ticketPayload struct {
	TicketType  string          `json:"ticket_type"`
	Creator     string          `json:"creator"`
	BkBizID     int64           `json:"bk_biz_id"`
	Remark      string          `json:"remark"`
	Details     json.RawMessage `json:"details"`
	AutoExecute bool            `json:"auto_execute"`
	Status      string          `json:"status"`
}

func (d *DB) CreateTicket(ctx context.Context, payload []byte) (string, error) {
	if d == nil || d.conn == nil {
		return "", errors.New("db required")
	}
	var data ticketPayload
	if err := json.Unmarshal(payload, &data); err != nil {
		return "", err
	}
	if strings.TrimSpace(data.TicketType) == "" {
		return "", errors.New("ticket_type required")
	}
	if strings.TrimSpace(data.Creator) == "" {
		return "", errors.New("creator required")
	}
	if data.Status == "" {
		data.Status = "PENDING"
	}
	id := newID("ticket")
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO tickets(ticket_id, ticket_type, creator, bk_biz_id, remark, status, details_json, auto_execute, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, id, data.TicketType, data.Creator, data.BkBizID, nullString(data.Remark),
		data.Status, []byte(data.Details), data.AutoExecute, time.Now().UTC())
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetTicket returns the ticket with its ordered flows in one query.
func (d *DB) GetTicket(ctx context.Context, ticketID string) ([]byte, error) {
	query := `SELECT jsonb_build_object(
		'ticket_id', t.ticket_id,
		'ticket_type', t.ticket_type,
		'creator', t.creator,
		'bk_biz_id', t.bk_biz_id,
		'remark', t.remark,
		'status', t.status,
		'details', t.details_json,
		'auto_execute', t.auto_execute,
		'created_at', t.created_at,
		'flows', COALESCE((
			SELECT jsonb_agg(jsonb_build_object(
				'flow_id', f.flow_id,
				'flow_type', f.flow_type,
				'status', f.status,
				'seq', f.seq,
				'external_id', f.external_id,
				'err_msg', f.err_msg,
				'start_at', f.start_at,
				'end_at', f.end_at
			) ORDER BY f.seq)
			FROM flows f WHERE f.ticket_id = t.ticket_id
		), '[]'::jsonb)
	)
	FROM tickets t WHERE t.ticket_id=$1`
	row := d.conn.QueryRowContext(ctx, query, ticketID)
	var out []byte
	if err := row.Scan(&out); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

func (d *DB) ListTickets(ctx context.Context, bkBizID int64, limit, offset int) ([]byte, int, error) {
	limit, offset = clampPagination(limit, offset)
	query := `WITH total AS (SELECT COUNT(*) AS cnt FROM tickets WHERE bk_biz_id=$1)
	SELECT COALESCE(jsonb_agg(
		jsonb_build_object(
			'ticket_id', ticket_id,
			'ticket_type', ticket_type,
			'creator', creator,
			'status', status,
			'remark', remark,
			'created_at', created_at
		) ORDER BY created_at DESC
	), '[]'::jsonb),
	(SELECT cnt FROM total)
	FROM (SELECT * FROM tickets WHERE bk_biz_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3) AS sub`
	row := d.conn.QueryRowContext(ctx, query, bkBizID, limit, offset)
	var out []byte
	var total int
	if err := row.Scan(&out, &total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (d *DB) UpdateTicketStatus(ctx context.Context, ticketID, status string) error {
	if ticketID == "" {
		return errors.New("ticket id required")
	}
	_, err := d.conn.ExecContext(ctx, `
		UPDATE tickets SET status=$1, updated_at=$2 WHERE ticket_id=$3
	`, status, time.Now().UTC(), ticketID)
	return err
}

func (d *DB) GetTicketDetails(ctx context.Context, ticketID string) (string, []byte, bool, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT ticket_type, details_json, auto_execute FROM tickets WHERE ticket_id=$1
	`, ticketID)
	var ticketType string
	var details []byte
	var autoExecute bool
	if err := row.Scan(&ticketType, &details, &autoExecute); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, false, nil
		}
		return "", nil, false, err
	}
	return ticketType, details, autoExecute, nil
}
