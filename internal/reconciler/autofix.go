package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"dbmflow/internal/db"
	"dbmflow/internal/ticket"
)

// autofixHorizon bounds how old a todo may be and still get a ticket.
const autofixHorizon = 30 * time.Minute

// AutofixStore is the slice of the database layer the sweeper needs.
type AutofixStore interface {
	ListEligibleAutofixTodos(ctx context.Context, horizon time.Duration, now time.Time) ([]db.AutofixGroup, error)
	SubmitAutofixGroup(ctx context.Context, group db.AutofixGroup, ticketID string, sweepDate string) error
}

// TicketCreator submits tickets; the sweeper uses it like any other
// ticket caller.
type TicketCreator interface {
	Create(ctx context.Context, req ticket.CreateRequest) (string, error)
}

// AutofixSweeper turns unsubmitted in-place-autofix todos into
// MYSQL_PROXY_AUTOFIX tickets, one per (check id, ip) per sweep.
type AutofixSweeper struct {
	Store    AutofixStore
	Tickets  TicketCreator
	DBABizID int64

	// Now is a seam for tests.
	Now func() time.Time
}

func (s *AutofixSweeper) Sweep(ctx context.Context) error {
	now := s.now()
	groups, err := s.Store.ListEligibleAutofixTodos(ctx, autofixHorizon, now)
	if err != nil {
		return err
	}
	sweepDate := now.Format("2006-01-02")
	for _, group := range groups {
		details, err := json.Marshal(map[string]any{
			"check_id":    group.CheckID,
			"ip":          group.IP,
			"bk_cloud_id": group.BkCloudID,
			"ports":       group.Ports,
			"cluster":     group.Cluster,
		})
		if err != nil {
			return err
		}
		ticketID, err := s.Tickets.Create(ctx, ticket.CreateRequest{
			BkBizID:     s.bizID(group),
			TicketType:  ticket.TypeMySQLProxyAutofix,
			Details:     details,
			Remark:      "periodic proxy autofix",
			Creator:     "dba",
			AutoExecute: true,
		})
		if err != nil {
			slog.Error("autofix ticket create failed", "check_id", group.CheckID, "ip", group.IP, "error", err)
			continue
		}
		if err := s.Store.SubmitAutofixGroup(ctx, group, ticketID, sweepDate); err != nil {
			if errors.Is(err, db.ErrAutofixAlreadySubmitted) {
				// A concurrent sweep claimed this group first.
				slog.Warn("autofix group already submitted",
					"check_id", group.CheckID, "ip", group.IP, "ticket_id", ticketID)
				continue
			}
			return err
		}
	}
	return nil
}

func (s *AutofixSweeper) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *AutofixSweeper) bizID(group db.AutofixGroup) int64 {
	if group.BkBizID > 0 {
		return group.BkBizID
	}
	return s.DBABizID
}
