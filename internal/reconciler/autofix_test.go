package reconciler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"dbmflow/internal/db"
	"dbmflow/internal/ticket"
)

type fakeAutofixStore struct {
	groups    []db.AutofixGroup
	horizon   time.Duration
	submitted []string
	submitErr error
}

func (f *fakeAutofixStore) ListEligibleAutofixTodos(ctx context.Context, horizon time.Duration, now time.Time) ([]db.AutofixGroup, error) {
	f.horizon = horizon
	return f.groups, nil
}

func (f *fakeAutofixStore) SubmitAutofixGroup(ctx context.Context, group db.AutofixGroup, ticketID string, sweepDate string) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, group.CheckID+"/"+group.IP)
	return nil
}

type fakeTicketCreator struct {
	requests []ticket.CreateRequest
	err      error
}

func (f *fakeTicketCreator) Create(ctx context.Context, req ticket.CreateRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.requests = append(f.requests, req)
	return "ticket_afx", nil
}

func TestSweepCreatesOneTicketPerGroup(t *testing.T) {
	store := &fakeAutofixStore{groups: []db.AutofixGroup{
		{CheckID: "chk-1", IP: "10.0.0.1", BkBizID: 3, BkCloudID: 2, Ports: []int{10000, 10001}, TodoIDs: []string{"todo_1", "todo_2"}},
	}}
	tickets := &fakeTicketCreator{}
	s := &AutofixSweeper{Store: store, Tickets: tickets, DBABizID: 1}
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("err: %v", err)
	}
	if store.horizon != 30*time.Minute {
		t.Fatalf("horizon: %v", store.horizon)
	}
	// Two todo rows for the same (check id, ip) collapse to one ticket.
	if len(tickets.requests) != 1 {
		t.Fatalf("requests: %#v", tickets.requests)
	}
	req := tickets.requests[0]
	if req.TicketType != ticket.TypeMySQLProxyAutofix || req.Creator != "dba" || !req.AutoExecute {
		t.Fatalf("request: %#v", req)
	}
	var details map[string]any
	if err := json.Unmarshal(req.Details, &details); err != nil {
		t.Fatalf("details: %v", err)
	}
	if details["check_id"] != "chk-1" || details["ip"] != "10.0.0.1" {
		t.Fatalf("details: %#v", details)
	}
	if len(store.submitted) != 1 {
		t.Fatalf("submitted: %#v", store.submitted)
	}
}

func TestSweepNoEligibleGroups(t *testing.T) {
	store := &fakeAutofixStore{}
	tickets := &fakeTicketCreator{}
	s := &AutofixSweeper{Store: store, Tickets: tickets}
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(tickets.requests) != 0 {
		t.Fatalf("requests: %#v", tickets.requests)
	}
}

func TestSweepConcurrentClaimIsNoop(t *testing.T) {
	store := &fakeAutofixStore{
		groups:    []db.AutofixGroup{{CheckID: "chk-1", IP: "10.0.0.1"}},
		submitErr: db.ErrAutofixAlreadySubmitted,
	}
	tickets := &fakeTicketCreator{}
	s := &AutofixSweeper{Store: store, Tickets: tickets, DBABizID: 1}
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("err: %v", err)
	}
}

func TestSweepUsesDBABizIDFallback(t *testing.T) {
	store := &fakeAutofixStore{groups: []db.AutofixGroup{{CheckID: "chk-1", IP: "10.0.0.1"}}}
	tickets := &fakeTicketCreator{}
	s := &AutofixSweeper{Store: store, Tickets: tickets, DBABizID: 9}
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("err: %v", err)
	}
	if tickets.requests[0].BkBizID != 9 {
		t.Fatalf("bk_biz_id: %d", tickets.requests[0].BkBizID)
	}
}
