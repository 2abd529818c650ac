package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"dbmflow/internal/errs"
	"dbmflow/internal/reverseapi"
	"dbmflow/internal/ticket"
)

type fakeStore struct {
	tickets     map[string][]byte
	getErr      error
	listPayload []byte
	listTotal   int
	listBizID   int64
}

// GetTicket mirrors the real store: an unknown id is (nil, nil), an
// error means the query itself failed.
func (f *fakeStore) GetTicket(ctx context.Context, ticketID string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.tickets[ticketID], nil
}

func (f *fakeStore) ListTickets(ctx context.Context, bkBizID int64, limit, offset int) ([]byte, int, error) {
	f.listBizID = bkBizID
	if f.listPayload == nil {
		return []byte("[]"), 0, nil
	}
	return f.listPayload, f.listTotal, nil
}

type fakeManager struct {
	created   []ticket.CreateRequest
	createErr error
	actions   []string
	actionErr error
}

func (f *fakeManager) Create(ctx context.Context, req ticket.CreateRequest) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, req)
	return "ticket_web", nil
}

func (f *fakeManager) act(name, ticketID string) error {
	if f.actionErr != nil {
		return f.actionErr
	}
	f.actions = append(f.actions, name+":"+ticketID)
	return nil
}

func (f *fakeManager) Approve(ctx context.Context, ticketID string) error {
	return f.act("approve", ticketID)
}

func (f *fakeManager) Confirm(ctx context.Context, ticketID string) error {
	return f.act("confirm", ticketID)
}

func (f *fakeManager) Revoke(ctx context.Context, ticketID string) error {
	return f.act("revoke", ticketID)
}

func (f *fakeManager) Terminate(ctx context.Context, ticketID string) error {
	return f.act("terminate", ticketID)
}

func newTestServer(t *testing.T) (*Server, *fakeStore, *fakeManager) {
	t.Helper()
	store := &fakeStore{tickets: map[string][]byte{}}
	manager := &fakeManager{}
	return NewServer(store, manager), store, manager
}

func TestCreateTicket(t *testing.T) {
	s, _, manager := newTestServer(t)
	body := `{"bk_biz_id":3,"ticket_type":"VM_DESTROY","details":{"cluster_id":7}}`
	req := httptest.NewRequest(http.MethodPost, "/tickets", strings.NewReader(body))
	req.Header.Set("X-DBM-User", "admin")
	w := httptest.NewRecorder()
	s.Mux.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("status: %d body: %s", w.Code, w.Body.String())
	}
	if len(manager.created) != 1 {
		t.Fatalf("created: %#v", manager.created)
	}
	if manager.created[0].Creator != "admin" {
		t.Fatalf("creator: %q", manager.created[0].Creator)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response: %v", err)
	}
	if resp["ticket_id"] != "ticket_web" {
		t.Fatalf("ticket_id: %q", resp["ticket_id"])
	}
}

func TestCreateTicketValidationError(t *testing.T) {
	s, _, manager := newTestServer(t)
	manager.createErr = errs.TicketDataInvalid.WithArgs(map[string]any{
		"field":  "clb_id",
		"reason": "required",
	})
	body := `{"bk_biz_id":3,"ticket_type":"TENDBCLUSTER_ADD_CLB","details":{},"creator":"admin"}`
	req := httptest.NewRequest(http.MethodPost, "/tickets", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.Mux.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "clb_id") {
		t.Fatalf("body: %s", w.Body.String())
	}
}

func TestCreateTicketRequiresCreator(t *testing.T) {
	s, _, manager := newTestServer(t)
	body := `{"bk_biz_id":3,"ticket_type":"VM_DESTROY","details":{}}`
	req := httptest.NewRequest(http.MethodPost, "/tickets", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.Mux.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", w.Code)
	}
	if len(manager.created) != 0 {
		t.Fatalf("created: %#v", manager.created)
	}
}

func TestGetTicket(t *testing.T) {
	s, store, _ := newTestServer(t)
	store.tickets["ticket_1"] = []byte(`{"ticket_id":"ticket_1","status":"PENDING"}`)
	req := httptest.NewRequest(http.MethodGet, "/tickets/ticket_1", nil)
	w := httptest.NewRecorder()
	s.Mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"PENDING"`) {
		t.Fatalf("body: %s", w.Body.String())
	}
}

func TestGetTicketNotFound(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/tickets/ticket_missing", nil)
	w := httptest.NewRecorder()
	s.Mux.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "null") {
		t.Fatalf("body leaked null payload: %s", w.Body.String())
	}
}

func TestGetTicketStoreError(t *testing.T) {
	s, store, _ := newTestServer(t)
	store.getErr = errors.New("connection reset")
	req := httptest.NewRequest(http.MethodGet, "/tickets/ticket_1", nil)
	w := httptest.NewRecorder()
	s.Mux.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestListTicketsRequiresBizID(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/tickets", nil)
	w := httptest.NewRecorder()
	s.Mux.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestListTicketsPagination(t *testing.T) {
	s, store, _ := newTestServer(t)
	store.listPayload = []byte(`[{"ticket_id":"ticket_1"}]`)
	store.listTotal = 7
	req := httptest.NewRequest(http.MethodGet, "/tickets?bk_biz_id=3&limit=500", nil)
	w := httptest.NewRecorder()
	s.Mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Pagination PaginationMeta `json:"pagination"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response: %v", err)
	}
	// Limit is clamped at 200.
	if resp.Pagination.Limit != 200 || resp.Pagination.Total != 7 {
		t.Fatalf("pagination: %#v", resp.Pagination)
	}
	if store.listBizID != 3 {
		t.Fatalf("bk_biz_id: %d", store.listBizID)
	}
}

func TestTicketActions(t *testing.T) {
	s, _, manager := newTestServer(t)
	for _, action := range []string{"approve", "confirm", "revoke", "terminate"} {
		req := httptest.NewRequest(http.MethodPost, "/tickets/ticket_1/"+action, nil)
		w := httptest.NewRecorder()
		s.Mux.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s status: %d body: %s", action, w.Code, w.Body.String())
		}
	}
	if len(manager.actions) != 4 || manager.actions[0] != "approve:ticket_1" {
		t.Fatalf("actions: %#v", manager.actions)
	}
}

func TestTicketActionWrongStage(t *testing.T) {
	s, _, manager := newTestServer(t)
	manager.actionErr = errs.TicketDataInvalid.WithArgs(map[string]any{
		"field":  "status",
		"reason": "ticket is not waiting for confirmation",
	})
	req := httptest.NewRequest(http.MethodPost, "/tickets/ticket_1/confirm", nil)
	w := httptest.NewRecorder()
	s.Mux.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestTicketUnknownAction(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/tickets/ticket_1/explode", nil)
	w := httptest.NewRecorder()
	s.Mux.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: %d", w.Code)
	}
}

var registerWebTestBuilder sync.Once

func TestTicketTypesListing(t *testing.T) {
	registerWebTestBuilder.Do(func() {
		ticket.Register(ticket.Builder{
			TicketType:  "TEST_WEB_TYPES",
			DisplayName: "web listing sample",
			Policy:      ticket.FlowPolicy{NeedITSM: true},
			FuncKey:     "test.web_types",
		})
	})
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/ticket_types", nil)
	w := httptest.NewRecorder()
	s.Mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var resp struct {
		TicketTypes []map[string]any `json:"ticket_types"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response: %v", err)
	}
	found := false
	for _, tt := range resp.TicketTypes {
		if tt["ticket_type"] == "TEST_WEB_TYPES" {
			found = true
			if tt["need_itsm"] != true {
				t.Fatalf("entry: %#v", tt)
			}
		}
	}
	if !found {
		t.Fatalf("types: %#v", resp.TicketTypes)
	}
}

func TestAuthTokenEnforced(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.AuthToken = "secret"
	req := httptest.NewRequest(http.MethodGet, "/ticket_types", nil)
	w := httptest.NewRecorder()
	s.Mux.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status: %d", w.Code)
	}
	req = httptest.NewRequest(http.MethodGet, "/ticket_types", nil)
	req.Header.Set("X-DBM-Token", "secret")
	w = httptest.NewRecorder()
	s.Mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status with token: %d", w.Code)
	}
	// Health endpoints stay open for probes.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w = httptest.NewRecorder()
	s.Mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz status: %d", w.Code)
	}
}

type fakeReverse struct {
	bkCloudID int64
	ip        string
	events    []map[string]any
	err       error
}

func (f *fakeReverse) SyncReport(bkCloudID int64, ip string, events []map[string]any) error {
	if f.err != nil {
		return f.err
	}
	f.bkCloudID = bkCloudID
	f.ip = ip
	f.events = events
	return nil
}

func TestSyncReportEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	reporter := &fakeReverse{}
	s.Reporter = reporter
	body := `{"bk_cloud_id":2,"events":[{"event_type":"mysql_slowlog"}]}`
	req := httptest.NewRequest(http.MethodPost, "/reverse/sync_report", bytes.NewReader([]byte(body)))
	req.RemoteAddr = "10.0.0.9:43210"
	w := httptest.NewRecorder()
	s.Mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", w.Code, w.Body.String())
	}
	if reporter.bkCloudID != 2 || reporter.ip != "10.0.0.9" || len(reporter.events) != 1 {
		t.Fatalf("reporter: %#v", reporter)
	}
}

func TestSyncReportBatchRejection(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.Reporter = &fakeReverse{err: &reverseapi.BatchError{Events: []reverseapi.EventError{
		{Index: 1, Reason: "event_type is required"},
	}}}
	body := `{"bk_cloud_id":2,"events":[{"event_type":"ok"},{}]}`
	req := httptest.NewRequest(http.MethodPost, "/reverse/sync_report", bytes.NewReader([]byte(body)))
	w := httptest.NewRecorder()
	s.Mux.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", w.Code)
	}
	var resp struct {
		Events []reverseapi.EventError `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response: %v", err)
	}
	if len(resp.Events) != 1 || resp.Events[0].Index != 1 {
		t.Fatalf("events: %#v", resp.Events)
	}
}

func TestSyncReportEmptyBatch(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.Reporter = &fakeReverse{}
	req := httptest.NewRequest(http.MethodPost, "/reverse/sync_report", strings.NewReader(`{"events":[]}`))
	w := httptest.NewRecorder()
	s.Mux.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", w.Code)
	}
}

type fakeCrond struct {
	cfg *reverseapi.CrondConfig
	ip  string
}

func (f *fakeCrond) MySQLCrondConfig(ctx context.Context, bkCloudID int64, ip string) (*reverseapi.CrondConfig, error) {
	f.ip = ip
	return f.cfg, nil
}

func TestCrondConfigEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	crond := &fakeCrond{cfg: &reverseapi.CrondConfig{IP: "10.0.0.9", BkCloudID: 2}}
	s.Crond = crond
	req := httptest.NewRequest(http.MethodGet, "/reverse/mysql_crond_config?bk_cloud_id=2", nil)
	req.RemoteAddr = "10.0.0.9:50000"
	w := httptest.NewRecorder()
	s.Mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", w.Code, w.Body.String())
	}
	if crond.ip != "10.0.0.9" {
		t.Fatalf("ip: %q", crond.ip)
	}
}

func TestReadyzReportsUnavailable(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	s.Mux.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"db"`) {
		t.Fatalf("body: %s", w.Body.String())
	}
}

func TestGoroutineTrackerChecks(t *testing.T) {
	tr := NewGoroutineTracker()
	var wg sync.WaitGroup
	tr.Go(context.Background(), &wg, "reconciler", func(ctx context.Context) error {
		return errors.New("poll loop crashed")
	})
	wg.Wait()
	checks := tr.Checks()
	if checks["reconciler"] != "poll loop crashed" {
		t.Fatalf("checks: %#v", checks)
	}
}
