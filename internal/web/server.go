package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"dbmflow/internal/metrics"
	"dbmflow/internal/reverseapi"
	"dbmflow/internal/ticket"
)

// TicketStore is the read side of the ticket surface.
type TicketStore interface {
	GetTicket(ctx context.Context, ticketID string) ([]byte, error)
	ListTickets(ctx context.Context, bkBizID int64, limit, offset int) ([]byte, int, error)
}

// TicketManager is the write side: create and lifecycle actions.
type TicketManager interface {
	Create(ctx context.Context, req ticket.CreateRequest) (string, error)
	Approve(ctx context.Context, ticketID string) error
	Confirm(ctx context.Context, ticketID string) error
	Revoke(ctx context.Context, ticketID string) error
	Terminate(ctx context.Context, ticketID string) error
}

// ReverseReporter accepts agent event batches.
type ReverseReporter interface {
	SyncReport(bkCloudID int64, ip string, events []map[string]any) error
}

// CrondConfigProvider serves per-host crond bootstrap payloads.
type CrondConfigProvider interface {
	MySQLCrondConfig(ctx context.Context, bkCloudID int64, ip string) (*reverseapi.CrondConfig, error)
}

type TemporalHealthFunc func(context.Context) error

type Server struct {
	Mux            *http.ServeMux
	Store          TicketStore
	Manager        TicketManager
	Reporter       ReverseReporter
	Crond          CrondConfigProvider
	DBConn         *sql.DB
	TemporalHealth TemporalHealthFunc
	Goroutines     *GoroutineTracker
	AuthToken      string
	MaxRequestBody int64
}

func NewServer(store TicketStore, manager TicketManager) *Server {
	s := &Server{
		Mux:            http.NewServeMux(),
		Store:          store,
		Manager:        manager,
		MaxRequestBody: 1 << 20,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.Mux.HandleFunc("/healthz", s.handleHealthz)
	s.Mux.HandleFunc("/readyz", s.handleReadyz)
	s.Mux.Handle("/metrics", metrics.Handler())

	s.Mux.Handle("/tickets/", s.withAuth(http.HandlerFunc(s.handleTicketByID)))
	s.Mux.Handle("/tickets", s.withAuth(http.HandlerFunc(s.handleTickets)))
	s.Mux.Handle("/ticket_types", s.withAuth(http.HandlerFunc(s.handleTicketTypes)))

	s.Mux.Handle("/reverse/sync_report", s.withAuth(http.HandlerFunc(s.handleSyncReport)))
	s.Mux.Handle("/reverse/mysql_crond_config", s.withAuth(http.HandlerFunc(s.handleCrondConfig)))
}

// Handler wraps the mux with request metrics.
func (s *Server) Handler() http.Handler {
	return metrics.Middleware(s.Mux)
}

// withAuth enforces the shared service token when one is configured.
// The caller's identity rides in the X-DBM-User header.
func (s *Server) withAuth(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.AuthToken != "" && r.Header.Get("X-DBM-Token") != s.AuthToken {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid token"})
			return
		}
		h.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write json response", "error", err)
	}
}

type PaginationMeta struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

func paginatedResponse(w http.ResponseWriter, data json.RawMessage, limit, offset, total int) {
	writeJSON(w, http.StatusOK, map[string]any{
		"data": data,
		"pagination": PaginationMeta{
			Limit:  limit,
			Offset: offset,
			Total:  total,
		},
	})
}

// parsePagination extracts limit and offset from query parameters.
// Defaults: limit=50, max limit=200, offset>=0.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 200 {
		limit = 200
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
