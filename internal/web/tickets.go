package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"dbmflow/internal/errs"
	"dbmflow/internal/ticket"
)

func (s *Server) handleTickets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if s.Store == nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		bkBizID, err := strconv.ParseInt(r.URL.Query().Get("bk_biz_id"), 10, 64)
		if err != nil || bkBizID <= 0 {
			http.Error(w, "bk_biz_id required", http.StatusBadRequest)
			return
		}
		limit, offset := parsePagination(r)
		payload, total, err := s.Store.ListTickets(r.Context(), bkBizID, limit, offset)
		if err != nil {
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}
		paginatedResponse(w, payload, limit, offset, total)
	case http.MethodPost:
		if s.Manager == nil {
			http.Error(w, "manager unavailable", http.StatusServiceUnavailable)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody())
		var req ticket.CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Creator == "" {
			req.Creator = strings.TrimSpace(r.Header.Get("X-DBM-User"))
		}
		if req.Creator == "" {
			http.Error(w, "creator required", http.StatusBadRequest)
			return
		}
		ticketID, err := s.Manager.Create(r.Context(), req)
		if err != nil {
			if errors.Is(err, errs.TicketDataInvalid) {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
				return
			}
			http.Error(w, "create failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"ticket_id": ticketID})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTicketByID serves GET /tickets/{id} and the lifecycle action
// endpoints POST /tickets/{id}/{approve|confirm|revoke|terminate}.
func (s *Server) handleTicketByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/tickets/")
	ticketID, action, hasAction := strings.Cut(rest, "/")
	if ticketID == "" {
		http.Error(w, "ticket id required", http.StatusBadRequest)
		return
	}
	if !hasAction {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if s.Store == nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		payload, err := s.Store.GetTicket(r.Context(), ticketID)
		if err != nil {
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}
		// The store reports an unknown id as a nil payload, not an error.
		if len(payload) == 0 {
			http.Error(w, "ticket not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, json.RawMessage(payload))
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Manager == nil {
		http.Error(w, "manager unavailable", http.StatusServiceUnavailable)
		return
	}
	var err error
	switch action {
	case "approve":
		err = s.Manager.Approve(r.Context(), ticketID)
	case "confirm":
		err = s.Manager.Confirm(r.Context(), ticketID)
	case "revoke":
		err = s.Manager.Revoke(r.Context(), ticketID)
	case "terminate":
		err = s.Manager.Terminate(r.Context(), ticketID)
	default:
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}
	if err != nil {
		if errors.Is(err, errs.TicketDataInvalid) {
			writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
			return
		}
		http.Error(w, action+" failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ticket_id": ticketID, "action": action})
}

func (s *Server) handleTicketTypes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	types := ticket.RegisteredTypes()
	out := make([]map[string]any, 0, len(types))
	for _, t := range types {
		b, ok := ticket.Lookup(t)
		if !ok {
			continue
		}
		out = append(out, map[string]any{
			"ticket_type":         t,
			"display_name":        b.DisplayName,
			"need_itsm":           b.Policy.NeedITSM,
			"need_manual_confirm": b.Policy.NeedManualConfirm,
			"is_sensitive":        b.Policy.IsSensitive,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ticket_types": out})
}

func (s *Server) maxBody() int64 {
	if s.MaxRequestBody > 0 {
		return s.MaxRequestBody
	}
	return 1 << 20
}
