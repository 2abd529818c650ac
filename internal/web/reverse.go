package web

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"dbmflow/internal/reverseapi"
)

type syncReportRequest struct {
	BkCloudID int64            `json:"bk_cloud_id"`
	Events    []map[string]any `json:"events"`
}

func (s *Server) handleSyncReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Reporter == nil {
		http.Error(w, "reporter unavailable", http.StatusServiceUnavailable)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody())
	var req syncReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(req.Events) == 0 {
		http.Error(w, "events required", http.StatusBadRequest)
		return
	}
	if err := s.Reporter.SyncReport(req.BkCloudID, clientIP(r), req.Events); err != nil {
		var batchErr *reverseapi.BatchError
		if errors.As(err, &batchErr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "batch rejected",
				"events": batchErr.Events,
			})
			return
		}
		http.Error(w, "publish failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accepted": len(req.Events)})
}

func (s *Server) handleCrondConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Crond == nil {
		http.Error(w, "crond config unavailable", http.StatusServiceUnavailable)
		return
	}
	bkCloudID, err := strconv.ParseInt(r.URL.Query().Get("bk_cloud_id"), 10, 64)
	if err != nil || bkCloudID < 0 {
		http.Error(w, "bk_cloud_id required", http.StatusBadRequest)
		return
	}
	cfg, err := s.Crond.MySQLCrondConfig(r.Context(), bkCloudID, clientIP(r))
	if err != nil {
		http.Error(w, "config unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// clientIP resolves the reporting agent's address. Agents talk to the
// control plane directly, so the peer address wins over any forwarded
// header.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
