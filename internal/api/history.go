package api

import "net/http"

// handleAccountHistory serves persisted balance snapshots, newest
// first. 503 when persistence is not configured.
func (s *Server) handleAccountHistory(w http.ResponseWriter, r *http.Request) {
	index, err := pathIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account index")
		return
	}
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage not configured")
		return
	}

	rows, err := s.deps.Store.AccountHistory(r.Context(), index, queryLimit(r, 100, 1000))
	if err != nil {
		s.logger.Error("history query failed", "account", index, "error", err)
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_index": index,
		"count":         len(rows),
		"snapshots":     rows,
	})
}

// handleTradeHistory serves persisted trades, newest first.
func (s *Server) handleTradeHistory(w http.ResponseWriter, r *http.Request) {
	index, err := pathIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account index")
		return
	}
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage not configured")
		return
	}

	trades, err := s.deps.Store.RecentTrades(r.Context(), index, queryLimit(r, 100, 1000))
	if err != nil {
		s.logger.Error("trade history query failed", "account", index, "error", err)
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_index": index,
		"count":         len(trades),
		"trades":        trades,
	})
}

// handleStorageStatus reports whether persistence is wired and
// reachable.
func (s *Server) handleStorageStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeJSON(w, http.StatusOK, map[string]any{"configured": false})
		return
	}
	st := s.deps.Store.Status(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"configured": true,
		"connected":  st.Connected,
		"metrics":    st.Metrics,
	})
}
