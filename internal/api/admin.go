package api

import (
	"net/http"
	"strconv"

	"lighter-broadcaster/internal/cache"
)

// handleErrorsClear empties the error ring and the cached summary.
func (s *Server) handleErrorsClear(w http.ResponseWriter, r *http.Request) {
	cleared := s.deps.Errors.Clear()
	s.deps.Cache.Clear(cache.PrefixErrors)
	s.logger.Info("error log cleared", "count", cleared)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"cleared": cleared,
	})
}

// targetIndex reads the optional account_index query parameter.
func targetIndex(r *http.Request) (index int, targeted bool, err error) {
	raw := r.URL.Query().Get("account_index")
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	return n, true, err
}

func (s *Server) handleWSReconnect(w http.ResponseWriter, r *http.Request) {
	s.reconnect(w, r, s.deps.Streams, "reconnected_count")
}

func (s *Server) handleRESTReconnect(w http.ResponseWriter, r *http.Request) {
	s.reconnect(w, r, s.deps.REST, "reset_count")
}

// reconnect forces one account's connection, or all of them, through
// the reconnect path. Retry counters are left as they are; only the
// wait gate is skipped.
func (s *Server) reconnect(w http.ResponseWriter, r *http.Request, pool Pool, countKey string) {
	index, targeted, err := targetIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account_index")
		return
	}

	if targeted {
		if !pool.ForceReconnect(index) {
			writeError(w, http.StatusNotFound, "unknown account")
			return
		}
		s.logger.Info("forced reconnect", "account", index)
		writeJSON(w, http.StatusOK, map[string]any{
			"success":       true,
			"account_index": index,
		})
		return
	}

	count := pool.ForceReconnectAll()
	s.logger.Info("forced reconnect for all accounts", "count", count)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		countKey:  count,
	})
}

// handleReconnectAll bounces both sides at once.
func (s *Server) handleReconnectAll(w http.ResponseWriter, r *http.Request) {
	ws := s.deps.Streams.ForceReconnectAll()
	rest := s.deps.REST.ForceReconnectAll()
	s.logger.Info("forced reconnect for all connections", "websocket", ws, "rest", rest)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"websocket": ws,
		"rest_api":  rest,
	})
}
