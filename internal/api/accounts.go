package api

import (
	"net/http"
	"time"

	"lighter-broadcaster/internal/cache"
	"lighter-broadcaster/internal/version"
)

// cacheEntry is the wire form of one cache lookup.
type cacheEntry struct {
	AccountIndex int     `json:"account_index"`
	Name         string  `json:"name,omitempty"`
	Data         any     `json:"data"`
	AgeSeconds   float64 `json:"age_seconds"`
	Stale        bool    `json:"stale"`
}

func (s *Server) entryFor(a Account, key string) (cacheEntry, bool) {
	lk, ok := s.deps.Cache.Get(key)
	if !ok {
		return cacheEntry{}, false
	}
	return cacheEntry{
		AccountIndex: a.Index,
		Name:         a.Name,
		Data:         lk.Value,
		AgeSeconds:   roundAge(lk.Age),
		Stale:        lk.Stale,
	}, true
}

// handleHealthz is the liveness probe.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": unixSeconds(time.Now()),
	})
}

// handleStatus is the operational overview: uptime, cache size,
// subscriber load, and storage state in one response.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":              "ok",
		"version":             version.Version,
		"uptime_seconds":      roundAge(time.Since(s.startedAt)),
		"accounts_total":      len(s.deps.Accounts),
		"accounts_live":       s.liveAccounts(),
		"cache_entries":       s.deps.Cache.Len(),
		"websocket_connected": s.deps.Streams.Connected(),
		"hub":                 s.deps.Hub.Stats(),
		"subscribers":         s.deps.Hub.SubscriberStats(),
	}

	storage := map[string]any{"configured": s.deps.Store != nil}
	if s.deps.Store != nil {
		st := s.deps.Store.Status(r.Context())
		storage["connected"] = st.Connected
		storage["metrics"] = st.Metrics
	}
	resp["storage"] = storage

	writeJSON(w, http.StatusOK, resp)
}

// handleAccounts lists the cached REST state of every account.
func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	out := make([]cacheEntry, 0, len(s.deps.Accounts))
	for _, a := range s.deps.Accounts {
		if entry, ok := s.entryFor(a, cache.AccountKey(a.Index)); ok {
			out = append(out, entry)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": out,
		"count":    len(out),
	})
}

// handleAccount serves one account's cached REST state, 404 when no
// poll has succeeded yet.
func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	index, err := pathIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account index")
		return
	}
	a, ok := s.account(index)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown account")
		return
	}
	entry, ok := s.entryFor(a, cache.AccountKey(a.Index))
	if !ok {
		writeError(w, http.StatusNotFound, "no data for account")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleChannel lists one WebSocket channel's cached payloads across
// accounts.
func (s *Server) handleChannel(key func(int) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := make([]cacheEntry, 0, len(s.deps.Accounts))
		for _, a := range s.deps.Accounts {
			if entry, ok := s.entryFor(a, key(a.Index)); ok {
				out = append(out, entry)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"accounts": out,
			"count":    len(out),
		})
	}
}

// handleChannelOne serves one account's payload on one channel.
func (s *Server) handleChannelOne(key func(int) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := pathIndex(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid account index")
			return
		}
		a, ok := s.account(index)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown account")
			return
		}
		entry, ok := s.entryFor(a, key(a.Index))
		if !ok {
			writeError(w, http.StatusNotFound, "no data for account")
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}
