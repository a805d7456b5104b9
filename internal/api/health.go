package api

import (
	"net/http"
	"time"

	"lighter-broadcaster/internal/cache"
	"lighter-broadcaster/internal/health"
)

func (s *Server) handleLatency(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	m := s.deps.Tracker.Metrics(s.gauges(start))
	s.deps.Tracker.RecordStatsFetch(time.Since(start))
	writeJSON(w, http.StatusOK, m)
}

// gauges assembles the point-in-time readings reported alongside the
// tracked cadences.
func (s *Server) gauges(now time.Time) health.Gauges {
	g := health.Gauges{
		PollInterval:     s.cfg.PollInterval.Seconds(),
		TotalAccounts:    len(s.deps.Accounts),
		ActiveAccounts:   s.liveAccounts(),
		ConnectedClients: s.deps.Hub.Count(),
		WSConnected:      s.deps.Streams.Connected(),
		PositionsAge:     s.freshestAge(cache.WSPositionsKey),
		BalanceAge:       s.freshestAge(cache.AccountKey),
	}
	for _, rec := range s.deps.Streams.Records() {
		st := rec.Stats
		if st.Connected && !st.ConnectedSince.IsZero() {
			if up := now.Sub(st.ConnectedSince).Seconds(); up > g.WSUptime {
				g.WSUptime = up
			}
		}
	}
	return g
}

// freshestAge is the smallest age across accounts for one key family,
// -1 when nothing is cached yet.
func (s *Server) freshestAge(key func(int) string) float64 {
	best := -1.0
	for _, a := range s.deps.Accounts {
		age, ok := s.deps.Cache.Age(key(a.Index))
		if !ok {
			continue
		}
		if sec := roundAge(age); best < 0 || sec < best {
			best = sec
		}
	}
	return best
}

func (s *Server) handleWSHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Health.WS())
}

func (s *Server) handleRESTHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Health.REST())
}

func (s *Server) handleConnectionsHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Health.Combined())
}

// errorEntry decorates a collector entry with display fields.
type errorEntry struct {
	Time       string  `json:"time"`
	TimeStr    string  `json:"time_str"`
	AgeSeconds float64 `json:"age_seconds"`
	Source     string  `json:"source"`
	AccountID  string  `json:"account_id"`
	Type       string  `json:"type"`
	Message    string  `json:"message"`
}

// handleErrors serves the recent error ring plus the rollup summary.
func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50, 100)
	now := time.Now()

	recent := s.deps.Errors.Recent(limit)
	out := make([]errorEntry, 0, len(recent))
	for _, e := range recent {
		out = append(out, errorEntry{
			Time:       e.Time.UTC().Format(time.RFC3339),
			TimeStr:    e.Time.Format("15:04:05"),
			AgeSeconds: roundAge(now.Sub(e.Time)),
			Source:     e.Source,
			AccountID:  e.AccountID,
			Type:       e.Type,
			Message:    e.Message,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"errors":  out,
		"count":   len(out),
		"summary": s.deps.Errors.Summary(),
	})
}
