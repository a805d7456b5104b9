package api

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"
)

// writeJSON renders v with the standard headers.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders the standard error envelope.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// pathIndex parses the {index} path segment.
func pathIndex(r *http.Request) (int, error) {
	return strconv.Atoi(r.PathValue("index"))
}

// queryLimit parses ?limit=N, falling back to def and capping at max.
func queryLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// roundAge renders a duration as seconds with centisecond precision.
func roundAge(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

// unixSeconds renders a timestamp as fractional Unix seconds.
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}
