package health

import (
	"math"
	"strconv"
	"time"

	"lighter-broadcaster/internal/retry"
)

// Record is one connection's identity plus its machine counters. The
// REST and WebSocket sides fill the fields that apply to them.
type Record struct {
	AccountIndex int
	AccountName  string
	HasProxy     bool
	Stats        retry.Stats
	LastMessage  time.Time // WebSocket: last inbound frame
	LastPong     time.Time // WebSocket: last pong or liveness signal
	Polling      bool      // REST: poll loops running
}

// Source exposes the current connection records of one side.
type Source interface {
	Records() []Record
}

// RESTConnection is the health view of one REST poller connection.
type RESTConnection struct {
	AccountID           string  `json:"account_id"`
	AccountName         string  `json:"account_name"`
	Connected           bool    `json:"connected"`
	LastSuccessAge      float64 `json:"last_success_age"`
	LastFailureAge      float64 `json:"last_failure_age"`
	TotalRequests       int64   `json:"total_requests"`
	SuccessfulRequests  int64   `json:"successful_requests"`
	FailedRequests      int64   `json:"failed_requests"`
	SuccessRate         float64 `json:"success_rate"`
	RetryPhase          int     `json:"retry_phase"`
	PhaseAttempts       int     `json:"phase_attempts"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	UptimeSeconds       float64 `json:"uptime_seconds"`
	LastError           string  `json:"last_error"`
	RequestsPerMinute   int     `json:"requests_per_minute"`
}

// RESTHealth is the aggregate REST health response.
type RESTHealth struct {
	Type              string           `json:"type"`
	TotalConnections  int              `json:"total_connections"`
	ConnectedCount    int              `json:"connected_count"`
	DisconnectedCount int              `json:"disconnected_count"`
	TotalRequests     int64            `json:"total_requests"`
	TotalFailures     int64            `json:"total_failures"`
	SuccessRate       float64          `json:"success_rate"`
	UptimeSeconds     float64          `json:"uptime_seconds"`
	Polling           bool             `json:"polling"`
	PollInterval      float64          `json:"poll_interval"`
	Connections       []RESTConnection `json:"connections"`
}

// WSConnection is the health view of one WebSocket ingest connection.
type WSConnection struct {
	AccountID             string  `json:"account_id"`
	AccountName           string  `json:"account_name"`
	Connected             bool    `json:"connected"`
	LastMessageAge        float64 `json:"last_message_age"`
	LastPongAge           float64 `json:"last_pong_age"`
	ReconnectCount        int64   `json:"reconnect_count"`
	TotalMessages         int64   `json:"total_messages"`
	HasProxy              bool    `json:"has_proxy"`
	RetryPhase            int     `json:"retry_phase"`
	PhaseAttempts         int     `json:"phase_attempts"`
	UptimeSeconds         float64 `json:"uptime_seconds"`
	LastSuccessfulConnect *string `json:"last_successful_connect"`
}

// WSHealth is the aggregate WebSocket health response.
type WSHealth struct {
	Type                   string         `json:"type"`
	TotalConnections       int            `json:"total_connections"`
	ConnectedCount         int            `json:"connected_count"`
	DisconnectedCount      int            `json:"disconnected_count"`
	TotalMessagesReceived  int64          `json:"total_messages_received"`
	TotalReconnectAttempts int64          `json:"total_reconnect_attempts"`
	UptimeSeconds          float64        `json:"uptime_seconds"`
	Connections            []WSConnection `json:"connections"`
}

// CombinedSummary condenses both sides into one verdict.
type CombinedSummary struct {
	AllConnected     bool    `json:"all_connected"`
	TotalConnections int     `json:"total_connections"`
	ConnectedCount   int     `json:"connected_count"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
}

// Combined is the full connections-health response.
type Combined struct {
	WebSocket WSHealth        `json:"websocket"`
	RESTAPI   RESTHealth      `json:"rest_api"`
	Summary   CombinedSummary `json:"summary"`
}

// Aggregator derives health snapshots from the two connection sources.
type Aggregator struct {
	rest         Source
	ws           Source
	pollInterval time.Duration
	startedAt    time.Time
}

// NewAggregator wires the REST and WebSocket sources.
func NewAggregator(rest, ws Source, pollInterval time.Duration) *Aggregator {
	return &Aggregator{
		rest:         rest,
		ws:           ws,
		pollInterval: pollInterval,
		startedAt:    time.Now(),
	}
}

// REST builds the REST-side health snapshot.
func (a *Aggregator) REST() RESTHealth {
	now := time.Now()
	records := a.rest.Records()

	out := RESTHealth{
		Type:         "rest_api",
		PollInterval: a.pollInterval.Seconds(),
		Polling:      len(records) > 0,
		Connections:  make([]RESTConnection, 0, len(records)),
	}

	for _, r := range records {
		s := r.Stats
		conn := RESTConnection{
			AccountID:           strconv.Itoa(r.AccountIndex),
			AccountName:         r.AccountName,
			Connected:           s.Connected,
			LastSuccessAge:      ageSeconds(s.LastSuccess, now),
			LastFailureAge:      ageSeconds(s.LastFailure, now),
			TotalRequests:       s.TotalRequests,
			SuccessfulRequests:  s.SuccessfulRequests,
			FailedRequests:      s.FailedRequests,
			SuccessRate:         successRate(s.SuccessfulRequests, s.TotalRequests),
			RetryPhase:          s.Phase,
			PhaseAttempts:       s.PhaseAttempts,
			ConsecutiveFailures: s.ConsecutiveFailures,
			UptimeSeconds:       round1(now.Sub(s.StartedAt).Seconds()),
			LastError:           s.LastError,
			RequestsPerMinute:   s.RequestsPerMinute,
		}
		out.Connections = append(out.Connections, conn)

		out.TotalRequests += s.TotalRequests
		out.TotalFailures += s.FailedRequests
		if s.Connected {
			out.ConnectedCount++
		}
		if !r.Polling {
			out.Polling = false
		}
	}

	out.TotalConnections = len(records)
	out.DisconnectedCount = out.TotalConnections - out.ConnectedCount
	out.SuccessRate = successRate(out.TotalRequests-out.TotalFailures, out.TotalRequests)
	out.UptimeSeconds = round1(now.Sub(a.startedAt).Seconds())
	return out
}

// WS builds the WebSocket-side health snapshot.
func (a *Aggregator) WS() WSHealth {
	now := time.Now()
	records := a.ws.Records()

	out := WSHealth{
		Type:        "websocket",
		Connections: make([]WSConnection, 0, len(records)),
	}

	for _, r := range records {
		s := r.Stats
		conn := WSConnection{
			AccountID:      strconv.Itoa(r.AccountIndex),
			AccountName:    r.AccountName,
			Connected:      s.Connected,
			LastMessageAge: ageSeconds(r.LastMessage, now),
			LastPongAge:    ageSeconds(r.LastPong, now),
			ReconnectCount: s.Reconnects,
			TotalMessages:  s.Messages,
			HasProxy:       r.HasProxy,
			RetryPhase:     s.Phase,
			PhaseAttempts:  s.PhaseAttempts,
			UptimeSeconds:  round1(now.Sub(s.StartedAt).Seconds()),
		}
		if !s.LastSuccess.IsZero() {
			ts := s.LastSuccess.UTC().Format(time.RFC3339)
			conn.LastSuccessfulConnect = &ts
		}
		out.Connections = append(out.Connections, conn)

		out.TotalMessagesReceived += s.Messages
		out.TotalReconnectAttempts += s.Reconnects
		if s.Connected {
			out.ConnectedCount++
		}
	}

	out.TotalConnections = len(records)
	out.DisconnectedCount = out.TotalConnections - out.ConnectedCount
	out.UptimeSeconds = round1(now.Sub(a.startedAt).Seconds())
	return out
}

// Combined builds both snapshots plus the rollup summary.
func (a *Aggregator) Combined() Combined {
	ws := a.WS()
	rest := a.REST()

	total := ws.TotalConnections + rest.TotalConnections
	connected := ws.ConnectedCount + rest.ConnectedCount
	return Combined{
		WebSocket: ws,
		RESTAPI:   rest,
		Summary: CombinedSummary{
			AllConnected:     total > 0 && connected == total,
			TotalConnections: total,
			ConnectedCount:   connected,
			UptimeSeconds:    round1(time.Since(a.startedAt).Seconds()),
		},
	}
}

// ageSeconds renders a timestamp as seconds-ago, -1 when it never
// happened.
func ageSeconds(t, now time.Time) float64 {
	if t.IsZero() {
		return -1
	}
	return round1(now.Sub(t).Seconds())
}

// successRate is a percentage with one decimal; 100 when nothing was
// attempted yet.
func successRate(succeeded, total int64) float64 {
	if total <= 0 {
		return 100
	}
	return round1(float64(succeeded) / float64(total) * 100)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
