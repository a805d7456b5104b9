package health

import (
	"math"
	"sync"
	"time"
)

// sampleWindow bounds every interval window.
const sampleWindow = 30

// window is a fixed-size ring of interval samples in seconds.
type window struct {
	samples []float64
	next    int
	count   int
}

func (w *window) add(v float64) {
	if w.samples == nil {
		w.samples = make([]float64, sampleWindow)
	}
	w.samples[w.next] = v
	w.next = (w.next + 1) % sampleWindow
	if w.count < sampleWindow {
		w.count++
	}
}

func (w *window) stats() (min, avg, max float64) {
	if w.count == 0 {
		return 0, 0, 0
	}
	min = math.MaxFloat64
	sum := 0.0
	for i := 0; i < w.count; i++ {
		v := w.samples[i]
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, sum / float64(w.count), max
}

// Tracker accumulates cadence samples from the upstream clients, the
// broadcast loop and the dashboard's own polling.
type Tracker struct {
	mu        sync.Mutex
	startedAt time.Time

	wsIntervals window
	lastWS      time.Time
	wsCount     int64

	restIntervals window
	lastREST      time.Time
	restCount     int64

	broadcastIntervals window
	lastBroadcast      time.Time

	frontendIntervals window
	lastFrontend      time.Time

	statsIntervals window
	lastStats      time.Time
	lastStatsFetch float64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{startedAt: time.Now()}
}

// RecordWSMessage samples the upstream WebSocket message cadence.
func (t *Tracker) RecordWSMessage() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if !t.lastWS.IsZero() {
		t.wsIntervals.add(now.Sub(t.lastWS).Seconds())
	}
	t.lastWS = now
	t.wsCount++
}

// RecordRESTRequest samples the upstream REST poll cadence.
func (t *Tracker) RecordRESTRequest() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if !t.lastREST.IsZero() {
		t.restIntervals.add(now.Sub(t.lastREST).Seconds())
	}
	t.lastREST = now
	t.restCount++
}

// RecordBroadcast samples the downstream broadcast cadence.
func (t *Tracker) RecordBroadcast() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if !t.lastBroadcast.IsZero() {
		t.broadcastIntervals.add(now.Sub(t.lastBroadcast).Seconds())
	}
	t.lastBroadcast = now
}

// RecordFrontendPoll samples the dashboard's REST polling cadence.
func (t *Tracker) RecordFrontendPoll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if !t.lastFrontend.IsZero() {
		t.frontendIntervals.add(now.Sub(t.lastFrontend).Seconds())
	}
	t.lastFrontend = now
}

// RecordStatsFetch samples a diagnostics computation: its cadence and
// how long it took.
func (t *Tracker) RecordStatsFetch(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if !t.lastStats.IsZero() {
		t.statsIntervals.add(now.Sub(t.lastStats).Seconds())
	}
	t.lastStats = now
	t.lastStatsFetch = d.Seconds()
}

// Gauges carries the point-in-time values the tracker cannot observe
// itself; the API layer fills them per request.
type Gauges struct {
	PollInterval     float64
	PositionsAge     float64
	BalanceAge       float64
	ActiveAccounts   int
	TotalAccounts    int
	ConnectedClients int
	WSConnected      bool
	WSUptime         float64
}

// FrontendMetrics reports the cadence seen from the dashboard side.
type FrontendMetrics struct {
	WSIntervalAvg     float64 `json:"ws_interval_avg"`
	TimeSinceWS       float64 `json:"time_since_ws"`
	RESTIntervalAvg   float64 `json:"rest_interval_avg"`
	TimeSinceREST     float64 `json:"time_since_rest"`
	StatsPollInterval float64 `json:"stats_poll_interval"`
	StatsFetchTime    float64 `json:"stats_fetch_time"`
}

// BackendMetrics reports the upstream polling posture.
type BackendMetrics struct {
	APIPollRate      float64 `json:"api_poll_rate"`
	PositionsAge     float64 `json:"positions_age"`
	BalanceAge       float64 `json:"balance_age"`
	ActiveAccounts   int     `json:"active_accounts"`
	TotalAccounts    int     `json:"total_accounts"`
	ConnectedClients int     `json:"connected_clients"`
}

// WSStream reports upstream WebSocket cadence.
type WSStream struct {
	Connected        bool    `json:"connected"`
	MessageCount     int64   `json:"message_count"`
	LastMessageAge   float64 `json:"last_message_age"`
	ConnectionUptime float64 `json:"connection_uptime"`
	IntervalMin      float64 `json:"interval_min"`
	IntervalAvg      float64 `json:"interval_avg"`
	IntervalMax      float64 `json:"interval_max"`
	Samples          int     `json:"samples"`
}

// RESTStream reports upstream REST cadence.
type RESTStream struct {
	RequestCount int64   `json:"request_count"`
	LastUpdate   float64 `json:"last_update"`
	IntervalMin  float64 `json:"interval_min"`
	IntervalAvg  float64 `json:"interval_avg"`
	IntervalMax  float64 `json:"interval_max"`
	Samples      int     `json:"samples"`
}

// Timestamps are unix-seconds markers for the latency view.
type Timestamps struct {
	WS    float64 `json:"ws"`
	REST  float64 `json:"rest"`
	Stats float64 `json:"stats"`
	Now   float64 `json:"now"`
}

// Metrics is the full latency response.
type Metrics struct {
	FrontendPolling FrontendMetrics `json:"frontend_polling"`
	BackendPolling  BackendMetrics  `json:"backend_polling"`
	WebSocket       WSStream        `json:"websocket"`
	REST            RESTStream      `json:"rest"`
	Timestamps      Timestamps      `json:"timestamps"`
}

// Metrics assembles the latency snapshot from the tracker's windows and
// the caller's gauges.
func (t *Tracker) Metrics(g Gauges) Metrics {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	wsMin, wsAvg, wsMax := t.wsIntervals.stats()
	restMin, restAvg, restMax := t.restIntervals.stats()
	_, broadcastAvg, _ := t.broadcastIntervals.stats()
	_, frontendAvg, _ := t.frontendIntervals.stats()
	_, statsAvg, _ := t.statsIntervals.stats()

	return Metrics{
		FrontendPolling: FrontendMetrics{
			WSIntervalAvg:     round3(broadcastAvg),
			TimeSinceWS:       ageSeconds(t.lastBroadcast, now),
			RESTIntervalAvg:   round3(frontendAvg),
			TimeSinceREST:     ageSeconds(t.lastFrontend, now),
			StatsPollInterval: round3(statsAvg),
			StatsFetchTime:    round3(t.lastStatsFetch),
		},
		BackendPolling: BackendMetrics{
			APIPollRate:      g.PollInterval,
			PositionsAge:     g.PositionsAge,
			BalanceAge:       g.BalanceAge,
			ActiveAccounts:   g.ActiveAccounts,
			TotalAccounts:    g.TotalAccounts,
			ConnectedClients: g.ConnectedClients,
		},
		WebSocket: WSStream{
			Connected:        g.WSConnected,
			MessageCount:     t.wsCount,
			LastMessageAge:   ageSeconds(t.lastWS, now),
			ConnectionUptime: g.WSUptime,
			IntervalMin:      round3(wsMin),
			IntervalAvg:      round3(wsAvg),
			IntervalMax:      round3(wsMax),
			Samples:          t.wsIntervals.count,
		},
		REST: RESTStream{
			RequestCount: t.restCount,
			LastUpdate:   ageSeconds(t.lastREST, now),
			IntervalMin:  round3(restMin),
			IntervalAvg:  round3(restAvg),
			IntervalMax:  round3(restMax),
			Samples:      t.restIntervals.count,
		},
		Timestamps: Timestamps{
			WS:    unixSeconds(t.lastWS),
			REST:  unixSeconds(t.lastREST),
			Stats: unixSeconds(t.lastStats),
			Now:   float64(now.UnixMilli()) / 1000,
		},
	}
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMilli()) / 1000
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
