package health

import (
	"testing"
	"time"
)

func TestWindowStats(t *testing.T) {
	var w window
	for _, v := range []float64{1, 3, 2} {
		w.add(v)
	}

	min, avg, max := w.stats()
	if min != 1 || max != 3 {
		t.Errorf("min/max = %v/%v, want 1/3", min, max)
	}
	if avg != 2 {
		t.Errorf("avg = %v, want 2", avg)
	}
}

func TestWindowWraps(t *testing.T) {
	var w window
	for i := 0; i < sampleWindow+10; i++ {
		w.add(float64(i))
	}
	if w.count != sampleWindow {
		t.Errorf("count = %d, want %d", w.count, sampleWindow)
	}
}

func TestTrackerCounts(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 3; i++ {
		tr.RecordWSMessage()
		time.Sleep(5 * time.Millisecond)
	}
	tr.RecordRESTRequest()

	m := tr.Metrics(Gauges{})
	if m.WebSocket.MessageCount != 3 {
		t.Errorf("ws message count = %d, want 3", m.WebSocket.MessageCount)
	}
	if m.WebSocket.Samples != 2 {
		t.Errorf("ws interval samples = %d, want 2 (n messages yield n-1 intervals)", m.WebSocket.Samples)
	}
	if m.REST.RequestCount != 1 {
		t.Errorf("rest request count = %d, want 1", m.REST.RequestCount)
	}
	if m.REST.Samples != 0 {
		t.Errorf("rest samples = %d, want 0 after single request", m.REST.Samples)
	}
}

func TestTrackerMetricsGauges(t *testing.T) {
	tr := NewTracker()
	m := tr.Metrics(Gauges{
		PollInterval:     0.5,
		PositionsAge:     1.5,
		BalanceAge:       1.5,
		ActiveAccounts:   2,
		TotalAccounts:    3,
		ConnectedClients: 4,
		WSConnected:      true,
		WSUptime:         120,
	})

	if m.BackendPolling.APIPollRate != 0.5 {
		t.Errorf("api poll rate = %v, want 0.5", m.BackendPolling.APIPollRate)
	}
	if m.BackendPolling.ConnectedClients != 4 {
		t.Errorf("connected clients = %d, want 4", m.BackendPolling.ConnectedClients)
	}
	if !m.WebSocket.Connected || m.WebSocket.ConnectionUptime != 120 {
		t.Errorf("ws gauge passthrough = %v/%v, want true/120",
			m.WebSocket.Connected, m.WebSocket.ConnectionUptime)
	}
	if m.WebSocket.LastMessageAge != -1 {
		t.Errorf("last message age with no messages = %v, want -1", m.WebSocket.LastMessageAge)
	}
	if m.Timestamps.Now == 0 {
		t.Error("now timestamp missing")
	}
}

func TestTrackerStatsFetch(t *testing.T) {
	tr := NewTracker()
	tr.RecordStatsFetch(25 * time.Millisecond)

	m := tr.Metrics(Gauges{})
	if m.FrontendPolling.StatsFetchTime != 0.025 {
		t.Errorf("stats fetch time = %v, want 0.025", m.FrontendPolling.StatsFetchTime)
	}
}
