package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lighter-broadcaster/internal/broadcast"
	"lighter-broadcaster/internal/cache"
	"lighter-broadcaster/internal/errlog"
	"lighter-broadcaster/internal/health"
	"lighter-broadcaster/internal/model"
	"lighter-broadcaster/internal/retry"
	"lighter-broadcaster/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakePool satisfies Pool and StreamPool for both sides.
type fakePool struct {
	records   []health.Record
	known     map[int]bool
	forced    []int
	allCalls  int
	connected bool
}

func (p *fakePool) Records() []health.Record { return p.records }

func (p *fakePool) ForceReconnect(index int) bool {
	if !p.known[index] {
		return false
	}
	p.forced = append(p.forced, index)
	return true
}

func (p *fakePool) ForceReconnectAll() int {
	p.allCalls++
	return len(p.known)
}

func (p *fakePool) Connected() bool { return p.connected }

type fakeStore struct {
	rows      []store.SnapshotRow
	trades    []model.Trade
	err       error
	lastLimit int
}

func (f *fakeStore) AccountHistory(ctx context.Context, accountIndex, limit int) ([]store.SnapshotRow, error) {
	f.lastLimit = limit
	return f.rows, f.err
}

func (f *fakeStore) RecentTrades(ctx context.Context, accountIndex, limit int) ([]model.Trade, error) {
	f.lastLimit = limit
	return f.trades, f.err
}

func (f *fakeStore) Status(ctx context.Context) store.Status {
	return store.Status{Connected: true}
}

type testEnv struct {
	server *Server
	cache  *cache.Cache
	errors *errlog.Collector
	rest   *fakePool
	ws     *fakePool
}

func newTestEnv(t *testing.T, override ...func(*Deps)) *testEnv {
	t.Helper()

	c := cache.New(time.Minute)
	rest := &fakePool{known: map[int]bool{1: true, 3: true}}
	ws := &fakePool{known: map[int]bool{1: true, 3: true}, connected: true}
	errs := errlog.New()

	hub := broadcast.NewHub(broadcast.Config{}, func() (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}, nil, testLogger())

	deps := Deps{
		Cache:   c,
		Tracker: health.NewTracker(),
		Errors:  errs,
		Health:  health.NewAggregator(rest, ws, 500*time.Millisecond),
		REST:    rest,
		Streams: ws,
		Hub:     hub,
		Accounts: []Account{
			{Index: 3, Name: "Alt"},
			{Index: 1, Name: "Main"},
		},
	}
	for _, fn := range override {
		fn(&deps)
	}

	return &testEnv{
		server: NewServer(Config{}, deps, testLogger()),
		cache:  c,
		errors: errs,
		rest:   rest,
		ws:     ws,
	}
}

func (e *testEnv) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthRoute(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if _, ok := body["timestamp"].(float64); !ok {
		t.Errorf("timestamp missing or not a number: %v", body["timestamp"])
	}
}

func TestAccountsListSortedByIndex(t *testing.T) {
	env := newTestEnv(t)
	env.cache.Put(cache.AccountKey(1), model.AccountState{AccountIndex: 1})
	env.cache.Put(cache.AccountKey(3), model.AccountState{AccountIndex: 3})

	body := decodeBody(t, env.do(t, http.MethodGet, "/api/accounts"))
	if body["count"].(float64) != 2 {
		t.Fatalf("count = %v, want 2", body["count"])
	}

	accounts := body["accounts"].([]any)
	first := accounts[0].(map[string]any)
	second := accounts[1].(map[string]any)
	if first["account_index"].(float64) != 1 || second["account_index"].(float64) != 3 {
		t.Errorf("accounts out of order: %v then %v", first["account_index"], second["account_index"])
	}
	if first["name"] != "Main" {
		t.Errorf("name = %v, want Main", first["name"])
	}
}

func TestAccountRoute(t *testing.T) {
	env := newTestEnv(t)
	env.cache.Put(cache.AccountKey(1), model.AccountState{AccountIndex: 1})

	if rec := env.do(t, http.MethodGet, "/api/accounts/1"); rec.Code != http.StatusOK {
		t.Errorf("cached account: status = %d, want 200", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/accounts/2"); rec.Code != http.StatusNotFound {
		t.Errorf("unconfigured account: status = %d, want 404", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/accounts/3"); rec.Code != http.StatusNotFound {
		t.Errorf("never-polled account: status = %d, want 404", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/accounts/abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad index: status = %d, want 400", rec.Code)
	}
}

func TestAccountRouteServesStaleEntry(t *testing.T) {
	env := newTestEnv(t)
	env.cache.PutTTL(cache.AccountKey(1), model.AccountState{AccountIndex: 1}, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	rec := env.do(t, http.MethodGet, "/api/accounts/1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["stale"] != true {
		t.Errorf("stale = %v, want true", body["stale"])
	}
	if body["age_seconds"].(float64) <= 0 {
		t.Errorf("age_seconds = %v, want > 0", body["age_seconds"])
	}
}

func TestChannelRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.cache.Put(cache.WSPositionsKey(1), []model.Position{{Symbol: "ETH", Side: "long"}})

	body := decodeBody(t, env.do(t, http.MethodGet, "/api/ws/positions"))
	if body["count"].(float64) != 1 {
		t.Fatalf("count = %v, want 1", body["count"])
	}

	rec := env.do(t, http.MethodGet, "/api/ws/positions/1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	entry := decodeBody(t, rec)
	positions := entry["data"].([]any)
	if len(positions) != 1 || positions[0].(map[string]any)["symbol"] != "ETH" {
		t.Errorf("unexpected positions payload: %v", entry["data"])
	}

	if rec := env.do(t, http.MethodGet, "/api/ws/positions/3"); rec.Code != http.StatusNotFound {
		t.Errorf("missing entry: status = %d, want 404", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/ws/orders"); rec.Code != http.StatusOK {
		t.Errorf("orders list: status = %d, want 200", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/ws/trades"); rec.Code != http.StatusOK {
		t.Errorf("trades list: status = %d, want 200", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/portfolio")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodGet {
		t.Errorf("Allow = %q, want GET", allow)
	}
	if body := decodeBody(t, rec); body["error"] != "method not allowed" {
		t.Errorf("error = %v", body["error"])
	}

	if rec := env.do(t, http.MethodGet, "/api/ws/reconnect"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET on admin route: status = %d, want 405", rec.Code)
	}
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodOptions, "/api/portfolio")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if origin := rec.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("Allow-Origin = %q, want *", origin)
	}
}

func TestWSReconnectTargeted(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/ws/reconnect?account_index=3")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != true || body["account_index"].(float64) != 3 {
		t.Errorf("body = %v", body)
	}
	if len(env.ws.forced) != 1 || env.ws.forced[0] != 3 {
		t.Errorf("ws forced = %v, want [3]", env.ws.forced)
	}
	if len(env.rest.forced) != 0 {
		t.Errorf("rest forced = %v, want none", env.rest.forced)
	}
}

func TestWSReconnectAll(t *testing.T) {
	env := newTestEnv(t)

	body := decodeBody(t, env.do(t, http.MethodPost, "/api/ws/reconnect"))
	if body["reconnected_count"].(float64) != 2 {
		t.Errorf("reconnected_count = %v, want 2", body["reconnected_count"])
	}
	if env.ws.allCalls != 1 {
		t.Errorf("allCalls = %d, want 1", env.ws.allCalls)
	}
}

func TestRESTReconnect(t *testing.T) {
	env := newTestEnv(t)

	body := decodeBody(t, env.do(t, http.MethodPost, "/api/rest/reconnect"))
	if body["reset_count"].(float64) != 2 {
		t.Errorf("reset_count = %v, want 2", body["reset_count"])
	}

	if rec := env.do(t, http.MethodPost, "/api/rest/reconnect?account_index=99"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown account: status = %d, want 404", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/rest/reconnect?account_index=abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad index: status = %d, want 400", rec.Code)
	}
}

func TestConnectionsReconnectBouncesBothSides(t *testing.T) {
	env := newTestEnv(t)

	body := decodeBody(t, env.do(t, http.MethodPost, "/api/connections/reconnect"))
	if body["websocket"].(float64) != 2 || body["rest_api"].(float64) != 2 {
		t.Errorf("body = %v", body)
	}
	if env.ws.allCalls != 1 || env.rest.allCalls != 1 {
		t.Errorf("allCalls ws=%d rest=%d, want 1 and 1", env.ws.allCalls, env.rest.allCalls)
	}
}

func TestErrorsRouteAndClear(t *testing.T) {
	env := newTestEnv(t)
	env.errors.Add(errlog.SourceREST, "1", errlog.TypeRequest, "timeout talking to venue")
	env.cache.Put(cache.ErrorsSummaryKey, "pending")

	body := decodeBody(t, env.do(t, http.MethodGet, "/api/errors"))
	if body["count"].(float64) != 1 {
		t.Fatalf("count = %v, want 1", body["count"])
	}
	entry := body["errors"].([]any)[0].(map[string]any)
	if entry["source"] != errlog.SourceREST || entry["account_id"] != "1" {
		t.Errorf("entry = %v", entry)
	}
	if len(entry["time_str"].(string)) != 8 {
		t.Errorf("time_str = %v, want HH:MM:SS", entry["time_str"])
	}
	if entry["age_seconds"].(float64) < 0 {
		t.Errorf("age_seconds = %v, want >= 0", entry["age_seconds"])
	}
	if _, ok := body["summary"].(map[string]any); !ok {
		t.Errorf("summary missing: %v", body["summary"])
	}

	cleared := decodeBody(t, env.do(t, http.MethodPost, "/api/errors/clear"))
	if cleared["success"] != true || cleared["cleared"].(float64) != 1 {
		t.Errorf("clear body = %v", cleared)
	}
	if _, ok := env.cache.Get(cache.ErrorsSummaryKey); ok {
		t.Error("cached error summary should be cleared")
	}

	after := decodeBody(t, env.do(t, http.MethodGet, "/api/errors"))
	if after["count"].(float64) != 0 {
		t.Errorf("count after clear = %v, want 0", after["count"])
	}
}

func TestHistoryWithoutStore(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(t, http.MethodGet, "/api/history/accounts/1"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("account history: status = %d, want 503", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/history/trades/1"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("trade history: status = %d, want 503", rec.Code)
	}

	body := decodeBody(t, env.do(t, http.MethodGet, "/api/storage/status"))
	if body["configured"] != false {
		t.Errorf("configured = %v, want false", body["configured"])
	}
}

func TestHistoryWithStore(t *testing.T) {
	fs := &fakeStore{
		rows:   []store.SnapshotRow{{AccountIndex: 1}, {AccountIndex: 1}},
		trades: []model.Trade{{TradeID: "t1"}},
	}
	env := newTestEnv(t, func(d *Deps) { d.Store = fs })

	body := decodeBody(t, env.do(t, http.MethodGet, "/api/history/accounts/1?limit=5"))
	if body["count"].(float64) != 2 {
		t.Errorf("count = %v, want 2", body["count"])
	}
	if fs.lastLimit != 5 {
		t.Errorf("limit passed = %d, want 5", fs.lastLimit)
	}

	body = decodeBody(t, env.do(t, http.MethodGet, "/api/history/trades/1?limit=9999"))
	if body["count"].(float64) != 1 {
		t.Errorf("trade count = %v, want 1", body["count"])
	}
	if fs.lastLimit != 1000 {
		t.Errorf("limit passed = %d, want capped at 1000", fs.lastLimit)
	}

	status := decodeBody(t, env.do(t, http.MethodGet, "/api/storage/status"))
	if status["configured"] != true || status["connected"] != true {
		t.Errorf("storage status = %v", status)
	}
}

func TestStatusRoute(t *testing.T) {
	env := newTestEnv(t)
	env.cache.Put(cache.AccountKey(1), model.AccountState{AccountIndex: 1})

	body := decodeBody(t, env.do(t, http.MethodGet, "/api/status"))
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
	if body["accounts_total"].(float64) != 2 || body["accounts_live"].(float64) != 1 {
		t.Errorf("accounts_total = %v, accounts_live = %v", body["accounts_total"], body["accounts_live"])
	}
	if body["websocket_connected"] != true {
		t.Errorf("websocket_connected = %v, want true", body["websocket_connected"])
	}
	if body["cache_entries"].(float64) != 1 {
		t.Errorf("cache_entries = %v, want 1", body["cache_entries"])
	}
	storage := body["storage"].(map[string]any)
	if storage["configured"] != false {
		t.Errorf("storage = %v", storage)
	}
}

func TestLatencyRoute(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/latency")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	for _, key := range []string{"frontend_polling", "backend_polling", "websocket", "rest", "timestamps"} {
		if _, ok := body[key]; !ok {
			t.Errorf("missing %s section", key)
		}
	}
	backend := body["backend_polling"].(map[string]any)
	if backend["total_accounts"].(float64) != 2 {
		t.Errorf("total_accounts = %v, want 2", backend["total_accounts"])
	}
	if backend["balance_age"].(float64) != -1 {
		t.Errorf("balance_age = %v, want -1 with empty cache", backend["balance_age"])
	}
}

func TestConnectionHealthRoutes(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		rest := &fakePool{records: []health.Record{
			{AccountIndex: 1, AccountName: "Main", Stats: retry.Stats{Connected: true, StartedAt: time.Now()}},
			{AccountIndex: 3, AccountName: "Alt", Stats: retry.Stats{Phase: 2, StartedAt: time.Now()}},
		}}
		ws := &fakePool{records: []health.Record{
			{AccountIndex: 1, AccountName: "Main", Stats: retry.Stats{Connected: true, StartedAt: time.Now()}},
		}, connected: true}
		d.Health = health.NewAggregator(rest, ws, 500*time.Millisecond)
	})

	rest := decodeBody(t, env.do(t, http.MethodGet, "/api/rest/health"))
	if rest["total_connections"].(float64) != 2 || rest["connected_count"].(float64) != 1 {
		t.Errorf("rest health = total %v connected %v", rest["total_connections"], rest["connected_count"])
	}

	ws := decodeBody(t, env.do(t, http.MethodGet, "/api/ws/health"))
	if ws["total_connections"].(float64) != 1 || ws["connected_count"].(float64) != 1 {
		t.Errorf("ws health = total %v connected %v", ws["total_connections"], ws["connected_count"])
	}

	combined := decodeBody(t, env.do(t, http.MethodGet, "/api/connections/health"))
	summary := combined["summary"].(map[string]any)
	if summary["all_connected"] != false {
		t.Errorf("all_connected = %v, want false", summary["all_connected"])
	}
	if summary["total_connections"].(float64) != 3 {
		t.Errorf("total_connections = %v, want 3", summary["total_connections"])
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Addr != ":8000" {
		t.Errorf("Addr = %q, want :8000", cfg.Addr)
	}
	if cfg.RequestsPerMinute != 100 {
		t.Errorf("RequestsPerMinute = %d, want 100", cfg.RequestsPerMinute)
	}
	if cfg.AdminPerMinute != 10 {
		t.Errorf("AdminPerMinute = %d, want 10", cfg.AdminPerMinute)
	}
	if cfg.LiveThreshold != 10*time.Second {
		t.Errorf("LiveThreshold = %v, want 10s", cfg.LiveThreshold)
	}
}

func TestAdminRateLimit(t *testing.T) {
	env := newTestEnv(t)

	var denied int
	for i := 0; i < 11; i++ {
		if rec := env.do(t, http.MethodPost, "/api/connections/reconnect"); rec.Code == http.StatusTooManyRequests {
			denied++
		}
	}
	if denied != 1 {
		t.Errorf("denied = %d, want 1 of 11 over a burst of 10", denied)
	}
}

func TestReadRateLimit(t *testing.T) {
	c := cache.New(time.Minute)
	rest := &fakePool{}
	ws := &fakePool{}
	hub := broadcast.NewHub(broadcast.Config{}, func() (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}, nil, testLogger())
	srv := NewServer(Config{RequestsPerMinute: 3}, Deps{
		Cache:   c,
		Tracker: health.NewTracker(),
		Errors:  errlog.New(),
		Health:  health.NewAggregator(rest, ws, time.Second),
		REST:    rest,
		Streams: ws,
		Hub:     hub,
	}, testLogger())

	var last int
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("4th request = %d, want 429 with a budget of 3", last)
	}
}
