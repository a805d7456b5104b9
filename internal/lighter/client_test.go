package lighter

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"lighter-broadcaster/internal/auth"
)

const accountFixture = `{
	"accounts": [{
		"account_index": 3,
		"collateral": "1500.25",
		"available_balance": "1200.00",
		"positions": [{"market_id": 1, "symbol": "ETH", "position": "0.5", "sign": 1}]
	}]
}`

func TestAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/account" {
			t.Errorf("path = %q, want /api/v1/account", r.URL.Path)
		}
		if got := r.URL.Query().Get("by"); got != "index" {
			t.Errorf("by = %q, want index", got)
		}
		if got := r.URL.Query().Get("value"); got != "3" {
			t.Errorf("value = %q, want 3", got)
		}
		if r.Header.Get("User-Agent") == "" {
			t.Error("User-Agent header missing")
		}
		if got := r.Header.Get("Origin"); got != defaultOrigin {
			t.Errorf("Origin = %q, want %q", got, defaultOrigin)
		}
		w.Write([]byte(accountFixture))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	state, err := c.Account(context.Background(), 3)
	if err != nil {
		t.Fatalf("Account failed: %v", err)
	}
	if state.AccountIndex != 3 {
		t.Errorf("account index = %d, want 3", state.AccountIndex)
	}
	if !state.Collateral.Equal(decimal.NewFromFloat(1500.25)) {
		t.Errorf("collateral = %s, want 1500.25", state.Collateral)
	}
	if len(state.Positions) != 1 {
		t.Errorf("positions = %d, want 1", len(state.Positions))
	}
}

func TestActiveOrdersSendsAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "static-token" {
			t.Errorf("Authorization = %q, want static-token", got)
		}
		if got := r.URL.Query().Get("market_id"); got != "7" {
			t.Errorf("market_id = %q, want 7", got)
		}
		w.Write([]byte(`{"orders": [{"order_id": "o-1", "market_id": 7, "side": "buy", "price": "10"}]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, WithAuthToken("static-token"))
	orders, err := c.ActiveOrders(context.Background(), 3, 7)
	if err != nil {
		t.Fatalf("ActiveOrders failed: %v", err)
	}
	if len(orders) != 1 || orders[0].OrderID != "o-1" {
		t.Errorf("orders = %+v, want one order o-1", orders)
	}
}

func TestSignedTokenCached(t *testing.T) {
	var tokens []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens = append(tokens, r.Header.Get("Authorization"))
		w.Write([]byte(accountFixture))
	}))
	defer server.Close()

	seed := make([]byte, 32)
	creds, err := auth.LoadCredentials(3, 1, hex.EncodeToString(seed))
	if err != nil {
		t.Fatalf("LoadCredentials failed: %v", err)
	}

	c := NewClient(server.URL, WithCredentials(creds))
	for i := 0; i < 2; i++ {
		if _, err := c.Account(context.Background(), 3); err != nil {
			t.Fatalf("Account failed: %v", err)
		}
	}

	if len(tokens) != 2 {
		t.Fatalf("requests = %d, want 2", len(tokens))
	}
	if tokens[0] == "" {
		t.Fatal("no Authorization header sent")
	}
	if tokens[0] != tokens[1] {
		t.Error("token not reused across requests within its lifetime")
	}
}

func TestAPIErrorClassification(t *testing.T) {
	var status atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		w.Write([]byte(`{"message": "nope"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)

	status.Store(http.StatusInternalServerError)
	_, err := c.Account(context.Background(), 1)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if !apiErr.IsRetryable() {
		t.Error("500 not classified retryable")
	}

	status.Store(http.StatusNotFound)
	_, err = c.Account(context.Background(), 1)
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.IsRetryable() {
		t.Error("404 classified retryable")
	}

	status.Store(http.StatusTooManyRequests)
	_, err = c.Account(context.Background(), 1)
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if !apiErr.IsRetryable() {
		t.Error("429 not classified retryable")
	}
}

func TestSharedLimiterQueues(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(accountFixture))
	}))
	defer server.Close()

	// Two immediate slots, then one every 50ms: the third call must wait.
	limiter := rate.NewLimiter(rate.Every(50*time.Millisecond), 2)
	c := NewClient(server.URL, WithLimiter(limiter))

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := c.Account(context.Background(), 1); err != nil {
			t.Fatalf("Account failed: %v", err)
		}
	}

	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("3 calls took %v, want >= ~50ms (limiter must queue)", elapsed)
	}
}

func TestNewBudgetMatchesQuota(t *testing.T) {
	l := NewBudget(120)
	if got := l.Burst(); got != 120 {
		t.Errorf("burst = %d, want the full per-minute quota 120", got)
	}
	if got := float64(l.Limit()); got != 2.0 {
		t.Errorf("limit = %v req/s, want 2 (120/min)", got)
	}
}

func TestLimiterWaitCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(accountFixture))
	}))
	defer server.Close()

	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	c := NewClient(server.URL, WithLimiter(limiter))

	// Consume the only slot.
	if _, err := c.Account(context.Background(), 1); err != nil {
		t.Fatalf("Account failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := c.Account(ctx, 1); err == nil {
		t.Error("expected context error while queued on limiter, got nil")
	}
}
