package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"time"

	"lighter-broadcaster/internal/broadcast"
	"lighter-broadcaster/internal/cache"
	"lighter-broadcaster/internal/errlog"
	"lighter-broadcaster/internal/health"
	"lighter-broadcaster/internal/model"
	"lighter-broadcaster/internal/store"
)

// Config tunes the HTTP server.
type Config struct {
	Addr              string
	RequestsPerMinute int           // Per-client budget for read routes
	AdminPerMinute    int           // Per-client budget for admin routes
	LiveThreshold     time.Duration // REST data younger than this counts as live
	PollInterval      time.Duration // Reported in latency responses
}

// DefaultConfig returns the production server settings.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8000",
		RequestsPerMinute: 100,
		AdminPerMinute:    10,
		LiveThreshold:     10 * time.Second,
		PollInterval:      500 * time.Millisecond,
	}
}

// Account identifies one venue account served by the API.
type Account struct {
	Index int
	Name  string
}

// Pool controls one side's venue connections.
type Pool interface {
	Records() []health.Record
	ForceReconnect(accountIndex int) bool
	ForceReconnectAll() int
}

// StreamPool is the WebSocket side; it also knows whether any stream
// is currently up.
type StreamPool interface {
	Pool
	Connected() bool
}

// Store is the optional persistence backend behind the history routes.
type Store interface {
	AccountHistory(ctx context.Context, accountIndex, limit int) ([]store.SnapshotRow, error)
	RecentTrades(ctx context.Context, accountIndex, limit int) ([]model.Trade, error)
	Status(ctx context.Context) store.Status
}

// Deps are the collaborators the server reads from. Store may be nil
// when persistence is not configured; everything else is required.
type Deps struct {
	Cache    *cache.Cache
	Tracker  *health.Tracker
	Errors   *errlog.Collector
	Health   *health.Aggregator
	REST     Pool
	Streams  StreamPool
	Hub      *broadcast.Hub
	Store    Store
	Accounts []Account
}

// Server is the dashboard-facing HTTP server.
type Server struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	handler    http.Handler
	srv        *http.Server
	readLimit  *ipLimiter
	adminLimit *ipLimiter
	startedAt  time.Time
}

// NewServer builds the server and its routes. Zero config fields fall
// back to defaults; logger may be nil.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	if cfg.AdminPerMinute <= 0 {
		cfg.AdminPerMinute = def.AdminPerMinute
	}
	if cfg.LiveThreshold <= 0 {
		cfg.LiveThreshold = def.LiveThreshold
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:        cfg,
		deps:       deps,
		logger:     logger.With("component", "api"),
		readLimit:  newIPLimiter(cfg.RequestsPerMinute),
		adminLimit: newIPLimiter(cfg.AdminPerMinute),
		startedAt:  time.Now(),
	}
	// Handlers iterate accounts in index order.
	sort.Slice(s.deps.Accounts, func(i, j int) bool {
		return s.deps.Accounts[i].Index < s.deps.Accounts[j].Index
	})
	s.handler = s.withCORS(s.withLogging(s.withRateLimit(s.routes())))
	return s
}

// Start binds the listener and begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}

	s.srv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
		}
	}()

	s.logger.Info("api server listening", "addr", ln.Addr().String())
	return nil
}

// Stop drains in-flight requests and closes the listener. Hijacked
// WebSocket connections are the hub's to close.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Handler exposes the routed handler, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	handle(mux, http.MethodGet, "/health", s.handleHealthz)
	handle(mux, http.MethodGet, "/api/status", s.handleStatus)
	handle(mux, http.MethodGet, "/api/portfolio", s.handlePortfolio)
	handle(mux, http.MethodGet, "/api/accounts", s.handleAccounts)
	handle(mux, http.MethodGet, "/api/accounts/{index}", s.handleAccount)

	handle(mux, http.MethodGet, "/api/ws/positions", s.handleChannel(cache.WSPositionsKey))
	handle(mux, http.MethodGet, "/api/ws/positions/{index}", s.handleChannelOne(cache.WSPositionsKey))
	handle(mux, http.MethodGet, "/api/ws/orders", s.handleChannel(cache.WSOrdersKey))
	handle(mux, http.MethodGet, "/api/ws/orders/{index}", s.handleChannelOne(cache.WSOrdersKey))
	handle(mux, http.MethodGet, "/api/ws/trades", s.handleChannel(cache.WSTradesKey))
	handle(mux, http.MethodGet, "/api/ws/trades/{index}", s.handleChannelOne(cache.WSTradesKey))

	handle(mux, http.MethodGet, "/api/latency", s.handleLatency)
	handle(mux, http.MethodGet, "/api/ws/health", s.handleWSHealth)
	handle(mux, http.MethodGet, "/api/rest/health", s.handleRESTHealth)
	handle(mux, http.MethodGet, "/api/connections/health", s.handleConnectionsHealth)
	handle(mux, http.MethodGet, "/api/errors", s.handleErrors)

	handle(mux, http.MethodPost, "/api/errors/clear", s.admin(s.handleErrorsClear))
	handle(mux, http.MethodPost, "/api/ws/reconnect", s.admin(s.handleWSReconnect))
	handle(mux, http.MethodPost, "/api/rest/reconnect", s.admin(s.handleRESTReconnect))
	handle(mux, http.MethodPost, "/api/connections/reconnect", s.admin(s.handleReconnectAll))

	handle(mux, http.MethodGet, "/api/history/accounts/{index}", s.handleAccountHistory)
	handle(mux, http.MethodGet, "/api/history/trades/{index}", s.handleTradeHistory)
	handle(mux, http.MethodGet, "/api/storage/status", s.handleStorageStatus)

	handle(mux, http.MethodGet, "/ws", s.deps.Hub.ServeWS)

	// Unmatched paths get a JSON body instead of the stdlib text page.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return mux
}

// handle registers a method-specific route plus a same-path fallback
// that answers other methods with a JSON 405.
func handle(mux *http.ServeMux, method, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(method+" "+pattern, h)
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", method)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// account resolves a configured account by index.
func (s *Server) account(index int) (Account, bool) {
	for _, a := range s.deps.Accounts {
		if a.Index == index {
			return a, true
		}
	}
	return Account{}, false
}

// liveAccounts counts accounts whose REST state is fresher than the
// live threshold.
func (s *Server) liveAccounts() int {
	n := 0
	for _, a := range s.deps.Accounts {
		if age, ok := s.deps.Cache.Age(cache.AccountKey(a.Index)); ok && age < s.cfg.LiveThreshold {
			n++
		}
	}
	return n
}
