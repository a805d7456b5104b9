package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lighter-broadcaster/internal/api"
	"lighter-broadcaster/internal/auth"
	"lighter-broadcaster/internal/broadcast"
	"lighter-broadcaster/internal/cache"
	"lighter-broadcaster/internal/config"
	"lighter-broadcaster/internal/errlog"
	"lighter-broadcaster/internal/health"
	"lighter-broadcaster/internal/ingest"
	"lighter-broadcaster/internal/lighter"
	"lighter-broadcaster/internal/poller"
	"lighter-broadcaster/internal/retry"
	"lighter-broadcaster/internal/store"
	"lighter-broadcaster/internal/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file (empty: environment variables only)")
	flag.Parse()

	// Bootstrap logger; replaced once the configured level is known.
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting broadcaster",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		"accounts", len(cfg.Accounts),
		"api_url", cfg.Lighter.BaseURL,
		"storage", cfg.Database.Enabled(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Shared plumbing.
	dataCache := cache.New(cfg.Cache.TTL)
	tracker := health.NewTracker()
	collector := errlog.New()
	collector.SetSink(func(s errlog.Summary) {
		dataCache.Put(cache.ErrorsSummaryKey, s)
	})

	var pg *store.Postgres
	if cfg.Database.Enabled() {
		pg, err = store.Open(ctx, cfg.Database, logger)
		if err != nil {
			logger.Error("failed to open storage", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
	}

	hub := broadcast.NewHub(broadcast.Config{
		QueueDepth:        cfg.Broadcast.QueueDepth,
		BroadcastInterval: cfg.Broadcast.Interval,
	}, cacheSnapshot(dataCache), tracker, logger)

	applierDeps := ingest.ApplierDeps{
		Cache:   dataCache,
		Tracker: tracker,
		Errors:  collector,
		Hub:     hub,
	}
	if pg != nil {
		applierDeps.Store = pg
	}
	applier := ingest.NewApplier(applierDeps, logger)
	defer applier.Wait()

	// One venue budget shared by every account's pollers; requests over
	// the budget queue rather than fail.
	limiter := lighter.NewBudget(cfg.Lighter.RequestsPerMinute)

	retryCfg := retry.Config{
		Phase1Interval:    cfg.Retry.Phase1Interval,
		Phase1MaxAttempts: cfg.Retry.Phase1MaxAttempts,
		Phase2Interval:    cfg.Retry.Phase2Interval,
	}

	var (
		pollers  []*poller.Poller
		streams  []*ingest.Client
		accounts []api.Account
	)
	for _, ac := range cfg.Accounts {
		proxyURL, err := ac.ProxyURL()
		if err != nil {
			logger.Error("invalid proxy", "account", ac.Index, "error", err)
			os.Exit(1)
		}

		opts := []lighter.ClientOption{
			lighter.WithLogger(logger),
			lighter.WithTimeout(cfg.Lighter.Timeout),
			lighter.WithLimiter(limiter),
		}
		if ac.AuthToken != "" {
			opts = append(opts, lighter.WithAuthToken(ac.AuthToken))
		}
		if ac.APIKeyPrivateKey != "" {
			creds, err := auth.LoadCredentials(ac.Index, ac.APIKeyIndex, ac.APIKeyPrivateKey)
			if err != nil {
				logger.Error("invalid api key", "account", ac.Index, "error", err)
				os.Exit(1)
			}
			opts = append(opts, lighter.WithCredentials(creds))
		}
		if proxyURL != nil {
			opts = append(opts, lighter.WithProxy(proxyURL.String()))
		}
		client := lighter.NewClient(cfg.Lighter.BaseURL, opts...)

		pollerDeps := poller.Deps{
			Client:  client,
			Cache:   dataCache,
			Tracker: tracker,
			Errors:  collector,
			Hub:     hub,
		}
		if pg != nil {
			pollerDeps.Store = pg
		}
		pollers = append(pollers, poller.New(poller.Config{
			StateInterval:    cfg.Poller.StateInterval,
			OrdersInterval:   cfg.Poller.OrdersInterval,
			Timeout:          cfg.Lighter.Timeout,
			SnapshotInterval: cfg.Poller.SnapshotInterval,
			Retry:            retryCfg,
		}, poller.Account{
			Index:    ac.Index,
			Name:     ac.DisplayName(),
			HasProxy: proxyURL != nil,
		}, pollerDeps, logger))

		streams = append(streams, ingest.NewClient(ingest.Config{
			URL:              cfg.Lighter.WSURL,
			HandshakeTimeout: cfg.Stream.HandshakeTimeout,
			PingInterval:     cfg.Stream.PingInterval,
			PongTimeout:      cfg.Stream.PongTimeout,
			Retry:            retryCfg,
		}, ingest.Account{
			Index:     ac.Index,
			Name:      ac.DisplayName(),
			AuthToken: ac.AuthToken,
			Proxy:     proxyURL,
		}, ingest.Deps{Applier: applier, Errors: collector}, logger))

		accounts = append(accounts, api.Account{Index: ac.Index, Name: ac.DisplayName()})
	}

	pollerSet := poller.NewSet(pollers, logger)
	manager := ingest.NewManager(streams, logger)
	aggregator := health.NewAggregator(pollerSet, manager, cfg.Poller.StateInterval)

	apiDeps := api.Deps{
		Cache:    dataCache,
		Tracker:  tracker,
		Errors:   collector,
		Health:   aggregator,
		REST:     pollerSet,
		Streams:  manager,
		Hub:      hub,
		Accounts: accounts,
	}
	if pg != nil {
		apiDeps.Store = pg
	}
	server := api.NewServer(api.Config{
		Addr:         cfg.Server.Addr(),
		PollInterval: cfg.Poller.StateInterval,
	}, apiDeps, logger)

	// Hub first so the earliest frames have somewhere to go; the API
	// last so it only serves once everything behind it runs. Deferred
	// stops unwind in reverse.
	if err := hub.Start(ctx); err != nil {
		logger.Error("failed to start hub", "error", err)
		os.Exit(1)
	}
	defer stopWithTimeout(hub.Stop)

	if err := pollerSet.Start(ctx); err != nil {
		logger.Error("failed to start pollers", "error", err)
		os.Exit(1)
	}
	defer stopWithTimeout(pollerSet.Stop)

	if err := manager.Start(ctx); err != nil {
		logger.Error("failed to start stream manager", "error", err)
		os.Exit(1)
	}
	defer stopWithTimeout(manager.Stop)

	if err := server.Start(ctx); err != nil {
		logger.Error("failed to start api server", "error", err)
		os.Exit(1)
	}
	defer stopWithTimeout(server.Stop)

	logger.Info("broadcaster running",
		"addr", cfg.Server.Addr(),
		"accounts", len(accounts),
		"ws_url", cfg.Lighter.WSURL,
	)

	<-ctx.Done()
	logger.Info("shutting down")
}

func loadConfig(path string) (*config.BroadcasterConfig, error) {
	if path == "" {
		return config.FromEnv()
	}
	return config.LoadAndValidate(path)
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func stopWithTimeout(stop func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	stop(ctx)
}

// cacheSnapshot renders the whole cache as the hub's wire payload:
// every entry with its age, TTL, and staleness alongside the value.
func cacheSnapshot(c *cache.Cache) broadcast.SnapshotFunc {
	type entry struct {
		Value      any     `json:"value"`
		AgeSeconds float64 `json:"age_seconds"`
		TTLSeconds float64 `json:"ttl_seconds"`
		Stale      bool    `json:"stale"`
	}
	return func() (json.RawMessage, error) {
		snap := c.Snapshot()
		out := make(map[string]entry, len(snap))
		for key, lk := range snap {
			out[key] = entry{
				Value:      lk.Value,
				AgeSeconds: lk.Age.Seconds(),
				TTLSeconds: lk.TTL.Seconds(),
				Stale:      lk.Stale,
			}
		}
		return json.Marshal(out)
	}
}
