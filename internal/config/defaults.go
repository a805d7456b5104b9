package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultLogLevel          = "info"
	DefaultServerHost        = "0.0.0.0"
	DefaultServerPort        = 8000
	DefaultBaseURL           = "https://mainnet.zklighter.elliot.ai"
	DefaultWSURL             = "wss://mainnet.zklighter.elliot.ai/stream"
	DefaultAPITimeout        = 30 * time.Second
	DefaultRequestsPerMinute = 60
	DefaultStateInterval     = 500 * time.Millisecond
	DefaultOrdersInterval    = 2 * time.Second
	DefaultSnapshotInterval  = 60 * time.Second
	DefaultPhase1Interval    = 60 * time.Second
	DefaultPhase1Attempts    = 5
	DefaultPhase2Interval    = 300 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultPingInterval      = 30 * time.Second
	DefaultPongTimeout       = 60 * time.Second
	DefaultCacheTTL          = 5 * time.Second
	DefaultQueueDepth        = 100
	DefaultBroadcastInterval = 1 * time.Second
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
)

func (c *BroadcasterConfig) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}

	// Server defaults
	if c.Server.Host == "" {
		c.Server.Host = DefaultServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}

	// Venue API defaults
	if c.Lighter.BaseURL == "" {
		c.Lighter.BaseURL = DefaultBaseURL
	}
	if c.Lighter.WSURL == "" {
		c.Lighter.WSURL = DefaultWSURL
	}
	if c.Lighter.Timeout == 0 {
		c.Lighter.Timeout = DefaultAPITimeout
	}
	if c.Lighter.RequestsPerMinute == 0 {
		c.Lighter.RequestsPerMinute = DefaultRequestsPerMinute
	}

	// Poller defaults
	if c.Poller.StateInterval == 0 {
		c.Poller.StateInterval = DefaultStateInterval
	}
	if c.Poller.OrdersInterval == 0 {
		c.Poller.OrdersInterval = DefaultOrdersInterval
	}
	if c.Poller.SnapshotInterval == 0 {
		c.Poller.SnapshotInterval = DefaultSnapshotInterval
	}

	// Retry defaults
	if c.Retry.Phase1Interval == 0 {
		c.Retry.Phase1Interval = DefaultPhase1Interval
	}
	if c.Retry.Phase1MaxAttempts == 0 {
		c.Retry.Phase1MaxAttempts = DefaultPhase1Attempts
	}
	if c.Retry.Phase2Interval == 0 {
		c.Retry.Phase2Interval = DefaultPhase2Interval
	}

	// Stream defaults
	if c.Stream.HandshakeTimeout == 0 {
		c.Stream.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = DefaultPingInterval
	}
	if c.Stream.PongTimeout == 0 {
		c.Stream.PongTimeout = DefaultPongTimeout
	}

	// Cache and broadcast defaults
	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Broadcast.QueueDepth == 0 {
		c.Broadcast.QueueDepth = DefaultQueueDepth
	}
	if c.Broadcast.Interval == 0 {
		c.Broadcast.Interval = DefaultBroadcastInterval
	}

	// Database defaults only matter once a host is set
	if c.Database.Enabled() {
		applyDBDefaults(&c.Database)
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
