package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// BroadcasterConfig is the root configuration for a broadcaster instance.
type BroadcasterConfig struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Server    ServerConfig    `yaml:"server"`
	Lighter   LighterConfig   `yaml:"lighter"`
	Accounts  []AccountConfig `yaml:"accounts"`
	Poller    PollerConfig    `yaml:"poller"`
	Retry     RetryConfig     `yaml:"retry"`
	Stream    StreamConfig    `yaml:"stream"`
	Cache     CacheConfig     `yaml:"cache"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Database  DBConfig        `yaml:"database"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// ServerConfig holds the dashboard HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LighterConfig holds venue API settings shared by all accounts.
type LighterConfig struct {
	BaseURL           string        `yaml:"base_url"`
	WSURL             string        `yaml:"ws_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"` // Global budget across all accounts
}

// AccountConfig describes one monitored Lighter account.
type AccountConfig struct {
	Index            int    `yaml:"index"`
	Name             string `yaml:"name"`
	AuthToken        string `yaml:"auth_token"`            // Pre-issued bearer token
	APIKeyPrivateKey string `yaml:"api_key_private_key"`   // Hex seed for self-signed tokens
	APIKeyIndex      int    `yaml:"api_key_index"`
	Proxy            string `yaml:"proxy"` // URL or ip:port[:user:pass]
}

// DisplayName returns the configured name or a positional fallback.
func (a AccountConfig) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return fmt.Sprintf("Lighter_%d", a.Index)
}

// ProxyURL normalizes the proxy field to a URL. Colon-separated
// ip:port:user:pass and ip:port forms become http URLs; strings that
// already carry a scheme pass through. Empty input returns nil.
func (a AccountConfig) ProxyURL() (*url.URL, error) {
	raw := strings.TrimSpace(a.Proxy)
	if raw == "" {
		return nil, nil
	}
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url %q: %w", raw, err)
		}
		return u, nil
	}
	parts := strings.Split(raw, ":")
	switch len(parts) {
	case 2:
		return url.Parse(fmt.Sprintf("http://%s:%s", parts[0], parts[1]))
	case 4:
		return &url.URL{
			Scheme: "http",
			User:   url.UserPassword(parts[2], parts[3]),
			Host:   parts[0] + ":" + parts[1],
		}, nil
	default:
		return nil, fmt.Errorf("proxy %q: want url, ip:port, or ip:port:user:pass", raw)
	}
}

// PollerConfig holds REST polling cadences.
type PollerConfig struct {
	StateInterval    time.Duration `yaml:"state_interval"`
	OrdersInterval   time.Duration `yaml:"orders_interval"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// RetryConfig holds the two-phase reconnect schedule shared by REST
// pollers and stream clients.
type RetryConfig struct {
	Phase1Interval    time.Duration `yaml:"phase1_interval"`
	Phase1MaxAttempts int           `yaml:"phase1_max_attempts"`
	Phase2Interval    time.Duration `yaml:"phase2_interval"`
}

// StreamConfig holds venue WebSocket settings.
type StreamConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PongTimeout      time.Duration `yaml:"pong_timeout"`
}

// CacheConfig holds staleness settings for the shared cache.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// BroadcastConfig holds dashboard fan-out settings.
type BroadcastConfig struct {
	QueueDepth int           `yaml:"queue_depth"`
	Interval   time.Duration `yaml:"interval"`
}

// DBConfig holds the optional Postgres connection. An empty host
// disables persistence entirely.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether a database was configured at all.
func (db DBConfig) Enabled() bool {
	return db.Host != ""
}
