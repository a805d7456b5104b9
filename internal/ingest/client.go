package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"lighter-broadcaster/internal/errlog"
	"lighter-broadcaster/internal/health"
	"lighter-broadcaster/internal/normalize"
	"lighter-broadcaster/internal/retry"
)

// DefaultStreamURL is the production Lighter account stream.
const DefaultStreamURL = "wss://mainnet.zklighter.elliot.ai/stream"

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	defaultOrigin    = "https://lighter.xyz"
)

var (
	pingFrame = []byte(`{"type":"ping"}`)
	pongFrame = []byte(`{"type":"pong"}`)
)

// Config tunes a stream connection.
type Config struct {
	URL              string
	Origin           string
	UserAgent        string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration // Max silence before the socket is declared dead
	Retry            retry.Config
}

// DefaultConfig returns the production stream settings.
func DefaultConfig() Config {
	return Config{
		URL:              DefaultStreamURL,
		Origin:           defaultOrigin,
		UserAgent:        defaultUserAgent,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		PongTimeout:      60 * time.Second,
		Retry:            retry.DefaultConfig(),
	}
}

// Account identifies one subscribed account on the stream.
type Account struct {
	Index     int
	Name      string
	AuthToken string   // Sent with each subscribe request when set
	Proxy     *url.URL // Optional per-account egress proxy
}

// Deps are the collaborators a Client needs.
type Deps struct {
	Applier *Applier
	Errors  *errlog.Collector
}

// subscribeRequest is the frame that opens an account channel.
type subscribeRequest struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Auth    string `json:"auth,omitempty"`
}

// Client owns the stream connection for a single account. It dials,
// subscribes, reads until the connection dies and then retries on the
// machine's schedule. Safe for concurrent use.
type Client struct {
	cfg     Config
	account Account
	deps    Deps
	logger  *slog.Logger
	machine *retry.Machine

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// forced marks the next connection drop as requested, so the run
	// loop reconnects without recording a failure.
	forced atomic.Bool

	mu          sync.Mutex
	conn        *websocket.Conn
	lastMessage time.Time
	lastPong    time.Time

	writeMu sync.Mutex
}

// NewClient creates a stream client for one account. Zero config
// fields fall back to DefaultConfig values.
func NewClient(cfg Config, account Account, deps Deps, logger *slog.Logger) *Client {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Origin == "" {
		cfg.Origin = def.Origin
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:     cfg,
		account: account,
		deps:    deps,
		logger:  logger.With("account", account.Index),
		machine: retry.NewMachine(cfg.Retry),
	}
}

// Machine exposes the retry machine for health reporting.
func (c *Client) Machine() *retry.Machine {
	return c.machine
}

// Record reports this connection's health.
func (c *Client) Record() health.Record {
	c.mu.Lock()
	lastMessage, lastPong := c.lastMessage, c.lastPong
	c.mu.Unlock()

	return health.Record{
		AccountIndex: c.account.Index,
		AccountName:  c.account.Name,
		HasProxy:     c.account.Proxy != nil,
		Stats:        c.machine.Snapshot(),
		LastMessage:  lastMessage,
		LastPong:     lastPong,
	}
}

// Start begins the connect-read-retry loop.
func (c *Client) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run()
	c.logger.Info("websocket ingest started", "url", c.cfg.URL, "proxy", c.account.Proxy != nil)
	return nil
}

// Stop closes the connection and waits for the loop to exit.
func (c *Client) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("ingest shutdown timeout")
		return ctx.Err()
	}
	return nil
}

// ForceReconnect drops the current socket and dials again immediately.
// The retry phase and failure counters are left as they are.
func (c *Client) ForceReconnect() {
	c.forced.Store(true)
	c.machine.ForceReconnect()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	c.logger.Info("websocket reconnect forced")
}

func (c *Client) run() {
	defer c.wg.Done()

	for {
		if err := c.machine.AwaitRetry(c.ctx); err != nil {
			return
		}
		if c.ctx.Err() != nil {
			return
		}

		// A force that fired during the wait has done its job once the
		// attempt starts; the flag only covers the session it tore down.
		c.forced.Store(false)

		c.machine.Connecting()
		conn, err := c.dial()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.recordFailure(fmt.Errorf("dial: %w", err))
			continue
		}

		if err := c.subscribeAll(conn); err != nil {
			conn.Close()
			c.recordFailure(fmt.Errorf("subscribe: %w", err))
			continue
		}

		c.machine.Success()
		c.setConn(conn)
		c.logger.Info("websocket connected")

		err = c.serve(conn)
		c.setConn(nil)
		conn.Close()

		if c.ctx.Err() != nil {
			return
		}
		if c.forced.CompareAndSwap(true, false) {
			// Requested drop: dial again right away, no failure recorded.
			continue
		}
		c.recordFailure(err)
	}
}

func (c *Client) dial() (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("User-Agent", c.cfg.UserAgent)
	header.Set("Origin", c.cfg.Origin)

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	if c.account.Proxy != nil {
		dialer.Proxy = http.ProxyURL(c.account.Proxy)
	}

	conn, _, err := dialer.DialContext(c.ctx, c.cfg.URL, header)
	return conn, err
}

func (c *Client) subscribeAll(conn *websocket.Conn) error {
	channels := []string{
		fmt.Sprintf("account_all_positions/%d", c.account.Index),
		fmt.Sprintf("account_all_orders/%d", c.account.Index),
		fmt.Sprintf("account_all_trades/%d", c.account.Index),
	}
	for _, channel := range channels {
		data, err := json.Marshal(subscribeRequest{
			Type:    "subscribe",
			Channel: channel,
			Auth:    c.account.AuthToken,
		})
		if err != nil {
			return err
		}
		if err := c.send(conn, data); err != nil {
			return fmt.Errorf("subscribe %s: %w", channel, err)
		}
	}
	return nil
}

// serve pumps the connection until it dies. The ping loop closes the
// socket on staleness or shutdown, which unblocks the read loop.
func (c *Client) serve(conn *websocket.Conn) error {
	stop := make(chan struct{})
	pingErr := make(chan error, 1)
	go func() {
		pingErr <- c.pingLoop(conn, stop)
	}()

	readErr := c.readLoop(conn)
	close(stop)

	if err := <-pingErr; err != nil {
		return err
	}
	return readErr
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.touch()
		c.machine.RecordMessage()
		c.handle(conn, data)
	}
}

func (c *Client) handle(conn *websocket.Conn, data []byte) {
	msg := normalize.ParseMessage(data)
	switch msg.Type {
	case "ping":
		// The venue pings at the application level and expects a pong
		// frame in reply, not a protocol control message.
		if err := c.send(conn, pongFrame); err != nil {
			c.logger.Warn("pong reply failed", "error", err)
		}
	case "pong":
		c.touchPong()
	case "connected":
		c.logger.Debug("stream session established")
	default:
		c.deps.Applier.Apply(c.account.Index, msg, data)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, stop <-chan struct{}) error {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return nil
		case <-c.ctx.Done():
			conn.Close()
			return nil
		case <-ticker.C:
			c.mu.Lock()
			silence := time.Since(c.lastMessage)
			c.mu.Unlock()
			if silence > c.cfg.PongTimeout {
				conn.Close()
				return fmt.Errorf("no messages for %s", silence.Round(time.Second))
			}
			if err := c.send(conn, pingFrame); err != nil {
				conn.Close()
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (c *Client) send(conn *websocket.Conn, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	if conn != nil {
		// Start the liveness clock from connect.
		c.lastMessage = time.Now()
	}
	c.mu.Unlock()
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastMessage = time.Now()
	c.mu.Unlock()
}

func (c *Client) touchPong() {
	c.mu.Lock()
	c.lastPong = time.Now()
	c.mu.Unlock()
}

func (c *Client) recordFailure(err error) {
	c.machine.Failure(err)
	if c.deps.Errors != nil {
		c.deps.Errors.Add(errlog.SourceWS, strconv.Itoa(c.account.Index), errlog.TypeConnection, err.Error())
	}

	s := c.machine.Snapshot()
	c.logger.Warn("websocket connection lost",
		"error", err,
		"phase", s.Phase,
		"consecutive_failures", s.ConsecutiveFailures,
		"next_attempt", s.NextAttemptAt.Format(time.RFC3339),
	)
}
