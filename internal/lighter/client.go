package lighter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"lighter-broadcaster/internal/auth"
	"lighter-broadcaster/internal/model"
	"lighter-broadcaster/internal/normalize"
)

const (
	// DefaultBaseURL is the venue's REST endpoint.
	DefaultBaseURL = "https://mainnet.zklighter.elliot.ai"

	// defaultUserAgent mimics a browser; the venue rejects bare clients.
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// defaultOrigin accompanies the user agent on every request.
	defaultOrigin = "https://lighter.xyz"

	// tokenRefreshMargin renews cached auth tokens before expiry.
	tokenRefreshMargin = time.Minute
)

// Client provides access to the venue REST API for one account.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string
	limiter    *rate.Limiter

	staticToken string
	creds       *auth.Credentials

	tokenMu       sync.Mutex
	cachedToken   string
	tokenDeadline time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a venue REST client. An empty baseURL falls back to
// DefaultBaseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:    slog.Default(),
		userAgent: defaultUserAgent,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client. Overrides WithProxy and
// WithTimeout when applied after them.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLimiter attaches the shared outbound rate limiter.
func WithLimiter(l *rate.Limiter) ClientOption {
	return func(c *Client) {
		c.limiter = l
	}
}

// NewBudget builds the shared outbound limiter: a steady rate of
// perMinute requests spread across the minute, with burst capacity
// equal to the full per-minute quota.
func NewBudget(perMinute int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
}

// WithAuthToken attaches a pre-issued bearer token.
func WithAuthToken(token string) ClientOption {
	return func(c *Client) {
		c.staticToken = token
	}
}

// WithCredentials attaches signing credentials; tokens are issued and
// refreshed on demand. A static token takes precedence when both are
// set.
func WithCredentials(creds *auth.Credentials) ClientOption {
	return func(c *Client) {
		c.creds = creds
	}
}

// WithProxy routes requests through an HTTP proxy URL. Invalid URLs are
// ignored (direct connection).
func WithProxy(proxyURL string) ClientOption {
	return func(c *Client) {
		if proxyURL == "" {
			return
		}
		u, err := url.Parse(proxyURL)
		if err != nil {
			c.logger.Warn("invalid proxy url, connecting directly", "error", err)
			return
		}
		c.httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
	}
}

// WithUserAgent overrides the browser user agent.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// Account fetches and normalizes the account state (balances and open
// positions) for the given account index.
func (c *Client) Account(ctx context.Context, accountIndex int) (model.AccountState, error) {
	query := url.Values{}
	query.Set("by", "index")
	query.Set("value", strconv.Itoa(accountIndex))

	body, err := c.doRequest(ctx, http.MethodGet, "/api/v1/account", query)
	if err != nil {
		return model.AccountState{}, err
	}

	state, err := normalize.Account(body)
	if err != nil {
		return model.AccountState{}, fmt.Errorf("account %d: %w", accountIndex, err)
	}
	state.AccountIndex = accountIndex
	return state, nil
}

// ActiveOrders fetches the active orders on one market for the given
// account index. Requires auth.
func (c *Client) ActiveOrders(ctx context.Context, accountIndex int, marketID int64) ([]model.Order, error) {
	query := url.Values{}
	query.Set("account_index", strconv.Itoa(accountIndex))
	query.Set("market_id", strconv.FormatInt(marketID, 10))

	body, err := c.doRequest(ctx, http.MethodGet, "/api/v1/accountActiveOrders", query)
	if err != nil {
		return nil, err
	}

	orders, err := normalize.Orders(body)
	if err != nil {
		return nil, fmt.Errorf("orders %d/%d: %w", accountIndex, marketID, err)
	}
	return orders, nil
}
