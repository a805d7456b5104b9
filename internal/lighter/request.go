package lighter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"lighter-broadcaster/internal/auth"
)

// APIError represents an error response from the venue API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lighter api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// doRequest performs one HTTP request, waiting on the shared rate
// limiter first. Retry policy lives with the caller's state machine;
// one call is one counted request.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Origin", defaultOrigin)
	if token, err := c.authToken(); err != nil {
		return nil, fmt.Errorf("auth token: %w", err)
	} else if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	return body, nil
}

// authToken returns the bearer token for requests: the static token if
// configured, otherwise a freshly signed one, cached until close to its
// deadline. Empty when the account has no credentials.
func (c *Client) authToken() (string, error) {
	if c.staticToken != "" {
		return c.staticToken, nil
	}
	if c.creds == nil {
		return "", nil
	}

	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.cachedToken != "" && time.Until(c.tokenDeadline) > tokenRefreshMargin {
		return c.cachedToken, nil
	}

	token, err := c.creds.Token(auth.DefaultTokenTTL)
	if err != nil {
		return "", err
	}
	c.cachedToken = token
	c.tokenDeadline = time.Now().Add(auth.DefaultTokenTTL)
	return token, nil
}
