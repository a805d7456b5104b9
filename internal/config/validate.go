package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *BroadcasterConfig) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Lighter.RequestsPerMinute < 1 {
		return errors.New("lighter.requests_per_minute must be >= 1")
	}

	if len(c.Accounts) == 0 {
		return errors.New("at least one account is required")
	}
	seen := make(map[int]bool, len(c.Accounts))
	for i, acct := range c.Accounts {
		if acct.Index < 0 {
			return fmt.Errorf("accounts[%d].index must be >= 0, got %d", i, acct.Index)
		}
		if seen[acct.Index] {
			return fmt.Errorf("accounts[%d].index %d appears more than once", i, acct.Index)
		}
		seen[acct.Index] = true
		if _, err := acct.ProxyURL(); err != nil {
			return fmt.Errorf("accounts[%d]: %w", i, err)
		}
	}

	if c.Poller.StateInterval <= 0 {
		return errors.New("poller.state_interval must be positive")
	}
	if c.Poller.OrdersInterval <= 0 {
		return errors.New("poller.orders_interval must be positive")
	}

	if c.Retry.Phase1Interval <= 0 {
		return errors.New("retry.phase1_interval must be positive")
	}
	if c.Retry.Phase1MaxAttempts < 1 {
		return errors.New("retry.phase1_max_attempts must be >= 1")
	}
	if c.Retry.Phase2Interval <= 0 {
		return errors.New("retry.phase2_interval must be positive")
	}

	if c.Broadcast.QueueDepth < 1 {
		return errors.New("broadcast.queue_depth must be >= 1")
	}

	if c.Database.Enabled() {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
