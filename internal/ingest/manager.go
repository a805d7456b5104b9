package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"lighter-broadcaster/internal/health"
	"lighter-broadcaster/internal/retry"
)

// Manager runs the stream clients for all configured accounts.
type Manager struct {
	clients []*Client
	byIndex map[int]*Client
	logger  *slog.Logger
}

// NewManager groups clients, ordered by account index.
func NewManager(clients []*Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	sorted := make([]*Client, len(clients))
	copy(sorted, clients)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].account.Index < sorted[j].account.Index
	})

	byIndex := make(map[int]*Client, len(sorted))
	for _, c := range sorted {
		byIndex[c.account.Index] = c
	}
	return &Manager{clients: sorted, byIndex: byIndex, logger: logger}
}

// Len returns the number of managed connections.
func (m *Manager) Len() int { return len(m.clients) }

// Start connects every account. On failure the already-started clients
// are stopped again.
func (m *Manager) Start(ctx context.Context) error {
	for i, c := range m.clients {
		if err := c.Start(ctx); err != nil {
			for _, started := range m.clients[:i] {
				_ = started.Stop(ctx)
			}
			return fmt.Errorf("start ingest %d: %w", c.account.Index, err)
		}
	}
	m.logger.Info("websocket ingest running", "accounts", len(m.clients))
	return nil
}

// Stop closes all connections.
func (m *Manager) Stop(ctx context.Context) error {
	var errs []error
	for _, c := range m.clients {
		if err := c.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop ingest %d: %w", c.account.Index, err))
		}
	}
	return errors.Join(errs...)
}

// Records reports per-connection health, ordered by account index.
func (m *Manager) Records() []health.Record {
	out := make([]health.Record, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c.Record())
	}
	return out
}

// Connected reports whether any stream connection is up.
func (m *Manager) Connected() bool {
	for _, c := range m.clients {
		if c.machine.State() == retry.StateConnected {
			return true
		}
	}
	return false
}

// ForceReconnect drops one account's socket and dials again
// immediately. Returns false for an unknown account.
func (m *Manager) ForceReconnect(index int) bool {
	c, ok := m.byIndex[index]
	if !ok {
		return false
	}
	c.ForceReconnect()
	return true
}

// ForceReconnectAll drops every socket. Returns the connection count.
func (m *Manager) ForceReconnectAll() int {
	for _, c := range m.clients {
		c.ForceReconnect()
	}
	m.logger.Info("forced websocket reconnect for all accounts", "count", len(m.clients))
	return len(m.clients)
}
