package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"lighter-broadcaster/internal/health"
)

// Set owns one poller per account.
type Set struct {
	pollers []*Poller
	byIndex map[int]*Poller
	logger  *slog.Logger
}

// NewSet groups pollers, ordered by account index.
func NewSet(pollers []*Poller, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	sorted := make([]*Poller, len(pollers))
	copy(sorted, pollers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].account.Index < sorted[j].account.Index
	})

	byIndex := make(map[int]*Poller, len(sorted))
	for _, p := range sorted {
		byIndex[p.account.Index] = p
	}
	return &Set{pollers: sorted, byIndex: byIndex, logger: logger}
}

// Len returns the number of pollers.
func (s *Set) Len() int { return len(s.pollers) }

// Start starts every poller. On failure the already-started pollers are
// stopped again.
func (s *Set) Start(ctx context.Context) error {
	for i, p := range s.pollers {
		if err := p.Start(ctx); err != nil {
			for _, started := range s.pollers[:i] {
				_ = started.Stop(ctx)
			}
			return fmt.Errorf("start poller %d: %w", p.account.Index, err)
		}
	}
	s.logger.Info("pollers started", "count", len(s.pollers))
	return nil
}

// Stop stops every poller, collecting errors.
func (s *Set) Stop(ctx context.Context) error {
	var errs []error
	for _, p := range s.pollers {
		if err := p.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop poller %d: %w", p.account.Index, err))
		}
	}
	return errors.Join(errs...)
}

// Records implements health.Source.
func (s *Set) Records() []health.Record {
	out := make([]health.Record, 0, len(s.pollers))
	for _, p := range s.pollers {
		out = append(out, p.Record())
	}
	return out
}

// ForceReconnect clears one account's retry wait so its next ticks
// attempt immediately. Returns false for unknown accounts.
func (s *Set) ForceReconnect(index int) bool {
	p, ok := s.byIndex[index]
	if !ok {
		return false
	}
	p.machine.ForceReconnect()
	s.logger.Info("forced rest reconnect", "account", index)
	return true
}

// ForceReconnectAll clears every account's retry wait and returns how
// many were reset.
func (s *Set) ForceReconnectAll() int {
	for _, p := range s.pollers {
		p.machine.ForceReconnect()
	}
	s.logger.Info("forced rest reconnect for all accounts", "count", len(s.pollers))
	return len(s.pollers)
}
