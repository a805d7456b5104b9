package retry

import (
	"context"
	"sync"
	"time"
)

// State identifies where a connection is in its lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StatePhase1     State = "phase1_retry"
	StatePhase2     State = "phase2_retry"
)

const (
	// maxRequestHistory caps the rolling window used for requests/minute.
	maxRequestHistory = 300

	// maxErrorLength truncates stored error text for health reporting.
	maxErrorLength = 100
)

// Config tunes the retry schedule.
type Config struct {
	Phase1Interval    time.Duration // Wait between attempts in phase 1
	Phase1MaxAttempts int           // Consecutive failures before entering phase 2
	Phase2Interval    time.Duration // Wait between attempts in phase 2
}

// DefaultConfig returns the production retry schedule.
func DefaultConfig() Config {
	return Config{
		Phase1Interval:    60 * time.Second,
		Phase1MaxAttempts: 5,
		Phase2Interval:    300 * time.Second,
	}
}

// Stats is a point-in-time copy of a machine's counters.
type Stats struct {
	State               State
	Connected           bool
	Phase               int
	PhaseAttempts       int
	ConsecutiveFailures int
	TotalRequests       int64
	SuccessfulRequests  int64
	FailedRequests      int64
	Messages            int64
	Reconnects          int64
	RequestsPerMinute   int
	LastSuccess         time.Time // Zero if never succeeded
	LastFailure         time.Time // Zero if never failed
	LastError           string
	ConnectedSince      time.Time // Zero unless currently connected
	NextAttemptAt       time.Time // Zero when attempts are unrestricted
	StartedAt           time.Time
}

// Machine is the retry state machine for a single upstream connection.
// All methods are safe for concurrent use; forced reconnects may race
// the owning loop's own transitions and the last writer wins.
type Machine struct {
	mu  sync.Mutex
	cfg Config

	state               State
	phase               int
	phaseAttempts       int
	consecutiveFailures int

	totalRequests      int64
	successfulRequests int64
	failedRequests     int64
	messages           int64
	reconnects         int64

	lastSuccess    time.Time
	lastFailure    time.Time
	lastError      string
	connectedSince time.Time
	nextAttemptAt  time.Time
	startedAt      time.Time

	requestTimes []time.Time

	// wake is signalled by ForceReconnect to unblock AwaitRetry early.
	wake chan struct{}
}

// NewMachine creates a machine in the idle state.
func NewMachine(cfg Config) *Machine {
	if cfg.Phase1Interval <= 0 {
		cfg.Phase1Interval = DefaultConfig().Phase1Interval
	}
	if cfg.Phase1MaxAttempts <= 0 {
		cfg.Phase1MaxAttempts = DefaultConfig().Phase1MaxAttempts
	}
	if cfg.Phase2Interval <= 0 {
		cfg.Phase2Interval = DefaultConfig().Phase2Interval
	}
	return &Machine{
		cfg:       cfg,
		state:     StateIdle,
		phase:     1,
		startedAt: time.Now(),
		wake:      make(chan struct{}, 1),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connecting marks an attempt as in flight.
func (m *Machine) Connecting() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateConnecting
}

// Success records a successful request or connection. The machine moves
// to connected, the phase returns to 1 and the attempt and
// consecutive-failure counters reset.
func (m *Machine) Success() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateConnected {
		m.connectedSince = now
	}
	m.state = StateConnected
	m.phase = 1
	m.phaseAttempts = 0
	m.consecutiveFailures = 0
	m.totalRequests++
	m.successfulRequests++
	m.lastSuccess = now
	m.nextAttemptAt = time.Time{}
	m.recordRequestLocked(now)
}

// Failure records a failed request or connection and schedules the next
// attempt. Reaching the phase-1 limit of consecutive failures moves the
// machine into phase 2; phase 2 retries indefinitely.
func (m *Machine) Failure(err error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests++
	m.failedRequests++
	m.consecutiveFailures++
	m.phaseAttempts++
	m.reconnects++
	m.lastFailure = now
	m.connectedSince = time.Time{}
	if err != nil {
		m.lastError = truncate(err.Error(), maxErrorLength)
	}

	if m.phase == 1 && m.consecutiveFailures >= m.cfg.Phase1MaxAttempts {
		m.phase = 2
		m.phaseAttempts = 0
	}

	if m.phase == 2 {
		m.state = StatePhase2
		m.nextAttemptAt = now.Add(m.cfg.Phase2Interval)
	} else {
		m.state = StatePhase1
		m.nextAttemptAt = now.Add(m.cfg.Phase1Interval)
	}
	m.recordRequestLocked(now)
}

// RecordMessage counts one inbound message on a connected stream.
func (m *Machine) RecordMessage() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages++
}

// ForceReconnect moves the machine to connecting and clears the pending
// wait so the owning loop attempts immediately. Phase, attempt and
// consecutive-failure counters are left untouched.
func (m *Machine) ForceReconnect() {
	m.mu.Lock()
	m.state = StateConnecting
	m.nextAttemptAt = time.Time{}
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// ShouldAttempt reports whether an attempt is permitted at now. Outside
// the retry states attempts are always permitted.
func (m *Machine) ShouldAttempt(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StatePhase1 && m.state != StatePhase2 {
		return true
	}
	return m.nextAttemptAt.IsZero() || !now.Before(m.nextAttemptAt)
}

// AwaitRetry blocks until the machine permits an attempt: the scheduled
// wait elapses, ForceReconnect fires, or the machine is not in a retry
// state. Returns the context error on cancellation.
func (m *Machine) AwaitRetry(ctx context.Context) error {
	for {
		m.mu.Lock()
		inRetry := m.state == StatePhase1 || m.state == StatePhase2
		deadline := m.nextAttemptAt
		m.mu.Unlock()

		if !inRetry || deadline.IsZero() {
			return nil
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-m.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Snapshot returns a copy of the machine's counters.
func (m *Machine) Snapshot() Stats {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		State:               m.state,
		Connected:           m.state == StateConnected,
		Phase:               m.phase,
		PhaseAttempts:       m.phaseAttempts,
		ConsecutiveFailures: m.consecutiveFailures,
		TotalRequests:       m.totalRequests,
		SuccessfulRequests:  m.successfulRequests,
		FailedRequests:      m.failedRequests,
		Messages:            m.messages,
		Reconnects:          m.reconnects,
		RequestsPerMinute:   m.requestsSinceLocked(now.Add(-time.Minute)),
		LastSuccess:         m.lastSuccess,
		LastFailure:         m.lastFailure,
		LastError:           m.lastError,
		ConnectedSince:      m.connectedSince,
		NextAttemptAt:       m.nextAttemptAt,
		StartedAt:           m.startedAt,
	}
}

// recordRequestLocked appends a request timestamp to the rolling window.
// Caller holds mu.
func (m *Machine) recordRequestLocked(t time.Time) {
	m.requestTimes = append(m.requestTimes, t)
	if len(m.requestTimes) > maxRequestHistory {
		m.requestTimes = m.requestTimes[len(m.requestTimes)-maxRequestHistory:]
	}
}

// requestsSinceLocked counts requests newer than cutoff. Caller holds mu.
func (m *Machine) requestsSinceLocked(cutoff time.Time) int {
	n := 0
	for i := len(m.requestTimes) - 1; i >= 0; i-- {
		if m.requestTimes[i].Before(cutoff) {
			break
		}
		n++
	}
	return n
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
