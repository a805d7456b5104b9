package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPhaseTransitionAtConsecutiveFailureLimit(t *testing.T) {
	m := NewMachine(DefaultConfig())

	for i := 1; i <= 4; i++ {
		m.Failure(errors.New("dial refused"))
		s := m.Snapshot()
		if s.State != StatePhase1 {
			t.Fatalf("after failure %d: state = %s, want %s", i, s.State, StatePhase1)
		}
		if s.Phase != 1 {
			t.Fatalf("after failure %d: phase = %d, want 1", i, s.Phase)
		}
	}

	m.Failure(errors.New("dial refused"))
	s := m.Snapshot()
	if s.State != StatePhase2 {
		t.Errorf("after 5th failure: state = %s, want %s", s.State, StatePhase2)
	}
	if s.Phase != 2 {
		t.Errorf("after 5th failure: phase = %d, want 2", s.Phase)
	}
	if s.ConsecutiveFailures != 5 {
		t.Errorf("consecutive failures = %d, want 5", s.ConsecutiveFailures)
	}
}

func TestFailureScheduling(t *testing.T) {
	m := NewMachine(DefaultConfig())

	m.Failure(errors.New("timeout"))
	s := m.Snapshot()
	wait := time.Until(s.NextAttemptAt)
	if wait < 58*time.Second || wait > 61*time.Second {
		t.Errorf("phase 1 wait = %v, want ~60s", wait)
	}

	for i := 0; i < 4; i++ {
		m.Failure(errors.New("timeout"))
	}
	s = m.Snapshot()
	wait = time.Until(s.NextAttemptAt)
	if wait < 298*time.Second || wait > 301*time.Second {
		t.Errorf("phase 2 wait = %v, want ~300s", wait)
	}
}

func TestSuccessResetsCounters(t *testing.T) {
	m := NewMachine(DefaultConfig())

	for i := 0; i < 6; i++ {
		m.Failure(errors.New("refused"))
	}
	m.Success()

	s := m.Snapshot()
	if s.State != StateConnected {
		t.Errorf("state = %s, want %s", s.State, StateConnected)
	}
	if s.Phase != 1 {
		t.Errorf("phase = %d, want 1", s.Phase)
	}
	if s.PhaseAttempts != 0 {
		t.Errorf("phase attempts = %d, want 0", s.PhaseAttempts)
	}
	if s.ConsecutiveFailures != 0 {
		t.Errorf("consecutive failures = %d, want 0", s.ConsecutiveFailures)
	}
	if s.TotalRequests != 7 {
		t.Errorf("total requests = %d, want 7", s.TotalRequests)
	}
	if s.SuccessfulRequests != 1 {
		t.Errorf("successful requests = %d, want 1", s.SuccessfulRequests)
	}
	if s.FailedRequests != 6 {
		t.Errorf("failed requests = %d, want 6", s.FailedRequests)
	}
}

func TestForceReconnectImmediateWithoutCounterReset(t *testing.T) {
	m := NewMachine(DefaultConfig())

	for i := 0; i < 6; i++ {
		m.Failure(errors.New("refused"))
	}
	before := m.Snapshot()
	if before.State != StatePhase2 {
		t.Fatalf("state = %s, want %s", before.State, StatePhase2)
	}
	if m.ShouldAttempt(time.Now()) {
		t.Fatal("ShouldAttempt = true during phase 2 wait, want false")
	}

	m.ForceReconnect()

	after := m.Snapshot()
	if after.State != StateConnecting {
		t.Errorf("state = %s, want %s", after.State, StateConnecting)
	}
	if !after.NextAttemptAt.IsZero() {
		t.Errorf("next attempt = %v, want zero", after.NextAttemptAt)
	}
	if !m.ShouldAttempt(time.Now()) {
		t.Error("ShouldAttempt = false after forced reconnect, want true")
	}
	if after.Phase != before.Phase {
		t.Errorf("phase changed: %d -> %d", before.Phase, after.Phase)
	}
	if after.ConsecutiveFailures != before.ConsecutiveFailures {
		t.Errorf("consecutive failures changed: %d -> %d",
			before.ConsecutiveFailures, after.ConsecutiveFailures)
	}
	if after.FailedRequests != before.FailedRequests {
		t.Errorf("failed requests changed: %d -> %d",
			before.FailedRequests, after.FailedRequests)
	}
}

func TestShouldAttemptGate(t *testing.T) {
	m := NewMachine(Config{Phase1Interval: 50 * time.Millisecond, Phase1MaxAttempts: 5, Phase2Interval: time.Hour})

	if !m.ShouldAttempt(time.Now()) {
		t.Error("idle machine should permit attempts")
	}

	m.Failure(errors.New("refused"))
	if m.ShouldAttempt(time.Now()) {
		t.Error("ShouldAttempt = true immediately after failure, want false")
	}

	time.Sleep(60 * time.Millisecond)
	if !m.ShouldAttempt(time.Now()) {
		t.Error("ShouldAttempt = false after wait elapsed, want true")
	}
}

func TestAwaitRetryElapses(t *testing.T) {
	m := NewMachine(Config{Phase1Interval: 30 * time.Millisecond, Phase1MaxAttempts: 5, Phase2Interval: time.Hour})
	m.Failure(errors.New("refused"))

	start := time.Now()
	if err := m.AwaitRetry(context.Background()); err != nil {
		t.Fatalf("AwaitRetry() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("AwaitRetry returned after %v, want >= ~30ms", elapsed)
	}
}

func TestAwaitRetryWokenByForceReconnect(t *testing.T) {
	m := NewMachine(Config{Phase1Interval: time.Hour, Phase1MaxAttempts: 5, Phase2Interval: time.Hour})
	m.Failure(errors.New("refused"))

	done := make(chan error, 1)
	go func() {
		done <- m.AwaitRetry(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	m.ForceReconnect()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("AwaitRetry() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitRetry still blocked after forced reconnect")
	}
}

func TestAwaitRetryContextCancel(t *testing.T) {
	m := NewMachine(Config{Phase1Interval: time.Hour, Phase1MaxAttempts: 5, Phase2Interval: time.Hour})
	m.Failure(errors.New("refused"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.AwaitRetry(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("AwaitRetry() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitRetry still blocked after cancel")
	}
}

func TestLastErrorTruncated(t *testing.T) {
	m := NewMachine(DefaultConfig())

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	m.Failure(errors.New(string(long)))

	if got := len(m.Snapshot().LastError); got != maxErrorLength {
		t.Errorf("last error length = %d, want %d", got, maxErrorLength)
	}
}

func TestRequestsPerMinuteWindow(t *testing.T) {
	m := NewMachine(DefaultConfig())

	for i := 0; i < 10; i++ {
		m.Success()
	}
	if got := m.Snapshot().RequestsPerMinute; got != 10 {
		t.Errorf("requests per minute = %d, want 10", got)
	}
}

func TestRecordMessage(t *testing.T) {
	m := NewMachine(DefaultConfig())
	m.Success()
	m.RecordMessage()
	m.RecordMessage()

	if got := m.Snapshot().Messages; got != 2 {
		t.Errorf("messages = %d, want 2", got)
	}
}
