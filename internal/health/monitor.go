// SPDX-License-Identifier: MIT

// Package health tracks the reachability of a single probed target. A Monitor
// is pure bookkeeping: it never schedules retries itself, callers decide the
// probe cadence and act on ShouldAbort.
package health

import (
	"context"
	"sync"
	"time"
)

// ProbeResult is the outcome of one round trip against the target.
type ProbeResult struct {
	OK      bool
	Status  int
	Latency time.Duration
	Err     error
}

// ProbeFunc performs one round trip against the target.
type ProbeFunc func(ctx context.Context) ProbeResult

// AbortDecision is returned by ShouldAbort.
type AbortDecision struct {
	Abort  bool
	Reason string
}

// clock abstracts time for deterministic tests.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Monitor counts consecutive probe failures and tracks staleness for one
// target. One Monitor per probed target; it has no shared state beyond its
// own counters.
type Monitor struct {
	mu                     sync.Mutex
	probe                  ProbeFunc
	maxConsecutiveFailures int
	maxUnreachable         time.Duration
	clock                  clock

	consecutiveFailures int
	lastSuccessAt       time.Time
	lastResult          ProbeResult
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock injects a clock for tests.
func WithClock(c clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// NewMonitor creates a Monitor for one target. maxConsecutiveFailures and
// maxUnreachable both bound ShouldAbort; non-positive values fall back to
// defaults (3 failures, 30s).
func NewMonitor(probe ProbeFunc, maxConsecutiveFailures int, maxUnreachable time.Duration, opts ...Option) *Monitor {
	if maxConsecutiveFailures <= 0 {
		maxConsecutiveFailures = 3
	}
	if maxUnreachable <= 0 {
		maxUnreachable = 30 * time.Second
	}
	m := &Monitor{
		probe:                  probe,
		maxConsecutiveFailures: maxConsecutiveFailures,
		maxUnreachable:         maxUnreachable,
		clock:                  realClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lastSuccessAt = m.clock.Now()
	return m
}

// Check runs one probe round trip and updates the counters. A success resets
// consecutiveFailures to zero regardless of history.
func (m *Monitor) Check(ctx context.Context) ProbeResult {
	res := m.probe(ctx)
	m.Record(res)
	return res
}

// Record applies an externally obtained probe result to the counters. Used
// when the caller already performed the round trip (e.g. discovery reusing
// its own probe).
func (m *Monitor) Record(res ProbeResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastResult = res
	if res.OK {
		m.consecutiveFailures = 0
		m.lastSuccessAt = m.clock.Now()
		return
	}
	m.consecutiveFailures++
}

// ShouldAbort reports whether the target must be considered gone: either too
// many consecutive failures, or no success within the staleness window.
func (m *Monitor) ShouldAbort() AbortDecision {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.consecutiveFailures >= m.maxConsecutiveFailures {
		return AbortDecision{Abort: true, Reason: "consecutive probe failures exceeded"}
	}
	if m.clock.Now().Sub(m.lastSuccessAt) >= m.maxUnreachable {
		return AbortDecision{Abort: true, Reason: "target unreachable beyond staleness window"}
	}
	return AbortDecision{}
}

// ConsecutiveFailures returns the current failure streak.
func (m *Monitor) ConsecutiveFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveFailures
}

// LastSuccessAt returns the time of the last successful probe.
func (m *Monitor) LastSuccessAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSuccessAt
}

// Reset clears the failure streak and restarts the staleness window. Called
// when a fresh discovery succeeds so stale history cannot trip the new
// connection.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecutiveFailures = 0
	m.lastSuccessAt = m.clock.Now()
}
