// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestMonitor_AbortsAfterConsecutiveFailures(t *testing.T) {
	m := NewMonitor(nil, 3, time.Hour)

	for i := 0; i < 2; i++ {
		m.Record(ProbeResult{OK: false, Err: errors.New("refused")})
		assert.False(t, m.ShouldAbort().Abort, "failure %d must not abort yet", i+1)
	}
	m.Record(ProbeResult{OK: false, Err: errors.New("refused")})

	decision := m.ShouldAbort()
	require.True(t, decision.Abort)
	assert.Contains(t, decision.Reason, "consecutive")
	assert.Equal(t, 3, m.ConsecutiveFailures())
}

func TestMonitor_SuccessResetsStreak(t *testing.T) {
	m := NewMonitor(nil, 3, time.Hour)

	m.Record(ProbeResult{OK: false})
	m.Record(ProbeResult{OK: false})
	m.Record(ProbeResult{OK: true, Status: 200, Latency: 5 * time.Millisecond})

	assert.Equal(t, 0, m.ConsecutiveFailures())
	assert.False(t, m.ShouldAbort().Abort)
}

func TestMonitor_AbortsAfterStalenessWindow(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMonitor(nil, 100, 30*time.Second, WithClock(clk))

	m.Record(ProbeResult{OK: true})
	clk.Advance(29 * time.Second)
	assert.False(t, m.ShouldAbort().Abort)

	clk.Advance(time.Second)
	decision := m.ShouldAbort()
	require.True(t, decision.Abort)
	assert.Contains(t, decision.Reason, "unreachable")
}

func TestMonitor_ResetRestartsBothWindows(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMonitor(nil, 2, 30*time.Second, WithClock(clk))

	m.Record(ProbeResult{OK: false})
	m.Record(ProbeResult{OK: false})
	clk.Advance(time.Minute)
	require.True(t, m.ShouldAbort().Abort)

	m.Reset()
	assert.False(t, m.ShouldAbort().Abort)
	assert.Equal(t, 0, m.ConsecutiveFailures())
	assert.Equal(t, clk.Now(), m.LastSuccessAt())
}

func TestMonitor_CheckRunsProbe(t *testing.T) {
	calls := 0
	m := NewMonitor(func(context.Context) ProbeResult {
		calls++
		return ProbeResult{OK: false, Err: errors.New("down")}
	}, 3, time.Hour)

	res := m.Check(context.Background())
	assert.False(t, res.OK)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, m.ConsecutiveFailures())
}

func TestMonitor_DefaultsApplied(t *testing.T) {
	m := NewMonitor(nil, 0, 0)
	m.Record(ProbeResult{OK: false})
	m.Record(ProbeResult{OK: false})
	assert.False(t, m.ShouldAbort().Abort)
	m.Record(ProbeResult{OK: false})
	assert.True(t, m.ShouldAbort().Abort)
}
