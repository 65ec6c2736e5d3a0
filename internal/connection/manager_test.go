// SPDX-License-Identifier: MIT

package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisgleissner/c64bridge/internal/ultimate"
)

const (
	realURL = "http://192.168.1.64"
	mockURL = "http://127.0.0.1:39999"
)

// fakeBackend records StartServer/StopServer calls.
type fakeBackend struct {
	mu       sync.Mutex
	started  int
	stopped  int
	startErr error
}

func (f *fakeBackend) StartServer(context.Context) (MockInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return MockInfo{}, f.startErr
	}
	f.started++
	return MockInfo{BaseURL: mockURL}, nil
}

func (f *fakeBackend) StopServer(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeBackend) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, f.stopped
}

// probeScript answers probes per base URL and counts real-device probes.
type probeScript struct {
	realCalls int64
	realFail  atomic.Bool
	realDelay time.Duration
}

func (p *probeScript) prober() Prober {
	return func(_ context.Context, baseURL string) (*ultimate.DeviceInfo, error) {
		switch baseURL {
		case realURL:
			atomic.AddInt64(&p.realCalls, 1)
			if p.realDelay > 0 {
				time.Sleep(p.realDelay)
			}
			if p.realFail.Load() {
				return nil, errors.New("connection refused")
			}
			return &ultimate.DeviceInfo{Product: "Ultimate 64", FirmwareVersion: "3.12"}, nil
		case mockURL:
			return &ultimate.DeviceInfo{Product: "Ultimate 64 (demo)"}, nil
		default:
			return nil, errors.New("unreachable")
		}
	}
}

func testConfig() Config {
	return Config{
		RealBaseURL:            realURL,
		ProbeTimeout:           time.Second,
		ProbeInterval:          time.Hour, // no background probing unless a test wants it
		MaxConsecutiveFailures: 3,
		MaxUnreachable:         time.Hour,
		DemoEnabled:            true,
		CacheWindow:            time.Minute,
	}
}

func TestManager_DiscoverFindsRealDevice(t *testing.T) {
	script := &probeScript{}
	m := NewManager(testConfig(), &fakeBackend{}, WithProber(script.prober()))
	defer m.Stop(context.Background())

	snap := m.DiscoverNow()
	assert.Equal(t, StateRealConnected, snap.State)
	assert.Equal(t, BackendRealDevice, snap.Backend)
	assert.Equal(t, ReasonReachable, snap.Reason)
	assert.Equal(t, realURL, snap.BaseURL)
	require.NotNil(t, snap.DeviceInfo)
	assert.Equal(t, "3.12", snap.DeviceInfo.FirmwareVersion)
	assert.False(t, snap.IsConnecting)
}

func TestManager_FallsBackToInternalMock(t *testing.T) {
	script := &probeScript{}
	script.realFail.Store(true)
	backend := &fakeBackend{}
	m := NewManager(testConfig(), backend, WithProber(script.prober()))
	defer m.Stop(context.Background())

	snap := m.DiscoverNow()
	assert.Equal(t, StateDemoActive, snap.State)
	assert.Equal(t, BackendInternalMock, snap.Backend)
	assert.Equal(t, ReasonFallback, snap.Reason)
	assert.Equal(t, mockURL, snap.BaseURL)

	started, _ := backend.counts()
	assert.Equal(t, 1, started)
}

func TestManager_ForceDemoSkipsRealProbe(t *testing.T) {
	script := &probeScript{}
	cfg := testConfig()
	cfg.ForceDemo = true
	m := NewManager(cfg, &fakeBackend{}, WithProber(script.prober()))
	defer m.Stop(context.Background())

	snap := m.DiscoverNow()
	assert.Equal(t, StateDemoActive, snap.State)
	assert.Equal(t, ReasonDemoMode, snap.Reason)
	assert.Equal(t, int64(0), atomic.LoadInt64(&script.realCalls))
}

func TestManager_ExternalMockPreferred(t *testing.T) {
	script := &probeScript{}
	script.realFail.Store(true)
	cfg := testConfig()
	cfg.ExternalMockURL = mockURL
	backend := &fakeBackend{}
	m := NewManager(cfg, backend, WithProber(script.prober()))
	defer m.Stop(context.Background())

	snap := m.DiscoverNow()
	assert.Equal(t, StateDemoActive, snap.State)
	assert.Equal(t, BackendExternalMock, snap.Backend)
	assert.Equal(t, ReasonTestMode, snap.Reason)

	started, _ := backend.counts()
	assert.Equal(t, 0, started, "internal mock must not start when the external one answers")
}

func TestManager_OfflineWhenNothingReachable(t *testing.T) {
	script := &probeScript{}
	script.realFail.Store(true)
	cfg := testConfig()
	cfg.DemoEnabled = false
	m := NewManager(cfg, nil, WithProber(script.prober()))
	defer m.Stop(context.Background())

	snap := m.DiscoverNow()
	assert.Equal(t, StateOfflineNoDemo, snap.State)
	assert.Equal(t, BackendNone, snap.Backend)
	assert.Empty(t, snap.BaseURL)
}

func TestManager_ConcurrentDiscoveryCoalesces(t *testing.T) {
	script := &probeScript{realDelay: 100 * time.Millisecond}
	m := NewManager(testConfig(), &fakeBackend{}, WithProber(script.prober()))
	defer m.Stop(context.Background())

	var wg sync.WaitGroup
	snaps := make([]Snapshot, 10)
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			snaps[i] = m.DiscoverNow()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&script.realCalls), "exactly one probe for concurrent triggers")
	for _, snap := range snaps {
		assert.Equal(t, StateRealConnected, snap.State)
	}
}

func TestManager_CacheWindowSkipsFreshProbe(t *testing.T) {
	script := &probeScript{}
	m := NewManager(testConfig(), &fakeBackend{}, WithProber(script.prober()))
	defer m.Stop(context.Background())

	first := m.Discover()
	assert.Equal(t, StateRealConnected, first.State)
	require.Equal(t, int64(1), atomic.LoadInt64(&script.realCalls))

	second := m.Discover()
	assert.Equal(t, StateRealConnected, second.State)
	assert.Equal(t, int64(1), atomic.LoadInt64(&script.realCalls), "fresh snapshot must be served from cache")

	third := m.DiscoverNow()
	assert.Equal(t, StateRealConnected, third.State)
	assert.Equal(t, int64(2), atomic.LoadInt64(&script.realCalls), "manual trigger bypasses the cache window")
}

func TestManager_RealRecoveryStopsMock(t *testing.T) {
	script := &probeScript{}
	script.realFail.Store(true)
	backend := &fakeBackend{}
	m := NewManager(testConfig(), backend, WithProber(script.prober()))
	defer m.Stop(context.Background())

	snap := m.DiscoverNow()
	require.Equal(t, StateDemoActive, snap.State)

	script.realFail.Store(false)
	snap = m.DiscoverNow()
	assert.Equal(t, StateRealConnected, snap.State)

	_, stopped := backend.counts()
	assert.Equal(t, 1, stopped, "the internal mock must stop once the real device is back")
}

func TestManager_SubscribersSeeTransitions(t *testing.T) {
	script := &probeScript{}
	m := NewManager(testConfig(), &fakeBackend{}, WithProber(script.prober()))
	defer m.Stop(context.Background())

	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	m.DiscoverNow()

	deadline := time.After(2 * time.Second)
	var last Snapshot
	for last.State != StateRealConnected {
		select {
		case snap := <-ch:
			last = snap
		case <-deadline:
			t.Fatal("subscriber never saw REAL_CONNECTED")
		}
	}
	assert.Equal(t, BackendRealDevice, last.Backend)
}

func TestManager_HealthLossTriggersRediscovery(t *testing.T) {
	script := &probeScript{}
	cfg := testConfig()
	cfg.ProbeInterval = 20 * time.Millisecond
	cfg.MaxConsecutiveFailures = 2
	cfg.DemoEnabled = false
	m := NewManager(cfg, nil, WithProber(script.prober()))
	defer m.Stop(context.Background())

	snap := m.DiscoverNow()
	require.Equal(t, StateRealConnected, snap.State)

	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()
	script.realFail.Store(true)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-ch:
			if got.State == StateOfflineNoDemo {
				return
			}
		case <-deadline:
			t.Fatal("manager never re-entered discovery after health loss")
		}
	}
}

func TestManager_GetSnapshotStartsUnknown(t *testing.T) {
	m := NewManager(testConfig(), nil, WithProber((&probeScript{}).prober()))
	defer m.Stop(context.Background())

	snap := m.GetSnapshot()
	assert.Equal(t, StateUnknown, snap.State)
	assert.False(t, snap.ChangedAt.IsZero())
}

func TestManager_RediscoveryCyclesThroughStates(t *testing.T) {
	script := &probeScript{}
	cfg := testConfig()
	cfg.DemoEnabled = false
	m := NewManager(cfg, nil, WithProber(script.prober()))
	defer m.Stop(context.Background())

	snap := m.DiscoverNow()
	require.Equal(t, StateRealConnected, snap.State)

	script.realFail.Store(true)
	snap = m.DiscoverNow()
	require.Equal(t, StateOfflineNoDemo, snap.State)

	script.realFail.Store(false)
	snap = m.DiscoverNow()
	assert.Equal(t, StateRealConnected, snap.State)
	assert.Equal(t, BackendRealDevice, snap.Backend)

	// The published kind and the machine's bookkeeping stay in lockstep
	// through every transition; a cached read agrees with the last publish.
	assert.Equal(t, snap.State, m.GetSnapshot().State)
}
