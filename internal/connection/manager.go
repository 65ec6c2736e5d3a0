// SPDX-License-Identifier: MIT

package connection

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/looplab/fsm"
	"golang.org/x/sync/singleflight"

	"github.com/chrisgleissner/c64bridge/internal/health"
	xlog "github.com/chrisgleissner/c64bridge/internal/log"
	"github.com/chrisgleissner/c64bridge/internal/metrics"
	"github.com/chrisgleissner/c64bridge/internal/trace"
)

// Config drives the manager's discovery and health probing.
type Config struct {
	RealBaseURL            string
	Password               string
	ProbeTimeout           time.Duration // bounds each discovery/health probe
	ProbeInterval          time.Duration // health probe cadence while connected
	MaxConsecutiveFailures int
	MaxUnreachable         time.Duration
	DemoEnabled            bool   // permit fallback to a mock backend
	ForceDemo              bool   // skip the real probe, go straight to demo
	ExternalMockURL        string // preferred mock if set (test fixtures)
	CacheWindow            time.Duration
}

func (c Config) withDefaults() Config {
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 3 * time.Second
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 5 * time.Second
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 3
	}
	if c.MaxUnreachable <= 0 {
		c.MaxUnreachable = 30 * time.Second
	}
	if c.CacheWindow <= 0 {
		c.CacheWindow = 10 * time.Second
	}
	return c
}

// Internal machine states (lowercase; the published StateKind is derived).
const (
	fsmUnknown     = "unknown"
	fsmDiscovering = "discovering"
	fsmReal        = "real_connected"
	fsmDemo        = "demo_active"
	fsmOffline     = "offline_no_demo"
)

// stateKindFor maps a machine state to the published StateKind. While the
// machine sits in discovering, the last settled snapshot stays published
// with IsConnecting set, so discovering itself never maps to a new kind.
func stateKindFor(machineState string) StateKind {
	switch machineState {
	case fsmReal:
		return StateRealConnected
	case fsmDemo:
		return StateDemoActive
	case fsmOffline:
		return StateOfflineNoDemo
	default:
		return StateUnknown
	}
}

// Manager is the process-wide owner of the connection state. All writes to
// the snapshot funnel through publish; everyone else reads.
type Manager struct {
	cfg   Config
	mock  MockBackend
	probe Prober
	rec   *trace.Recorder

	machine *fsm.FSM
	sf      singleflight.Group

	mu           sync.Mutex
	snapshot     Snapshot
	lastAttempt  time.Time
	mockInfo     *MockInfo
	monitor      *health.Monitor
	watchRunning bool
	retryRunning bool

	subMu   sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRecorder wires trace event emission.
func WithRecorder(r *trace.Recorder) ManagerOption {
	return func(m *Manager) { m.rec = r }
}

// WithProber replaces the default REST prober (tests).
func WithProber(p Prober) ManagerOption {
	return func(m *Manager) { m.probe = p }
}

// NewManager creates a manager in the UNKNOWN state. mock may be nil when no
// internal mock backend is available.
func NewManager(cfg Config, mock MockBackend, opts ...ManagerOption) *Manager {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		mock:      mock,
		runCtx:    ctx,
		runCancel: cancel,
		snapshot:  Snapshot{State: StateUnknown, ChangedAt: time.Now()},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.probe == nil {
		m.probe = DefaultProber(cfg.Password, m.rec)
	}
	m.monitor = health.NewMonitor(nil, cfg.MaxConsecutiveFailures, cfg.MaxUnreachable)

	logger := xlog.WithComponent("connection")
	m.machine = fsm.NewFSM(
		fsmUnknown,
		fsm.Events{
			{Name: "discover", Src: []string{fsmUnknown, fsmReal, fsmDemo, fsmOffline}, Dst: fsmDiscovering},
			{Name: "found_real", Src: []string{fsmDiscovering}, Dst: fsmReal},
			{Name: "found_demo", Src: []string{fsmDiscovering}, Dst: fsmDemo},
			{Name: "found_none", Src: []string{fsmDiscovering}, Dst: fsmOffline},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Debug().
					Str("event", "connection.transition").
					Str("from", e.Src).
					Str("to", e.Dst).
					Msg("state machine transition")
			},
		},
	)
	return m
}

// Start kicks off the initial discovery in the background.
func (m *Manager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runDiscovery()
	}()
}

// Stop cancels background loops and stops a running internal mock.
func (m *Manager) Stop(ctx context.Context) {
	m.runCancel()
	m.wg.Wait()
	m.stopMock(ctx)
}

// GetSnapshot returns the current immutable snapshot.
func (m *Manager) GetSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

// Subscribe registers a snapshot listener. Every publish is delivered until
// unsubscribe; slow consumers miss intermediate snapshots rather than
// blocking the manager.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	m.subMu.Lock()
	if m.subs == nil {
		m.subs = make(map[int]chan Snapshot)
	}
	ch := make(chan Snapshot, 8)
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.subMu.Unlock()

	return ch, func() {
		m.subMu.Lock()
		if existing, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(existing)
		}
		m.subMu.Unlock()
	}
}

func (m *Manager) broadcast(snap Snapshot) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Discover triggers discovery, returning the cached snapshot when the last
// attempt is fresh. Concurrent triggers coalesce onto one in-flight attempt.
func (m *Manager) Discover() Snapshot {
	m.mu.Lock()
	fresh := time.Since(m.lastAttempt) < m.cfg.CacheWindow && m.snapshot.State != StateUnknown
	snap := m.snapshot
	m.mu.Unlock()
	if fresh {
		return snap
	}
	return m.runDiscovery()
}

// DiscoverNow is the manual override: it bypasses the cache window and
// forces a probe immediately, still funneled through the same coalescing
// routine.
func (m *Manager) DiscoverNow() Snapshot {
	return m.runDiscovery()
}

func (m *Manager) runDiscovery() Snapshot {
	v, _, shared := m.sf.Do("discover", func() (any, error) {
		return m.discover(), nil
	})
	if shared {
		metrics.RecordDiscoveryCoalesced()
	}
	return v.(Snapshot)
}

// discover runs one full discovery pass. It executes under singleflight, so
// at most one instance runs at a time; all concurrent triggers observe its
// result.
func (m *Manager) discover() Snapshot {
	ctx := m.runCtx
	if m.rec != nil {
		ctx, _ = m.rec.EnsureCorrelation(ctx)
	}
	logger := xlog.WithComponentFromContext(ctx, "connection")

	m.mu.Lock()
	m.lastAttempt = time.Now()
	m.mu.Unlock()

	if err := m.machine.Event(ctx, "discover"); err != nil {
		// The machine is mid-transition; hand back what is published.
		logger.Warn().
			Str("event", "connection.discover_rejected").
			Err(err).
			Msg("state machine rejected discovery entry")
		return m.GetSnapshot()
	}
	m.publishConnecting(ctx)

	// Step 1: bounded probe of the real device.
	if !m.cfg.ForceDemo && m.cfg.RealBaseURL != "" {
		probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		info, err := m.probe(probeCtx, m.cfg.RealBaseURL)
		cancel()
		if err == nil {
			m.stopMock(ctx)
			m.monitor.Reset()
			metrics.RecordDiscovery("real")
			snap := m.publish(ctx, Snapshot{
				State:      m.transition(ctx, "found_real"),
				BaseURL:    m.cfg.RealBaseURL,
				Backend:    BackendRealDevice,
				Reason:     ReasonReachable,
				DeviceInfo: info,
			})
			m.startWatch()
			return snap
		}
		logger.Debug().
			Str("event", "connection.probe_failed").
			Str("base_url", m.cfg.RealBaseURL).
			Err(err).
			Msg("real device probe failed")
	}

	// Steps 2-3: fall back to a mock backend when permitted.
	if m.cfg.DemoEnabled || m.cfg.ForceDemo {
		if snap, ok := m.tryMock(ctx); ok {
			return snap
		}
	}

	// Step 4: nothing reachable.
	metrics.RecordDiscovery("offline")
	snap := m.publish(ctx, Snapshot{
		State:   m.transition(ctx, "found_none"),
		Backend: BackendNone,
	})
	m.startOfflineRetry()
	return snap
}

// tryMock selects the external mock when configured, otherwise starts (or
// reuses) the internal one. deviceInfo is sourced from the mock itself.
func (m *Manager) tryMock(ctx context.Context) (Snapshot, bool) {
	logger := xlog.WithComponentFromContext(ctx, "connection")

	reason := ReasonFallback
	if m.cfg.ForceDemo {
		reason = ReasonDemoMode
	}

	if m.cfg.ExternalMockURL != "" {
		probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		info, err := m.probe(probeCtx, m.cfg.ExternalMockURL)
		cancel()
		if err == nil {
			metrics.RecordDiscovery("demo")
			return m.publish(ctx, Snapshot{
				State:      m.transition(ctx, "found_demo"),
				BaseURL:    m.cfg.ExternalMockURL,
				Backend:    BackendExternalMock,
				Reason:     ReasonTestMode,
				DeviceInfo: info,
			}), true
		}
		logger.Warn().
			Str("event", "connection.external_mock_unreachable").
			Str("base_url", m.cfg.ExternalMockURL).
			Err(err).
			Msg("configured external mock is unreachable")
	}

	if m.mock == nil {
		return Snapshot{}, false
	}

	m.mu.Lock()
	running := m.mockInfo
	m.mu.Unlock()
	if running == nil {
		info, err := m.mock.StartServer(ctx)
		if err != nil {
			logger.Error().
				Str("event", "connection.mock_start_failed").
				Err(err).
				Msg("internal mock backend failed to start")
			return Snapshot{}, false
		}
		m.mu.Lock()
		m.mockInfo = &info
		running = m.mockInfo
		m.mu.Unlock()
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	info, err := m.probe(probeCtx, running.BaseURL)
	cancel()
	if err != nil {
		logger.Error().
			Str("event", "connection.mock_probe_failed").
			Err(err).
			Msg("internal mock backend did not answer its own probe")
		return Snapshot{}, false
	}

	metrics.RecordDiscovery("demo")
	return m.publish(ctx, Snapshot{
		State:      m.transition(ctx, "found_demo"),
		BaseURL:    running.BaseURL,
		Backend:    BackendInternalMock,
		Reason:     reason,
		DeviceInfo: info,
		FTPPort:    running.FTPPort,
	}), true
}

// transition fires a machine event and returns the resulting published
// kind. The machine owns the state bookkeeping; a rejected event leaves it
// unchanged and the derived kind reflects that.
func (m *Manager) transition(ctx context.Context, event string) StateKind {
	if err := m.machine.Event(ctx, event); err != nil {
		logger := xlog.WithComponentFromContext(ctx, "connection")
		logger.Warn().
			Str("event", "connection.transition_rejected").
			Str("machine_event", event).
			Err(err).
			Msg("state machine rejected transition")
	}
	return stateKindFor(m.machine.Current())
}

func (m *Manager) stopMock(ctx context.Context) {
	m.mu.Lock()
	info := m.mockInfo
	m.mockInfo = nil
	m.mu.Unlock()
	if info == nil || m.mock == nil {
		return
	}
	if err := m.mock.StopServer(ctx); err != nil {
		logger := xlog.WithComponent("connection")
		logger.Warn().
			Str("event", "connection.mock_stop_failed").
			Err(err).
			Msg("internal mock backend failed to stop")
	}
}

// publishConnecting re-publishes the current state with IsConnecting set.
func (m *Manager) publishConnecting(ctx context.Context) {
	m.mu.Lock()
	snap := m.snapshot
	m.mu.Unlock()
	snap.IsConnecting = true
	m.publish(ctx, snap)
}

// publish replaces the snapshot wholesale and notifies subscribers. This is
// the only writer of the shared snapshot.
func (m *Manager) publish(ctx context.Context, snap Snapshot) Snapshot {
	snap.ChangedAt = time.Now()

	m.mu.Lock()
	prev := m.snapshot.State
	m.snapshot = snap
	m.mu.Unlock()

	metrics.SetConnectionState(string(snap.State), AllStates)

	if m.rec != nil {
		m.rec.Append(ctx, trace.TypeConnection, "connection", map[string]any{
			"state":        string(snap.State),
			"previous":     string(prev),
			"backend":      string(snap.Backend),
			"baseUrl":      snap.BaseURL,
			"reason":       string(snap.Reason),
			"isConnecting": snap.IsConnecting,
		})
	}
	if prev != snap.State {
		logger := xlog.WithComponentFromContext(ctx, "connection")
		logger.Info().
			Str("event", "connection.state_changed").
			Str("from", string(prev)).
			Str("to", string(snap.State)).
			Str("backend", string(snap.Backend)).
			Msg("connection state changed")
	}

	m.broadcast(snap)
	return snap
}

// startWatch launches the background health loop for the connected device.
// At most one loop runs at a time; it exits as soon as the published state
// leaves REAL_CONNECTED.
func (m *Manager) startWatch() {
	m.mu.Lock()
	if m.watchRunning {
		m.mu.Unlock()
		return
	}
	m.watchRunning = true
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			m.watchRunning = false
			m.mu.Unlock()
		}()
		m.watch()
	}()
}

func (m *Manager) watch() {
	logger := xlog.WithComponent("connection")
	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.runCtx.Done():
			return
		case <-ticker.C:
		}
		if m.GetSnapshot().State != StateRealConnected {
			return
		}

		probeCtx, cancel := context.WithTimeout(m.runCtx, m.cfg.ProbeTimeout)
		start := time.Now()
		_, err := m.probe(probeCtx, m.cfg.RealBaseURL)
		cancel()

		if err == nil {
			m.monitor.Record(health.ProbeResult{OK: true, Latency: time.Since(start)})
			metrics.RecordHealthProbe("success")
			continue
		}
		m.monitor.Record(health.ProbeResult{OK: false, Err: err})
		metrics.RecordHealthProbe("failure")

		if decision := m.monitor.ShouldAbort(); decision.Abort {
			logger.Warn().
				Str("event", "connection.health_lost").
				Str("reason", decision.Reason).
				Int("consecutive_failures", m.monitor.ConsecutiveFailures()).
				Msg("device no longer reachable, re-entering discovery")
			m.runDiscovery()
			return
		}
	}
}

// startOfflineRetry keeps retrying discovery on an exponential backoff while
// offline, so a device that appears later is found without manual action.
func (m *Manager) startOfflineRetry() {
	m.mu.Lock()
	if m.retryRunning {
		m.mu.Unlock()
		return
	}
	m.retryRunning = true
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			m.retryRunning = false
			m.mu.Unlock()
		}()

		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = m.cfg.ProbeInterval
		bo.MaxInterval = 2 * time.Minute
		bo.MaxElapsedTime = 0

		for {
			wait := bo.NextBackOff()
			select {
			case <-m.runCtx.Done():
				return
			case <-time.After(wait):
			}
			if m.GetSnapshot().State != StateOfflineNoDemo {
				return
			}
			if snap := m.runDiscovery(); snap.State != StateOfflineNoDemo {
				return
			}
		}
	}()
}
