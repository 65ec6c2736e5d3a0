// SPDX-License-Identifier: MIT

// Package connection owns the single source of truth for which backend (real
// device, internal mock, external mock, or none) is authoritative. It drives
// discovery, watches the connected device's health, and publishes immutable
// snapshots to subscribers.
package connection

import (
	"time"

	"github.com/chrisgleissner/c64bridge/internal/ultimate"
)

// StateKind is the authoritative connection state.
type StateKind string

const (
	StateUnknown       StateKind = "UNKNOWN"
	StateRealConnected StateKind = "REAL_CONNECTED"
	StateDemoActive    StateKind = "DEMO_ACTIVE"
	StateOfflineNoDemo StateKind = "OFFLINE_NO_DEMO"
)

// AllStates lists every StateKind (metrics enumeration).
var AllStates = []string{
	string(StateUnknown),
	string(StateRealConnected),
	string(StateDemoActive),
	string(StateOfflineNoDemo),
}

// BackendKind tags which backend a target or snapshot refers to.
type BackendKind string

const (
	BackendRealDevice   BackendKind = "real-device"
	BackendInternalMock BackendKind = "internal-mock"
	BackendExternalMock BackendKind = "external-mock"
	BackendNone         BackendKind = ""
)

// DecisionReason explains why a backend was selected.
type DecisionReason string

const (
	ReasonReachable DecisionReason = "reachable"
	ReasonFallback  DecisionReason = "fallback"
	ReasonDemoMode  DecisionReason = "demo-mode"
	ReasonTestMode  DecisionReason = "test-mode"
)

// Snapshot is the current authoritative view. It is immutable per publish
// and replaced wholesale on each transition; subscribers must never mutate
// it.
type Snapshot struct {
	State        StateKind            `json:"state"`
	BaseURL      string               `json:"baseUrl"`
	Backend      BackendKind          `json:"backend"`
	Reason       DecisionReason       `json:"reason,omitempty"`
	DeviceInfo   *ultimate.DeviceInfo `json:"deviceInfo,omitempty"`
	FTPPort      int                  `json:"ftpPort,omitempty"`
	IsConnecting bool                 `json:"isConnecting"`
	ChangedAt    time.Time            `json:"changedAt"`
}
