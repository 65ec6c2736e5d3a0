// SPDX-License-Identifier: MIT

// Package trace correlates user actions, device REST calls and FTP commands
// into an append-only, redacted event stream used for diagnostics.
package trace

import "time"

// Event types emitted by the pipeline and the protocol clients.
const (
	TypeActionStart  = "action-start"
	TypeActionEnd    = "action-end"
	TypeScopeStart   = "scope-start"
	TypeScopeEnd     = "scope-end"
	TypeRESTRequest  = "rest-request"
	TypeRESTResponse = "rest-response"
	TypeFTPOperation = "ftp-operation"
	TypeConnection   = "connection-state"
	TypeError        = "error"
)

// EventContext is the ambient application context captured on every event,
// alongside the type-specific payload.
type EventContext struct {
	LifecycleState string `json:"lifecycleState"`
	SourceKind     string `json:"sourceKind"`
	TrackInstance  string `json:"trackInstanceId"`
	PlaylistItem   string `json:"playlistItemId"`
}

// ContextProvider supplies the current EventContext at append time. The app
// wires in its playback/device state; a nil provider yields zero values.
type ContextProvider func() EventContext

// Event is one immutable record of an observable occurrence. Identity is ID;
// events are never mutated after creation, redaction produces derived copies.
type Event struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	RelativeMs    int64          `json:"relativeMs"`
	Type          string         `json:"type"`
	Origin        string         `json:"origin"`
	CorrelationID string         `json:"correlationId"`
	Data          map[string]any `json:"data"`
}
