// SPDX-License-Identifier: MIT

// Package ftp implements a minimal FTP control-channel state machine against
// the device's FTP server: connect, authenticate, command/response, and an
// optional per-command data connection (active or passive).
//
// Protocol-level errors (4xx/5xx reply codes) are returned as structured
// results the caller inspects. Transport-level failures (socket errors,
// timeouts) are returned as errors and invalidate the whole session: it must
// be closed and recreated, never retried in place.
package ftp

import (
	"errors"
	"time"
)

// Mode selects which side opens the data connection for transfers.
type Mode string

const (
	ModePassive Mode = "passive"
	ModeActive  Mode = "active"
)

// Session states.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateIdle         State = "idle"
	StateBusy         State = "busy"
	StateClosed       State = "closed"
)

var (
	// ErrSessionClosed is returned for commands issued after Close or after
	// a fatal transport failure.
	ErrSessionClosed = errors.New("ftp: session closed")
	// ErrSessionBusy is returned when a command is issued while another is
	// in flight. One command at a time per session; concurrent logical
	// operations need separate sessions.
	ErrSessionBusy = errors.New("ftp: command already in flight")
	// ErrNotConnected is returned for commands issued before Connect.
	ErrNotConnected = errors.New("ftp: not connected")
)

// Config describes one control connection.
type Config struct {
	Host     string
	Port     int
	User     string // empty means anonymous
	Password string
	Mode     Mode
	Timeout  time.Duration // per round trip; also bounds connect/login
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = 21
	}
	if c.User == "" {
		c.User = "anonymous"
		if c.Password == "" {
			c.Password = "anonymous@"
		}
	}
	if c.Mode == "" {
		c.Mode = ModePassive
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Reply is a raw protocol response.
type Reply struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// OK reports a 2xx completion code.
func (r Reply) OK() bool { return r.Code >= 200 && r.Code < 300 }

// CommandResult is the structured result of one command round trip.
type CommandResult struct {
	Reply   Reply         `json:"response"`
	Latency time.Duration `json:"-"`
}

// TransferResult is the result of a data-transfer command.
type TransferResult struct {
	Result CommandResult `json:"result"`
	Data   []byte        `json:"data,omitempty"`
}
