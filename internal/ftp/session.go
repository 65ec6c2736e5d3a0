// SPDX-License-Identifier: MIT

package ftp

import (
	"context"
	"fmt"
	"net"
	"net/textproto"
	"sync"
	"time"

	xlog "github.com/chrisgleissner/c64bridge/internal/log"
	"github.com/chrisgleissner/c64bridge/internal/metrics"
	"github.com/chrisgleissner/c64bridge/internal/trace"
	"github.com/google/uuid"
)

// Session is one active control connection. Exactly one control socket per
// session, owned by the caller that created it; commands are strictly
// serialized (idle -> busy -> idle).
type Session struct {
	id  string
	cfg Config
	rec *trace.Recorder

	mu    sync.Mutex
	state State
	conn  net.Conn
	text  *textproto.Conn
	data  net.Conn // open data connection, if any
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithRecorder wires trace event emission for every command.
func WithRecorder(r *trace.Recorder) SessionOption {
	return func(s *Session) { s.rec = r }
}

// NewSession creates a session in the disconnected state.
func NewSession(cfg Config, opts ...SessionOption) *Session {
	s := &Session{
		id:    uuid.NewString(),
		cfg:   cfg.withDefaults(),
		state: StateDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens the control socket, reads the greeting and performs the
// USER/PASS login (anonymous-compatible). The whole sequence is bounded by
// cfg.Timeout; on any failure the session is closed.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		st := s.state
		s.mu.Unlock()
		if st == StateClosed {
			return ErrSessionClosed
		}
		return fmt.Errorf("ftp: connect from state %q", st)
	}
	s.state = StateConnecting
	s.mu.Unlock()

	// Carry the session ID so log lines and nested calls can be tied back
	// to this control connection.
	ctx = xlog.ContextWithSessionID(ctx, s.id)
	logger := xlog.WithComponentFromContext(ctx, "ftp")
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	dialer := net.Dialer{Timeout: s.cfg.Timeout}
	start := time.Now()

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		s.fail()
		return fmt.Errorf("ftp: dial %s: %w", addr, err)
	}

	tp := textproto.NewConn(conn)
	deadline := time.Now().Add(s.cfg.Timeout)
	_ = conn.SetDeadline(deadline)

	if code, msg, err := tp.ReadResponse(0); err != nil || code != 220 {
		_ = conn.Close()
		s.fail()
		if err != nil {
			return fmt.Errorf("ftp: greeting: %w", err)
		}
		return fmt.Errorf("ftp: unexpected greeting %d %s", code, msg)
	}

	if err := tp.PrintfLine("USER %s", s.cfg.User); err != nil {
		_ = conn.Close()
		s.fail()
		return fmt.Errorf("ftp: USER: %w", err)
	}
	code, msg, err := tp.ReadResponse(0)
	if err != nil {
		_ = conn.Close()
		s.fail()
		return fmt.Errorf("ftp: USER: %w", err)
	}
	if code == 331 {
		if err := tp.PrintfLine("PASS %s", s.cfg.Password); err != nil {
			_ = conn.Close()
			s.fail()
			return fmt.Errorf("ftp: PASS: %w", err)
		}
		code, msg, err = tp.ReadResponse(0)
		if err != nil {
			_ = conn.Close()
			s.fail()
			return fmt.Errorf("ftp: PASS: %w", err)
		}
	}
	if code != 230 {
		_ = conn.Close()
		s.fail()
		return fmt.Errorf("ftp: login rejected: %d %s", code, msg)
	}

	// Binary mode for all transfers.
	if err := tp.PrintfLine("TYPE I"); err != nil {
		_ = conn.Close()
		s.fail()
		return fmt.Errorf("ftp: TYPE: %w", err)
	}
	if _, _, err := tp.ReadResponse(0); err != nil {
		_ = conn.Close()
		s.fail()
		return fmt.Errorf("ftp: TYPE: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	s.mu.Lock()
	s.conn = conn
	s.text = tp
	s.state = StateIdle
	s.mu.Unlock()

	metrics.FTPSessionOpened()
	s.emit(ctx, "CONNECT", Reply{Code: 230, Message: msg}, time.Since(start), nil)
	logger.Debug().
		Str("event", "ftp.connected").
		Str("host", s.cfg.Host).
		Int("port", s.cfg.Port).
		Str("mode", string(s.cfg.Mode)).
		Msg("ftp session established")
	return nil
}

// Close tears down the control connection and any open data connection. It
// is idempotent and valid from any state.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	wasOpen := s.state == StateIdle || s.state == StateBusy
	conn, tp, data := s.conn, s.text, s.data
	s.conn, s.text, s.data = nil, nil, nil
	s.state = StateClosed
	s.mu.Unlock()

	if data != nil {
		_ = data.Close()
	}
	if tp != nil && conn != nil {
		// Best-effort QUIT; the server closing first is not an error.
		_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
		_ = tp.PrintfLine("QUIT")
		_, _, _ = tp.ReadResponse(0)
	}
	if conn != nil {
		_ = conn.Close()
	}
	if wasOpen {
		metrics.FTPSessionClosed()
	}
	return nil
}

// begin transitions idle -> busy, rejecting commands in any other state.
func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateIdle:
		s.state = StateBusy
		return nil
	case StateBusy:
		return ErrSessionBusy
	case StateClosed:
		return ErrSessionClosed
	default:
		return ErrNotConnected
	}
}

// end transitions busy -> idle unless the session died mid-command.
func (s *Session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateBusy {
		s.state = StateIdle
	}
}

// fail marks the session unusable after a transport-level error. Callers
// must close and recreate; commands return ErrSessionClosed from here on.
func (s *Session) fail() {
	s.mu.Lock()
	wasOpen := s.state == StateIdle || s.state == StateBusy
	conn, data := s.conn, s.data
	s.conn, s.text, s.data = nil, nil, nil
	s.state = StateClosed
	s.mu.Unlock()

	if data != nil {
		_ = data.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if wasOpen {
		metrics.FTPSessionClosed()
	}
}

// emit records one ftp-operation trace event.
func (s *Session) emit(ctx context.Context, verb string, reply Reply, latency time.Duration, err error) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "transport_error"
	case reply.Code >= 400:
		outcome = "protocol_error"
	}
	metrics.RecordFTPCommand(verb, outcome)

	if s.rec == nil {
		return
	}
	ctx, _ = s.rec.EnsureCorrelation(ctx)
	data := map[string]any{
		"verb":      verb,
		"sessionId": s.id,
		"code":      reply.Code,
		"latencyMs": latency.Milliseconds(),
		"outcome":   outcome,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	s.rec.Append(ctx, trace.TypeFTPOperation, "ftp", data)
}

// roundTrip sends one control command and reads its response under the
// session deadline. Transport failures invalidate the session.
func (s *Session) roundTrip(format string, args ...any) (Reply, error) {
	s.mu.Lock()
	conn, tp := s.conn, s.text
	s.mu.Unlock()
	if conn == nil || tp == nil {
		return Reply{}, ErrSessionClosed
	}

	_ = conn.SetDeadline(time.Now().Add(s.cfg.Timeout))
	if err := tp.PrintfLine(format, args...); err != nil {
		s.fail()
		return Reply{}, fmt.Errorf("ftp: send: %w", err)
	}
	code, msg, err := tp.ReadResponse(0)
	if err != nil {
		s.fail()
		return Reply{}, fmt.Errorf("ftp: read response: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})
	return Reply{Code: code, Message: msg}, nil
}
