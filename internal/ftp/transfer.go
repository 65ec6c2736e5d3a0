// SPDX-License-Identifier: MIT

package ftp

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// dataChannel is the per-command secondary connection. It is torn down
// before the control channel returns to idle, regardless of transfer
// success, so sockets cannot leak.
type dataChannel struct {
	conn     net.Conn
	listener net.Listener // active mode only
	timeout  time.Duration
}

func (d *dataChannel) close() {
	if d == nil {
		return
	}
	if d.conn != nil {
		_ = d.conn.Close()
		d.conn = nil
	}
	if d.listener != nil {
		_ = d.listener.Close()
		d.listener = nil
	}
}

// accept resolves the data connection for active mode, where the server
// dials us after the transfer command is accepted.
func (d *dataChannel) accept() (net.Conn, error) {
	if d.conn != nil {
		return d.conn, nil
	}
	if d.listener == nil {
		return nil, fmt.Errorf("ftp: no data channel")
	}
	type deadliner interface{ SetDeadline(time.Time) error }
	if dl, ok := d.listener.(deadliner); ok {
		_ = dl.SetDeadline(time.Now().Add(d.timeout))
	}
	conn, err := d.listener.Accept()
	if err != nil {
		return nil, fmt.Errorf("ftp: accept data connection: %w", err)
	}
	d.conn = conn
	return conn, nil
}

// openDataChannel negotiates the data connection per the configured mode.
// Passive: EPSV with PASV fallback, then we dial. Active: we listen and send
// PORT, the server dials.
func (s *Session) openDataChannel() (*dataChannel, error) {
	if s.cfg.Mode == ModeActive {
		return s.openActive()
	}
	return s.openPassive()
}

func (s *Session) openPassive() (*dataChannel, error) {
	port := 0
	reply, err := s.roundTrip("EPSV")
	if err != nil {
		return nil, err
	}
	if reply.Code == 229 {
		port = parseEpsvPort(reply.Message)
	}
	if port == 0 {
		reply, err = s.roundTrip("PASV")
		if err != nil {
			return nil, err
		}
		if reply.Code != 227 {
			return nil, fmt.Errorf("ftp: passive mode refused: %d %s", reply.Code, reply.Message)
		}
		_, port = parsePasvAddr(reply.Message)
	}
	if port == 0 {
		return nil, fmt.Errorf("ftp: could not parse passive reply: %s", reply.Message)
	}

	// Dial the control peer's address rather than the advertised host; the
	// device may report an unroutable address when reached through NAT.
	host, _, err := net.SplitHostPort(s.controlRemoteAddr())
	if err != nil {
		return nil, fmt.Errorf("ftp: control peer address: %w", err)
	}
	dialer := net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("ftp: dial data connection: %w", err)
	}
	_ = conn.SetDeadline(time.Now().Add(s.cfg.Timeout))
	return &dataChannel{conn: conn, timeout: s.cfg.Timeout}, nil
}

func (s *Session) openActive() (*dataChannel, error) {
	localHost, _, err := net.SplitHostPort(s.controlLocalAddr())
	if err != nil {
		return nil, fmt.Errorf("ftp: control local address: %w", err)
	}
	listener, err := net.Listen("tcp", net.JoinHostPort(localHost, "0"))
	if err != nil {
		return nil, fmt.Errorf("ftp: listen for data connection: %w", err)
	}
	_, portStr, _ := net.SplitHostPort(listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	ip := net.ParseIP(localHost).To4()
	if ip == nil {
		_ = listener.Close()
		return nil, fmt.Errorf("ftp: active mode requires an IPv4 control connection")
	}
	reply, err := s.roundTrip("PORT %d,%d,%d,%d,%d,%d", ip[0], ip[1], ip[2], ip[3], port/256, port%256)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}
	if reply.Code != 200 {
		_ = listener.Close()
		return nil, fmt.Errorf("ftp: PORT refused: %d %s", reply.Code, reply.Message)
	}
	return &dataChannel{listener: listener, timeout: s.cfg.Timeout}, nil
}

func (s *Session) controlRemoteAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.conn.RemoteAddr().String()
}

func (s *Session) controlLocalAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.conn.LocalAddr().String()
}

// parseEpsvPort extracts the port from "Entering Extended Passive Mode
// (|||6446|)".
func parseEpsvPort(msg string) int {
	start := strings.Index(msg, "(")
	end := strings.LastIndex(msg, ")")
	if start < 0 || end <= start {
		return 0
	}
	fields := strings.Split(msg[start+1:end], "|")
	if len(fields) < 4 {
		return 0
	}
	port, err := strconv.Atoi(fields[3])
	if err != nil {
		return 0
	}
	return port
}

// parsePasvAddr extracts host and port from "Entering Passive Mode
// (h1,h2,h3,h4,p1,p2)".
func parsePasvAddr(msg string) (string, int) {
	start := strings.Index(msg, "(")
	end := strings.LastIndex(msg, ")")
	if start < 0 || end <= start {
		return "", 0
	}
	parts := strings.Split(msg[start+1:end], ",")
	if len(parts) != 6 {
		return "", 0
	}
	nums := make([]int, 6)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return "", 0
		}
		nums[i] = n
	}
	host := fmt.Sprintf("%d.%d.%d.%d", nums[0], nums[1], nums[2], nums[3])
	return host, nums[4]*256 + nums[5]
}

// transfer runs one data-transfer command. The data channel is set up before
// the command, and always torn down before the control channel goes idle.
func (s *Session) transfer(ctx context.Context, verb, arg string, upload io.Reader) (TransferResult, error) {
	if err := s.begin(); err != nil {
		return TransferResult{}, err
	}
	defer s.end()

	start := time.Now()
	dc, err := s.openDataChannel()
	if err != nil {
		if s.State() == StateClosed {
			// roundTrip already invalidated the session.
			s.emit(ctx, verb, Reply{}, time.Since(start), err)
			return TransferResult{}, err
		}
		s.fail()
		s.emit(ctx, verb, Reply{}, time.Since(start), err)
		return TransferResult{}, err
	}
	defer dc.close()

	line := verb
	if arg != "" {
		line += " " + arg
	}
	reply, err := s.roundTrip("%s", line)
	if err != nil {
		s.emit(ctx, verb, reply, time.Since(start), err)
		return TransferResult{}, err
	}
	if reply.Code >= 400 {
		// Protocol refusal: structured result, session stays usable.
		res := TransferResult{Result: CommandResult{Reply: reply, Latency: time.Since(start)}}
		s.emit(ctx, verb, reply, res.Result.Latency, nil)
		return res, nil
	}

	conn, err := dc.accept()
	if err != nil {
		s.fail()
		s.emit(ctx, verb, reply, time.Since(start), err)
		return TransferResult{}, err
	}
	_ = conn.SetDeadline(time.Now().Add(s.cfg.Timeout))

	var payload []byte
	if upload != nil {
		_, err = io.Copy(conn, upload)
	} else {
		payload, err = io.ReadAll(conn)
	}
	// The data channel must be fully closed before the server sends its
	// completion reply for uploads.
	dc.close()
	if err != nil {
		s.fail()
		s.emit(ctx, verb, reply, time.Since(start), err)
		return TransferResult{}, fmt.Errorf("ftp: data transfer: %w", err)
	}

	final, err := s.readFinalReply()
	latency := time.Since(start)
	if err != nil {
		s.emit(ctx, verb, final, latency, err)
		return TransferResult{}, err
	}
	res := TransferResult{
		Result: CommandResult{Reply: final, Latency: latency},
		Data:   payload,
	}
	s.emit(ctx, verb, final, latency, nil)
	return res, nil
}

// readFinalReply consumes the transfer completion reply (226/250/4xx/5xx).
func (s *Session) readFinalReply() (Reply, error) {
	s.mu.Lock()
	conn, tp := s.conn, s.text
	s.mu.Unlock()
	if conn == nil || tp == nil {
		return Reply{}, ErrSessionClosed
	}
	_ = conn.SetDeadline(time.Now().Add(s.cfg.Timeout))
	code, msg, err := tp.ReadResponse(0)
	if err != nil {
		s.fail()
		return Reply{}, fmt.Errorf("ftp: completion reply: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})
	return Reply{Code: code, Message: msg}, nil
}

// List retrieves a human-readable directory listing (LIST).
func (s *Session) List(ctx context.Context, path string) (TransferResult, error) {
	return s.transfer(ctx, "LIST", path, nil)
}

// Mlsd retrieves a machine-readable directory listing (MLSD). Use
// ParseMLSD on the returned data.
func (s *Session) Mlsd(ctx context.Context, path string) (TransferResult, error) {
	return s.transfer(ctx, "MLSD", path, nil)
}

// Retr downloads a file (RETR).
func (s *Session) Retr(ctx context.Context, path string) (TransferResult, error) {
	return s.transfer(ctx, "RETR", path, nil)
}

// Stor uploads a file (STOR).
func (s *Session) Stor(ctx context.Context, path string, data io.Reader) (TransferResult, error) {
	return s.transfer(ctx, "STOR", path, data)
}
