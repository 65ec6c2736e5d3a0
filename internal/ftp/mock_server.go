// SPDX-License-Identifier: MIT
package ftp

import (
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockServer is a minimal in-process FTP server for testing: in-memory
// filesystem, anonymous login, passive (EPSV/PASV) and active (PORT) data
// connections, and enough of the command set exercised by Session.
type MockServer struct {
	listener     net.Listener
	mu           sync.Mutex
	files        map[string][]byte
	dirs         map[string]bool
	closed       bool
	rejectLogins bool
	wg           sync.WaitGroup
}

// NewMockServer starts the server on an ephemeral localhost port.
func NewMockServer() (*MockServer, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	m := &MockServer{
		listener: l,
		files:    make(map[string][]byte),
		dirs:     map[string]bool{"/": true},
	}
	m.wg.Add(1)
	go m.acceptLoop()
	return m, nil
}

// HostPort returns the server's host and control port.
func (m *MockServer) HostPort() (string, int) {
	addr := m.listener.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

// Close stops the server.
func (m *MockServer) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	_ = m.listener.Close()
	m.wg.Wait()
}

// SetFile seeds a file into the in-memory filesystem.
func (m *MockServer) SetFile(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = data
}

// File returns the stored content of name.
func (m *MockServer) File(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[name]
	return data, ok
}

// RejectLogins makes subsequent login attempts fail with 530.
func (m *MockServer) RejectLogins(reject bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectLogins = reject
}

func (m *MockServer) acceptLoop() {
	defer m.wg.Done()
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			return
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.handleConn(conn)
		}()
	}
}

type mockDataSetup struct {
	listener net.Listener // passive
	dialAddr string       // active
}

func (d *mockDataSetup) open() (net.Conn, error) {
	if d == nil {
		return nil, fmt.Errorf("no data setup")
	}
	if d.listener != nil {
		if tl, ok := d.listener.(*net.TCPListener); ok {
			_ = tl.SetDeadline(time.Now().Add(5 * time.Second))
		}
		conn, err := d.listener.Accept()
		_ = d.listener.Close()
		return conn, err
	}
	return net.DialTimeout("tcp", d.dialAddr, 5*time.Second)
}

func (m *MockServer) handleConn(conn net.Conn) {
	defer conn.Close()
	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 mock FTP ready")

	cwd := "/"
	var renameFrom string
	var data *mockDataSetup

	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		verb, arg := splitCommand(line)

		switch verb {
		case "USER":
			m.mu.Lock()
			reject := m.rejectLogins
			m.mu.Unlock()
			if reject {
				_ = tp.PrintfLine("530 login rejected")
				continue
			}
			_ = tp.PrintfLine("331 password required")
		case "PASS":
			_ = tp.PrintfLine("230 logged in")
		case "TYPE":
			_ = tp.PrintfLine("200 type set")
		case "PWD":
			_ = tp.PrintfLine("257 \"%s\" is current directory", cwd)
		case "CWD":
			target := m.resolve(cwd, arg)
			m.mu.Lock()
			ok := m.dirs[target]
			m.mu.Unlock()
			if !ok {
				_ = tp.PrintfLine("550 no such directory")
				continue
			}
			cwd = target
			_ = tp.PrintfLine("250 directory changed")
		case "MKD":
			target := m.resolve(cwd, arg)
			m.mu.Lock()
			m.dirs[target] = true
			m.mu.Unlock()
			_ = tp.PrintfLine("257 \"%s\" created", target)
		case "DELE":
			target := m.resolve(cwd, arg)
			m.mu.Lock()
			_, ok := m.files[target]
			delete(m.files, target)
			m.mu.Unlock()
			if !ok {
				_ = tp.PrintfLine("550 no such file")
				continue
			}
			_ = tp.PrintfLine("250 deleted")
		case "RNFR":
			target := m.resolve(cwd, arg)
			m.mu.Lock()
			_, ok := m.files[target]
			m.mu.Unlock()
			if !ok {
				_ = tp.PrintfLine("550 no such file")
				continue
			}
			renameFrom = target
			_ = tp.PrintfLine("350 ready for RNTO")
		case "RNTO":
			if renameFrom == "" {
				_ = tp.PrintfLine("503 RNFR required first")
				continue
			}
			target := m.resolve(cwd, arg)
			m.mu.Lock()
			m.files[target] = m.files[renameFrom]
			delete(m.files, renameFrom)
			m.mu.Unlock()
			renameFrom = ""
			_ = tp.PrintfLine("250 renamed")
		case "MLST":
			target := m.resolve(cwd, arg)
			m.mu.Lock()
			content, ok := m.files[target]
			m.mu.Unlock()
			if !ok {
				_ = tp.PrintfLine("550 no such file")
				continue
			}
			_ = tp.PrintfLine("250-Listing %s", target)
			_ = tp.PrintfLine(" type=file;size=%d; %s", len(content), pathBase(target))
			_ = tp.PrintfLine("250 End")
		case "EPSV":
			l, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				_ = tp.PrintfLine("425 cannot open data port")
				continue
			}
			data = &mockDataSetup{listener: l}
			port := l.Addr().(*net.TCPAddr).Port
			_ = tp.PrintfLine("229 Entering Extended Passive Mode (|||%d|)", port)
		case "PASV":
			l, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				_ = tp.PrintfLine("425 cannot open data port")
				continue
			}
			data = &mockDataSetup{listener: l}
			port := l.Addr().(*net.TCPAddr).Port
			_ = tp.PrintfLine("227 Entering Passive Mode (127,0,0,1,%d,%d)", port/256, port%256)
		case "PORT":
			parts := strings.Split(arg, ",")
			if len(parts) != 6 {
				_ = tp.PrintfLine("501 bad PORT")
				continue
			}
			p1, _ := strconv.Atoi(parts[4])
			p2, _ := strconv.Atoi(parts[5])
			host := strings.Join(parts[:4], ".")
			data = &mockDataSetup{dialAddr: net.JoinHostPort(host, strconv.Itoa(p1*256+p2))}
			_ = tp.PrintfLine("200 PORT accepted")
		case "LIST", "MLSD":
			_ = tp.PrintfLine("150 opening data connection")
			dc, err := data.open()
			data = nil
			if err != nil {
				_ = tp.PrintfLine("425 data connection failed")
				continue
			}
			m.writeListing(dc, cwd, verb == "MLSD")
			_ = dc.Close()
			_ = tp.PrintfLine("226 transfer complete")
		case "RETR":
			target := m.resolve(cwd, arg)
			m.mu.Lock()
			content, ok := m.files[target]
			m.mu.Unlock()
			if !ok {
				_ = tp.PrintfLine("550 no such file")
				continue
			}
			_ = tp.PrintfLine("150 opening data connection")
			dc, err := data.open()
			data = nil
			if err != nil {
				_ = tp.PrintfLine("425 data connection failed")
				continue
			}
			_, _ = dc.Write(content)
			_ = dc.Close()
			_ = tp.PrintfLine("226 transfer complete")
		case "STOR":
			target := m.resolve(cwd, arg)
			_ = tp.PrintfLine("150 opening data connection")
			dc, err := data.open()
			data = nil
			if err != nil {
				_ = tp.PrintfLine("425 data connection failed")
				continue
			}
			content, _ := io.ReadAll(dc)
			_ = dc.Close()
			m.mu.Lock()
			m.files[target] = content
			m.mu.Unlock()
			_ = tp.PrintfLine("226 transfer complete")
		case "QUIT":
			_ = tp.PrintfLine("221 goodbye")
			return
		default:
			_ = tp.PrintfLine("502 command not implemented")
		}
	}
}

func (m *MockServer) writeListing(w io.Writer, cwd string, machine bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, content := range m.files {
		dir, base := pathSplit(name)
		if dir != cwd {
			continue
		}
		if machine {
			fmt.Fprintf(w, "type=file;size=%d; %s\r\n", len(content), base)
		} else {
			fmt.Fprintf(w, "-rw-r--r-- 1 ftp ftp %d Jan  1 00:00 %s\r\n", len(content), base)
		}
	}
}

func (m *MockServer) resolve(cwd, arg string) string {
	if arg == "" {
		return cwd
	}
	if strings.HasPrefix(arg, "/") {
		return arg
	}
	if cwd == "/" {
		return "/" + arg
	}
	return cwd + "/" + arg
}

func splitCommand(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	verb := strings.ToUpper(strings.TrimSpace(parts[0]))
	if len(parts) == 2 {
		return verb, strings.TrimSpace(parts[1])
	}
	return verb, ""
}

func pathSplit(p string) (string, string) {
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return "/", strings.TrimPrefix(p, "/")
	}
	return p[:idx], p[idx+1:]
}

func pathBase(p string) string {
	_, base := pathSplit(p)
	return base
}
