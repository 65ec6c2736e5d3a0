// SPDX-License-Identifier: MIT

// Package mockdev runs an in-process demo backend that answers the device's
// /v1 REST surface with canned data. It lets the rest of the app run
// unchanged when no real hardware is reachable. FTP is not emulated.
package mockdev

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chrisgleissner/c64bridge/internal/connection"
	xlog "github.com/chrisgleissner/c64bridge/internal/log"
)

type configItem struct {
	Value   any      `json:"value"`
	Default any      `json:"default,omitempty"`
	Options []string `json:"options,omitempty"`
}

// Server is the demo backend. Zero value is not usable; call New.
type Server struct {
	mu       sync.Mutex
	listener net.Listener
	httpSrv  *http.Server
	baseURL  string

	memory  [65536]byte
	paused  bool
	configs map[string]map[string]*configItem
}

// New creates a stopped demo backend with factory-default canned data.
func New() *Server {
	return &Server{
		configs: map[string]map[string]*configItem{
			"U64 Specific Settings": {
				"System Mode":    {Value: "U64", Options: []string{"U64", "C64 Cartridge"}},
				"HDMI Scanlines": {Value: "Disabled", Options: []string{"Disabled", "Enabled"}},
			},
			"Network Settings": {
				"Use DHCP":  {Value: "Yes", Options: []string{"No", "Yes"}},
				"Host Name": {Value: "demo64"},
			},
			"SID Sockets Configuration": {
				"SID in Socket 1": {Value: "8580", Options: []string{"None", "6581", "8580"}},
			},
		},
	}
}

// StartServer binds an ephemeral localhost port and starts serving. Safe to
// call again after StopServer; calling it while running returns the running
// endpoint.
func (s *Server) StartServer(ctx context.Context) (connection.MockInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return connection.MockInfo{BaseURL: s.baseURL}, nil
	}

	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return connection.MockInfo{}, fmt.Errorf("mockdev: listen: %w", err)
	}

	s.listener = l
	s.baseURL = "http://" + l.Addr().String()
	srv := &http.Server{
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpSrv = srv
	go func() {
		_ = srv.Serve(l)
	}()

	logger := xlog.WithComponent("mockdev")
	logger.Info().
		Str("event", "mockdev.started").
		Str("base_url", s.baseURL).
		Msg("demo backend started")
	return connection.MockInfo{BaseURL: s.baseURL}, nil
}

// StopServer shuts the backend down. Idempotent.
func (s *Server) StopServer(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.httpSrv = nil
	s.listener = nil
	s.baseURL = ""
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	logger := xlog.WithComponent("mockdev")
	logger.Info().
		Str("event", "mockdev.stopped").
		Msg("demo backend stopped")
	return srv.Shutdown(ctx)
}

// BaseURL returns the current endpoint, or "" when stopped.
func (s *Server) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseURL
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Get("/version", s.handleVersion)
		r.Get("/info", s.handleInfo)
		r.Get("/configs", s.handleConfigCategories)
		r.Get("/configs/{category}", s.handleConfigCategory)
		r.Get("/configs/{category}/{item}", s.handleConfigItem)
		r.Put("/configs/{category}/{item}", s.handleSetConfigItem)
		r.Get("/drives", s.handleDrives)
		r.Put("/machine:pause", s.handlePause)
		r.Put("/machine:resume", s.handleResume)
		r.Put("/machine:reset", s.handleReset)
		r.Get("/machine:readmem", s.handleReadMem)
		r.Put("/machine:writemem", s.handleWriteMem)
		r.Post("/runners:run_prg", s.handleUpload)
		r.Post("/runners:sidplay", s.handleUpload)
		r.Post("/drives/{drive}:mount", s.handleUpload)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"errors": []string{}})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"errors": []string{msg}})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "1.0 (demo)",
		"errors":  []string{},
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"product":          "Ultimate 64 (demo)",
		"firmware_version": "3.11",
		"core_version":     "1.44",
		"hostname":         "demo64",
		"unique_id":        "DEMO0001",
		"errors":           []string{},
	})
}

func (s *Server) handleConfigCategories(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	names := make([]string, 0, len(s.configs))
	for name := range s.configs {
		names = append(names, name)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"categories": names,
		"errors":     []string{},
	})
}

func (s *Server) handleConfigCategory(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	s.mu.Lock()
	items, ok := s.configs[category]
	var body map[string]any
	if ok {
		values := make(map[string]any, len(items))
		for name, item := range items {
			values[name] = item.Value
		}
		body = map[string]any{category: values, "errors": []string{}}
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown category")
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleConfigItem(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	name := chi.URLParam(r, "item")
	s.mu.Lock()
	item, ok := s.configs[category][name]
	var copyOf configItem
	if ok {
		copyOf = *item
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown config item")
		return
	}
	// The device nests the detail under category and item name.
	detail := map[string]any{"current": copyOf.Value}
	if len(copyOf.Options) > 0 {
		detail["options"] = copyOf.Options
	}
	writeJSON(w, http.StatusOK, map[string]any{
		category: map[string]any{name: detail},
		"errors": []string{},
	})
}

func (s *Server) handleSetConfigItem(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	name := chi.URLParam(r, "item")
	value := r.URL.Query().Get("value")
	s.mu.Lock()
	item, ok := s.configs[category][name]
	if ok {
		item.Value = value
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown config item")
		return
	}
	writeOK(w)
}

func (s *Server) handleDrives(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"drives": []map[string]any{
			{"a": map[string]any{"drive": "a", "enabled": true, "bus_id": 8, "type": "1541", "rom": "1541.rom"}},
			{"b": map[string]any{"drive": "b", "enabled": false, "bus_id": 9, "type": "1541", "rom": "1541.rom"}},
		},
		"errors": []string{},
	})
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	writeOK(w)
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	writeOK(w)
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.memory = [65536]byte{}
	s.paused = false
	s.mu.Unlock()
	writeOK(w)
}

func (s *Server) handleReadMem(w http.ResponseWriter, r *http.Request) {
	addr, err := strconv.ParseUint(r.URL.Query().Get("address"), 16, 16)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad address")
		return
	}
	length := 256
	if raw := r.URL.Query().Get("length"); raw != "" {
		if length, err = strconv.Atoi(raw); err != nil || length < 1 {
			writeError(w, http.StatusBadRequest, "bad length")
			return
		}
	}
	if int(addr)+length > len(s.memory) {
		length = len(s.memory) - int(addr)
	}
	s.mu.Lock()
	data := make([]byte, length)
	copy(data, s.memory[addr:int(addr)+length])
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (s *Server) handleWriteMem(w http.ResponseWriter, r *http.Request) {
	addr, err := strconv.ParseUint(r.URL.Query().Get("address"), 16, 16)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad address")
		return
	}
	data, err := hex.DecodeString(strings.TrimSpace(r.URL.Query().Get("data")))
	if err != nil || len(data) == 0 {
		writeError(w, http.StatusBadRequest, "bad data")
		return
	}
	if int(addr)+len(data) > len(s.memory) {
		writeError(w, http.StatusBadRequest, "write past end of memory")
		return
	}
	s.mu.Lock()
	copy(s.memory[addr:], data)
	s.mu.Unlock()
	writeOK(w)
}

// handleUpload accepts any multipart body and reports success. The demo
// backend has no machine to run it on.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "bad multipart body")
		return
	}
	writeOK(w)
}

// Memory returns a copy of the demo machine's memory window (tests).
func (s *Server) Memory(addr uint16, length int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(addr)+length > len(s.memory) {
		length = len(s.memory) - int(addr)
	}
	out := make([]byte, length)
	copy(out, s.memory[addr:int(addr)+length])
	return out
}
