// SPDX-License-Identifier: MIT
package ultimate

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockServer provides a configurable device mock for testing. It implements
// the /v1 surface the client talks to, with per-endpoint delay and failure
// injection.
type MockServer struct {
	*httptest.Server
	mu       sync.RWMutex
	version  string
	info     DeviceInfo
	configs  map[string]map[string]any
	memory   [65536]byte
	paused   bool
	delay    map[string]time.Duration
	failures map[string]int
	uploads  []string // filenames received by runner/mount endpoints
}

// NewMockServer creates a device mock with realistic default data.
func NewMockServer() *MockServer {
	m := &MockServer{
		version: "0.1",
		info: DeviceInfo{
			Envelope:        Envelope{Errors: []string{}},
			Product:         "Ultimate 64",
			FirmwareVersion: "3.12",
			CoreVersion:     "1.44",
			Hostname:        "c64u",
			UniqueID:        "U64-TEST-0001",
		},
		configs: map[string]map[string]any{
			"U64 Specific Settings": {
				"System Mode":    "C64",
				"HDMI Scan mode": "Progressive",
			},
			"Network Settings": {
				"Network Password": "hunter2",
				"Hostname":         "c64u",
			},
		},
		delay:    make(map[string]time.Duration),
		failures: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/version", m.handleVersion)
	mux.HandleFunc("/v1/info", m.handleInfo)
	mux.HandleFunc("/v1/configs", m.handleConfigs)
	mux.HandleFunc("/v1/configs/", m.handleConfigCategory)
	mux.HandleFunc("/v1/drives", m.handleDrives)
	mux.HandleFunc("/v1/machine:pause", m.handlePause)
	mux.HandleFunc("/v1/machine:resume", m.handleResume)
	mux.HandleFunc("/v1/machine:reset", m.handleResume)
	mux.HandleFunc("/v1/machine:readmem", m.handleReadMem)
	mux.HandleFunc("/v1/machine:writemem", m.handleWriteMem)
	mux.HandleFunc("/v1/runners:run_prg", m.handleUpload)
	mux.HandleFunc("/v1/runners:sidplay", m.handleUpload)
	mux.HandleFunc("/v1/drives/a:mount", m.handleUpload)

	m.Server = httptest.NewServer(mux)
	return m
}

// SetDelay injects an artificial delay for an endpoint path.
func (m *MockServer) SetDelay(endpoint string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay[endpoint] = d
}

// SetFailures makes an endpoint return HTTP 500 for the next count requests.
func (m *MockServer) SetFailures(endpoint string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[endpoint] = count
}

// Uploads returns the filenames received by upload endpoints.
func (m *MockServer) Uploads() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.uploads))
	copy(out, m.uploads)
	return out
}

// Memory returns a copy of one byte of emulated machine memory.
func (m *MockServer) Memory(addr uint16) byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memory[addr]
}

// gate applies delay/failure injection; it reports whether the handler may
// proceed.
func (m *MockServer) gate(w http.ResponseWriter, endpoint string) bool {
	m.mu.Lock()
	d := m.delay[endpoint]
	fail := false
	if n := m.failures[endpoint]; n > 0 {
		m.failures[endpoint] = n - 1
		fail = true
	}
	m.mu.Unlock()

	if d > 0 {
		time.Sleep(d)
	}
	if fail {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (m *MockServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !m.gate(w, "/v1/version") {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	writeJSON(w, map[string]any{"version": m.version, "errors": []string{}})
}

func (m *MockServer) handleInfo(w http.ResponseWriter, r *http.Request) {
	if !m.gate(w, "/v1/info") {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	writeJSON(w, m.info)
}

func (m *MockServer) handleConfigs(w http.ResponseWriter, r *http.Request) {
	if !m.gate(w, "/v1/configs") {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	cats := make([]string, 0, len(m.configs))
	for name := range m.configs {
		cats = append(cats, name)
	}
	writeJSON(w, map[string]any{"categories": cats, "errors": []string{}})
}

func (m *MockServer) handleConfigCategory(w http.ResponseWriter, r *http.Request) {
	if !m.gate(w, "/v1/configs/") {
		return
	}
	category, item, hasItem := strings.Cut(r.URL.Path[len("/v1/configs/"):], "/")

	m.mu.Lock()
	defer m.mu.Unlock()

	items, ok := m.configs[category]
	if !ok {
		writeJSON(w, map[string]any{"errors": []string{"unknown category"}})
		return
	}

	if !hasItem {
		if r.Method == http.MethodPut {
			http.Error(w, "item path required", http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{category: items, "errors": []string{}})
		return
	}

	value, ok := items[item]
	if !ok {
		writeJSON(w, map[string]any{"errors": []string{"unknown item"}})
		return
	}
	if r.Method == http.MethodPut {
		items[item] = r.URL.Query().Get("value")
		writeJSON(w, map[string]any{"errors": []string{}})
		return
	}
	writeJSON(w, map[string]any{
		category: map[string]any{item: map[string]any{"current": value}},
		"errors": []string{},
	})
}

func (m *MockServer) handleDrives(w http.ResponseWriter, r *http.Request) {
	if !m.gate(w, "/v1/drives") {
		return
	}
	writeJSON(w, map[string]any{
		"drives": []map[string]any{
			{"a": map[string]any{"drive": "a", "enabled": true, "bus_id": 8, "type": "1541"}},
		},
		"errors": []string{},
	})
}

func (m *MockServer) handlePause(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
	writeJSON(w, map[string]any{"errors": []string{}})
}

func (m *MockServer) handleResume(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
	writeJSON(w, map[string]any{"errors": []string{}})
}

func (m *MockServer) handleReadMem(w http.ResponseWriter, r *http.Request) {
	addr, err := strconv.ParseUint(r.URL.Query().Get("address"), 16, 16)
	if err != nil {
		http.Error(w, "bad address", http.StatusBadRequest)
		return
	}
	length, err := strconv.Atoi(r.URL.Query().Get("length"))
	if err != nil || length <= 0 {
		http.Error(w, "bad length", http.StatusBadRequest)
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	end := int(addr) + length
	if end > len(m.memory) {
		end = len(m.memory)
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(m.memory[addr:end])
}

func (m *MockServer) handleWriteMem(w http.ResponseWriter, r *http.Request) {
	addr, err := strconv.ParseUint(r.URL.Query().Get("address"), 16, 16)
	if err != nil {
		http.Error(w, "bad address", http.StatusBadRequest)
		return
	}
	data, err := hex.DecodeString(r.URL.Query().Get("data"))
	if err != nil || len(data) == 0 {
		http.Error(w, "bad data", http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, b := range data {
		idx := int(addr) + i
		if idx >= len(m.memory) {
			break
		}
		m.memory[idx] = b
	}
	writeJSON(w, map[string]any{"errors": []string{}})
}

func (m *MockServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		http.Error(w, "bad multipart body", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file part", http.StatusBadRequest)
		return
	}
	defer file.Close()

	m.mu.Lock()
	m.uploads = append(m.uploads, header.Filename)
	m.mu.Unlock()
	writeJSON(w, map[string]any{"errors": []string{}})
}
