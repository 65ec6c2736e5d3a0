// SPDX-License-Identifier: MIT

// Package api exposes the local HTTP surface: connection state, discovery
// trigger, trace access, diagnostics export, live events over websocket,
// and the usual health/metrics endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chrisgleissner/c64bridge/internal/admission"
	"github.com/chrisgleissner/c64bridge/internal/config"
	"github.com/chrisgleissner/c64bridge/internal/connection"
	"github.com/chrisgleissner/c64bridge/internal/diagnostics"
	"github.com/chrisgleissner/c64bridge/internal/trace"
	"github.com/chrisgleissner/c64bridge/internal/ultimate"
)

// Server holds the handler dependencies.
type Server struct {
	cfg     config.AppConfig
	manager *connection.Manager
	rec     *trace.Recorder
	checker diagnostics.HealthChecker
	sem     *admission.Semaphore
	version string
}

// NewServer wires the HTTP layer. checker may be nil; the export then skips
// the health probe.
func NewServer(cfg config.AppConfig, manager *connection.Manager, rec *trace.Recorder, checker diagnostics.HealthChecker, version string) *Server {
	s := &Server{
		cfg:     cfg,
		manager: manager,
		rec:     rec,
		checker: checker,
		version: version,
	}
	if cfg.MaxConcurrentRequests > 0 {
		if sem, err := admission.NewSemaphore("device", cfg.MaxConcurrentRequests); err == nil {
			s.sem = sem
		}
	}
	return s
}

// Router builds the chi router with the full middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(Recoverer)
	r.Use(RequestID)
	r.Use(AccessLog)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/connection", s.handleConnection)
		r.Post("/connection/discover", s.handleDiscover)
		r.Get("/trace", s.handleTrace)
		r.Get("/diagnostics/export", s.handleDiagnosticsExport)
		r.Get("/events", s.handleEvents)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

// handleReadyz reports ready once discovery has settled into any state
// other than UNKNOWN. Being offline is still "ready": the API is
// operational and reporting that state.
func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	snap := s.manager.GetSnapshot()
	if snap.State == connection.StateUnknown {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "state": string(snap.State)})
}

func (s *Server) handleConnection(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.GetSnapshot())
}

// handleDiscover triggers discovery. ?force=true bypasses the freshness
// window (the UI's "reconnect now" button).
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var snap connection.Snapshot
	if r.URL.Query().Get("force") == "true" {
		snap = s.manager.DiscoverNow()
	} else {
		snap = s.manager.Discover()
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleTrace returns the trace ring, optionally filtered by ?type=.
func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	var events []trace.Event
	if t := r.URL.Query().Get("type"); t != "" {
		events = s.rec.EventsByType(t)
	} else {
		events = s.rec.Events()
	}
	if events == nil {
		events = []trace.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(events),
		"events": events,
	})
}

func (s *Server) handleDiagnosticsExport(w http.ResponseWriter, r *http.Request) {
	var health []diagnostics.SubsystemHealth
	if s.checker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 6*time.Second)
		health = append(health, s.checker.Check(ctx))
		cancel()
	}

	snap := s.manager.GetSnapshot()
	deviceConfigs := s.dumpDeviceConfigs(r, snap)

	filename := fmt.Sprintf("c64bridge-diagnostics-%s.zip", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	err := diagnostics.WriteExport(w, diagnostics.ExportInput{
		AppVersion:    s.version,
		Config:        s.cfg,
		Snapshot:      snap,
		Events:        s.rec.Events(),
		Health:        health,
		DeviceConfigs: deviceConfigs,
	})
	if err != nil {
		// Headers are already out; all we can do is log.
		logger := logFromRequest(r)
		logger.Error().
			Str("event", "diagnostics.export_failed").
			Err(err).
			Msg("diagnostics export failed mid-stream")
	}
}

// dumpDeviceConfigs reads the full config tree of the active backend for the
// diagnostics bundle. Best-effort: an unreachable or partial device simply
// leaves the dump out.
func (s *Server) dumpDeviceConfigs(r *http.Request, snap connection.Snapshot) map[string]map[string]any {
	if snap.State != connection.StateRealConnected && snap.State != connection.StateDemoActive {
		return nil
	}

	opts := []ultimate.Option{ultimate.WithPassword(s.cfg.Device.Password)}
	if s.sem != nil {
		opts = append(opts, ultimate.WithSemaphore(s.sem))
	}
	client := ultimate.New(snap.BaseURL, opts...)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	dump, err := client.ConfigSnapshot(ctx)
	if err != nil {
		logger := logFromRequest(r)
		logger.Warn().
			Str("event", "diagnostics.config_dump_failed").
			Err(err).
			Msg("device config dump failed, bundle continues without it")
		return nil
	}
	return dump
}
