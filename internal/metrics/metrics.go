// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	connectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "c64bridge_connection_state",
		Help: "Current connection state (1 for the active state, 0 otherwise)",
	}, []string{"state"}) // state=unknown|real_connected|demo_active|offline_no_demo

	discoveryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "c64bridge_discovery_total",
		Help: "Discovery attempts by outcome",
	}, []string{"outcome"}) // outcome=real|demo|offline

	discoveryCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "c64bridge_discovery_coalesced_total",
		Help: "Discovery triggers that joined an already in-flight attempt",
	})

	healthProbeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "c64bridge_health_probe_total",
		Help: "Background health probes by outcome",
	}, []string{"outcome"}) // outcome=success|failure

	// Device REST metrics
	restRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "c64bridge_rest_request_duration_seconds",
		Help:    "Device REST request duration by operation",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	restRequestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "c64bridge_rest_request_total",
		Help: "Device REST requests by operation and outcome",
	}, []string{"operation", "outcome"}) // outcome=completed|transport_error|cancelled

	// FTP metrics
	ftpCommandTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "c64bridge_ftp_command_total",
		Help: "FTP commands by verb and outcome",
	}, []string{"verb", "outcome"}) // outcome=ok|protocol_error|transport_error

	ftpSessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "c64bridge_ftp_sessions_open",
		Help: "Currently open FTP control sessions",
	})

	// Admission metrics
	semaphoreInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "c64bridge_semaphore_in_flight",
		Help: "Active holders per admission semaphore",
	}, []string{"name"})

	// Trace metrics
	traceEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "c64bridge_trace_events_total",
		Help: "Trace events appended by type",
	}, []string{"type"})

	traceEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "c64bridge_trace_events_dropped_total",
		Help: "Trace events dropped because the ring buffer was full",
	})
)

func SetConnectionState(active string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == active {
			v = 1.0
		}
		connectionState.WithLabelValues(s).Set(v)
	}
}

func RecordDiscovery(outcome string)    { discoveryTotal.WithLabelValues(outcome).Inc() }
func RecordDiscoveryCoalesced()         { discoveryCoalesced.Inc() }
func RecordHealthProbe(outcome string)  { healthProbeTotal.WithLabelValues(outcome).Inc() }
func RecordTraceEvent(eventType string) { traceEventsTotal.WithLabelValues(eventType).Inc() }
func RecordTraceEventDropped()          { traceEventsDropped.Inc() }

func ObserveRESTRequest(operation, outcome string, seconds float64) {
	restRequestTotal.WithLabelValues(operation, outcome).Inc()
	restRequestDuration.WithLabelValues(operation).Observe(seconds)
}

func RecordFTPCommand(verb, outcome string) {
	ftpCommandTotal.WithLabelValues(verb, outcome).Inc()
}

func FTPSessionOpened() { ftpSessionsOpen.Inc() }
func FTPSessionClosed() { ftpSessionsOpen.Dec() }

func SetSemaphoreInFlight(name string, n int) {
	semaphoreInFlight.WithLabelValues(name).Set(float64(n))
}
