// SPDX-License-Identifier: MIT

// Package diagnostics reports subsystem health and bundles a redacted
// diagnostics export for support requests.
package diagnostics

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HealthStatus is the health state of a subsystem.
type HealthStatus int

const (
	Unknown HealthStatus = iota
	OK
	Degraded
	Unavailable
)

func (h HealthStatus) String() string {
	switch h {
	case OK:
		return "ok"
	case Degraded:
		return "degraded"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

func (h HealthStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.String() + `"`), nil
}

// SubsystemHealth is one probed subsystem.
type SubsystemHealth struct {
	Subsystem    string       `json:"subsystem"`
	Status       HealthStatus `json:"status"`
	MeasuredAt   time.Time    `json:"measured_at"`
	LatencyMS    int64        `json:"latency_ms"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

// HealthChecker probes one subsystem.
type HealthChecker interface {
	Check(ctx context.Context) SubsystemHealth
}

// DeviceChecker probes the device's REST endpoint. Thresholds: a reply
// within 2s is ok, within 5s degraded, anything else unavailable.
type DeviceChecker struct {
	baseURL    string
	password   string
	httpClient *http.Client
}

// NewDeviceChecker creates a checker for baseURL. An empty baseURL reports
// unavailable without probing.
func NewDeviceChecker(baseURL, password string) *DeviceChecker {
	return &DeviceChecker{
		baseURL:  baseURL,
		password: password,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Check probes /v1/version.
func (d *DeviceChecker) Check(ctx context.Context) SubsystemHealth {
	health := SubsystemHealth{
		Subsystem:  "device",
		MeasuredAt: time.Now(),
	}
	if d.baseURL == "" {
		health.Status = Unavailable
		health.ErrorMessage = "no device configured"
		return health
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/v1/version", nil)
	if err != nil {
		health.Status = Unavailable
		health.ErrorMessage = err.Error()
		return health
	}
	if d.password != "" {
		req.Header.Set("X-Password", d.password)
	}

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	elapsed := time.Since(start)
	health.LatencyMS = elapsed.Milliseconds()

	if err != nil {
		health.Status = Unavailable
		health.ErrorMessage = "device unreachable"
		return health
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		health.Status = Degraded
		health.ErrorMessage = fmt.Sprintf("device returned: %d", resp.StatusCode)
		return health
	}
	if elapsed > 2*time.Second {
		health.Status = Degraded
		health.ErrorMessage = "device responding slowly"
		return health
	}
	health.Status = OK
	return health
}
