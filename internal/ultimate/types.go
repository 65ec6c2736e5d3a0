// SPDX-License-Identifier: MIT

package ultimate

import (
	"encoding/json"
	"time"
)

// Result is returned for every completed HTTP exchange with the device,
// including non-2xx statuses. HTTP-level errors are data the caller inspects.
type Result struct {
	Status        int
	Latency       time.Duration
	CorrelationID string
	Body          []byte
}

// OK reports a 2xx status.
func (r Result) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Decode unmarshals the JSON body into v.
func (r Result) Decode(v any) error { return json.Unmarshal(r.Body, v) }

// Envelope is the `errors: []` wrapper the device includes even on success;
// the payload types embed it.
type Envelope struct {
	Errors []string `json:"errors"`
}

// VersionInfo is the payload of GET /v1/version.
type VersionInfo struct {
	Envelope
	Version string `json:"version"`
}

// DeviceInfo is the payload of GET /v1/info.
type DeviceInfo struct {
	Envelope
	Product         string `json:"product"`
	FirmwareVersion string `json:"firmware_version"`
	CoreVersion     string `json:"core_version"`
	Hostname        string `json:"hostname"`
	UniqueID        string `json:"unique_id"`
}

// ConfigCategories is the payload of GET /v1/configs.
type ConfigCategories struct {
	Envelope
	Categories []string `json:"categories"`
}

// ConfigItemDetail is one configuration item with its selectable options.
type ConfigItemDetail struct {
	Current any   `json:"current"`
	Options []any `json:"options,omitempty"`
	Min     *int  `json:"min,omitempty"`
	Max     *int  `json:"max,omitempty"`
}

// Drive describes one virtual drive of GET /v1/drives.
type Drive struct {
	Drive     string `json:"drive"`
	Enabled   bool   `json:"enabled"`
	BusID     int    `json:"bus_id"`
	Type      string `json:"type"`
	ROM       string `json:"rom"`
	ImageFile string `json:"image_file,omitempty"`
	ImagePath string `json:"image_path,omitempty"`
}

// DriveList is the payload of GET /v1/drives.
type DriveList struct {
	Envelope
	Drives []map[string]Drive `json:"drives"`
}
