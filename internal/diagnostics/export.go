// SPDX-License-Identifier: MIT

package diagnostics

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/chrisgleissner/c64bridge/internal/config"
	"github.com/chrisgleissner/c64bridge/internal/connection"
	"github.com/chrisgleissner/c64bridge/internal/trace"
)

// ExportInput collects everything that goes into a diagnostics bundle.
// Secrets must not appear in the output: the config is redacted here and the
// trace events are redacted at record time.
type ExportInput struct {
	AppVersion    string
	Config        config.AppConfig
	Snapshot      connection.Snapshot
	Events        []trace.Event
	Health        []SubsystemHealth
	DeviceConfigs map[string]map[string]any // optional bulk device config dump
}

// WriteExport writes a zip bundle with manifest, redacted config, the
// current connection snapshot, the trace ring, and subsystem health.
func WriteExport(w io.Writer, in ExportInput) error {
	zw := zip.NewWriter(w)

	files := []struct {
		name string
		data any
	}{
		{"manifest.json", map[string]any{
			"app":        "c64bridge",
			"version":    in.AppVersion,
			"exportedAt": time.Now().UTC().Format(time.RFC3339),
		}},
		{"config.json", in.Config.Redacted()},
		{"connection.json", in.Snapshot},
		{"trace.json", in.Events},
		{"health.json", in.Health},
	}
	if in.DeviceConfigs != nil {
		redacted := make(map[string]any, len(in.DeviceConfigs))
		for cat, items := range in.DeviceConfigs {
			redacted[cat] = trace.Payload(items)
		}
		files = append(files, struct {
			name string
			data any
		}{"device-configs.json", redacted})
	}

	for _, f := range files {
		fw, err := zw.Create(f.name)
		if err != nil {
			return fmt.Errorf("diagnostics: create %s: %w", f.name, err)
		}
		enc := json.NewEncoder(fw)
		enc.SetIndent("", "  ")
		if err := enc.Encode(f.data); err != nil {
			return fmt.Errorf("diagnostics: encode %s: %w", f.name, err)
		}
	}

	return zw.Close()
}
