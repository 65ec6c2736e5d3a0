// SPDX-License-Identifier: MIT

package diagnostics

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisgleissner/c64bridge/internal/config"
	"github.com/chrisgleissner/c64bridge/internal/connection"
	"github.com/chrisgleissner/c64bridge/internal/trace"
)

func TestDeviceChecker_OK(t *testing.T) {
	var gotPassword string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPassword = r.Header.Get("X-Password")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"version":"0.1","errors":[]}`))
	}))
	defer srv.Close()

	health := NewDeviceChecker(srv.URL, "secret64").Check(context.Background())
	assert.Equal(t, OK, health.Status)
	assert.Equal(t, "device", health.Subsystem)
	assert.Empty(t, health.ErrorMessage)
	assert.Equal(t, "secret64", gotPassword)
}

func TestDeviceChecker_HTTPErrorIsDegraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	health := NewDeviceChecker(srv.URL, "").Check(context.Background())
	assert.Equal(t, Degraded, health.Status)
	assert.Contains(t, health.ErrorMessage, "500")
}

func TestDeviceChecker_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	health := NewDeviceChecker(url, "").Check(context.Background())
	assert.Equal(t, Unavailable, health.Status)
}

func TestDeviceChecker_NoDevice(t *testing.T) {
	health := NewDeviceChecker("", "").Check(context.Background())
	assert.Equal(t, Unavailable, health.Status)
	assert.Equal(t, "no device configured", health.ErrorMessage)
}

func TestHealthStatus_JSON(t *testing.T) {
	data, err := json.Marshal(map[string]HealthStatus{"s": Degraded})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"degraded"}`, string(data))
}

func TestWriteExport_BundleContentsRedacted(t *testing.T) {
	cfg := config.Default()
	cfg.Device.Host = "c64u"
	cfg.Device.Password = "secret64"

	rec := trace.NewRecorder()
	rec.Append(context.Background(), trace.TypeActionStart, "ui", map[string]any{
		"action": "mount",
		"token":  "abc",
	})

	var buf bytes.Buffer
	err := WriteExport(&buf, ExportInput{
		AppVersion: "0.1.0",
		Config:     cfg,
		Snapshot:   connection.Snapshot{State: connection.StateDemoActive},
		Events:     rec.Events(),
		Health:     []SubsystemHealth{{Subsystem: "device", Status: OK}},
		DeviceConfigs: map[string]map[string]any{
			"Network Settings": {
				"Hostname":         "c64u",
				"Network Password": "hunter2",
			},
		},
	})
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	files := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		files[f.Name] = data
	}

	for _, name := range []string{"manifest.json", "config.json", "connection.json", "trace.json", "health.json", "device-configs.json"} {
		require.Contains(t, files, name)
	}

	var manifest map[string]string
	require.NoError(t, json.Unmarshal(files["manifest.json"], &manifest))
	assert.Equal(t, "c64bridge", manifest["app"])
	assert.Equal(t, "0.1.0", manifest["version"])

	var exported config.AppConfig
	require.NoError(t, json.Unmarshal(files["config.json"], &exported))
	assert.Equal(t, "***", exported.Device.Password)
	assert.Equal(t, "c64u", exported.Device.Host)

	assert.NotContains(t, string(files["trace.json"]), "abc", "sensitive values must not leak via trace")
	assert.Contains(t, string(files["trace.json"]), `"token": "***"`)

	var deviceConfigs map[string]map[string]any
	require.NoError(t, json.Unmarshal(files["device-configs.json"], &deviceConfigs))
	assert.Equal(t, "c64u", deviceConfigs["Network Settings"]["Hostname"])
	assert.Equal(t, "***", deviceConfigs["Network Settings"]["Network Password"])
}
