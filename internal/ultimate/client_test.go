// SPDX-License-Identifier: MIT

package ultimate

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisgleissner/c64bridge/internal/admission"
	"github.com/chrisgleissner/c64bridge/internal/trace"
)

func TestClient_Version(t *testing.T) {
	srv := NewMockServer()
	defer srv.Close()

	c := New(srv.URL)
	v, res, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "0.1", v.Version)
	assert.Greater(t, res.Latency, time.Duration(0))
}

func TestClient_Info(t *testing.T) {
	srv := NewMockServer()
	defer srv.Close()

	c := New(srv.URL)
	info, res, err := c.Info(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "Ultimate 64", info.Product)
	assert.Equal(t, "3.12", info.FirmwareVersion)
}

func TestClient_HTTPErrorIsDataNotError(t *testing.T) {
	srv := NewMockServer()
	defer srv.Close()
	srv.SetFailures("/v1/version", 1)

	c := New(srv.URL)
	v, res, err := c.Version(context.Background())
	require.NoError(t, err, "a completed 500 exchange must not be a Go error")
	assert.Equal(t, http.StatusInternalServerError, res.Status)
	assert.False(t, res.OK())
	assert.Empty(t, v.Version)

	// The next call succeeds again.
	v, res, err = c.Version(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "0.1", v.Version)
}

func TestClient_UnreachableIsTransportError(t *testing.T) {
	srv := NewMockServer()
	url := srv.URL
	srv.Close()

	c := New(url)
	_, _, err := c.Version(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)

	var derr *DeviceError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "version", derr.Operation)
}

func TestClient_TimeoutClassified(t *testing.T) {
	srv := NewMockServer()
	defer srv.Close()
	srv.SetDelay("/v1/version", 300*time.Millisecond)

	c := New(srv.URL, WithTimeout(50*time.Millisecond))
	_, _, err := c.Version(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClient_CancellationClassified(t *testing.T) {
	srv := NewMockServer()
	defer srv.Close()
	srv.SetDelay("/v1/version", 300*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	c := New(srv.URL)
	_, _, err := c.Version(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestClient_PasswordHeader(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Password")
		writeJSON(w, map[string]any{"version": "0.1", "errors": []string{}})
	}))
	defer srv.Close()

	c := New(srv.URL, WithPassword("secret64"))
	_, _, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secret64", got)
}

func TestClient_MemoryRoundTrip(t *testing.T) {
	srv := NewMockServer()
	defer srv.Close()

	c := New(srv.URL)
	payload := []byte{0x20, 0xD2, 0xFF, 0x60}

	res, err := c.WriteMem(context.Background(), 0xC000, payload)
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, byte(0x20), srv.Memory(0xC000))
	assert.Equal(t, byte(0x60), srv.Memory(0xC003))

	read, err := c.ReadMem(context.Background(), 0xC000, len(payload))
	require.NoError(t, err)
	require.True(t, read.OK())
	assert.Equal(t, payload, read.Body)
}

func TestClient_Uploads(t *testing.T) {
	srv := NewMockServer()
	defer srv.Close()

	c := New(srv.URL)

	res, err := c.RunPRG(context.Background(), "wizball.prg", bytes.NewReader([]byte{0x01, 0x08}))
	require.NoError(t, err)
	assert.True(t, res.OK())

	res, err = c.SIDPlay(context.Background(), "commando.sid", bytes.NewReader([]byte("PSID")), 2)
	require.NoError(t, err)
	assert.True(t, res.OK())

	res, err = c.MountDisk(context.Background(), "a", "games.d64", bytes.NewReader(make([]byte, 256)), "d64", "readwrite")
	require.NoError(t, err)
	assert.True(t, res.OK())

	assert.Equal(t, []string{"wizball.prg", "commando.sid", "games.d64"}, srv.Uploads())
}

func TestClient_SemaphoreBoundsConcurrency(t *testing.T) {
	var inFlight, maxSeen int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			prev := atomic.LoadInt64(&maxSeen)
			if cur <= prev || atomic.CompareAndSwapInt64(&maxSeen, prev, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		writeJSON(w, map[string]any{"errors": []string{}})
	}))
	defer srv.Close()

	sem, err := admission.NewSemaphore("device", 1)
	require.NoError(t, err)
	c := New(srv.URL, WithSemaphore(sem))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.WriteMem(context.Background(), uint16(0xD400+i), []byte{byte(i)})
			require.NoError(t, err)
			assert.True(t, res.OK())
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&maxSeen), "the device must never see concurrent requests")
}

func TestClient_TraceEvents(t *testing.T) {
	srv := NewMockServer()
	defer srv.Close()

	rec := trace.NewRecorder(trace.WithCounters(trace.NewCounters(0)))
	c := New(srv.URL, WithRecorder(rec))

	_, _, err := c.Version(context.Background())
	require.NoError(t, err)

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, trace.TypeRESTRequest, events[0].Type)
	assert.Equal(t, trace.TypeRESTResponse, events[1].Type)
	assert.Equal(t, events[0].CorrelationID, events[1].CorrelationID)
	assert.Equal(t, "version", events[0].Data["operation"])
	assert.Equal(t, float64(200), toFloat(events[1].Data["status"]))
}

func toFloat(v any) float64 {
	switch tv := v.(type) {
	case int:
		return float64(tv)
	case int64:
		return float64(tv)
	case float64:
		return tv
	default:
		return -1
	}
}

func TestClient_ConfigSnapshot(t *testing.T) {
	srv := NewMockServer()
	defer srv.Close()

	c := New(srv.URL)
	dump, err := c.ConfigSnapshot(context.Background())
	require.NoError(t, err)

	require.Contains(t, dump, "U64 Specific Settings")
	require.Contains(t, dump, "Network Settings")
	assert.Equal(t, "C64", dump["U64 Specific Settings"]["System Mode"])
	// Redaction is the exporter's job; the client returns raw values.
	assert.Equal(t, "hunter2", dump["Network Settings"]["Network Password"])
}

func TestClient_ConfigItem(t *testing.T) {
	srv := NewMockServer()
	defer srv.Close()

	c := New(srv.URL)
	detail, res, err := c.ConfigItem(context.Background(), "U64 Specific Settings", "System Mode")
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, "C64", detail.Current)
}

func TestClient_SetConfigItem(t *testing.T) {
	srv := NewMockServer()
	defer srv.Close()

	c := New(srv.URL)
	res, err := c.SetConfigItem(context.Background(), "Network Settings", "Hostname", "breadbin")
	require.NoError(t, err)
	require.True(t, res.OK())

	detail, res, err := c.ConfigItem(context.Background(), "Network Settings", "Hostname")
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, "breadbin", detail.Current)
}

func TestClient_ConfigItemBadBodyIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, _, err := c.ConfigItem(context.Background(), "Network Settings", "Hostname")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadResponse)
}
