// SPDX-License-Identifier: MIT

package mockdev

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisgleissner/c64bridge/internal/ultimate"
)

func TestServer_StartServeStop(t *testing.T) {
	s := New()
	info, err := s.StartServer(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, info.BaseURL)
	assert.Equal(t, 0, info.FTPPort, "the demo backend does not emulate FTP")

	client := ultimate.New(info.BaseURL)
	ver, res, err := client.Version(context.Background())
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Contains(t, ver.Version, "demo")

	devInfo, res, err := client.Info(context.Background())
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, "Ultimate 64 (demo)", devInfo.Product)

	require.NoError(t, s.StopServer(context.Background()))
	assert.Empty(t, s.BaseURL())
	// Stop is idempotent.
	require.NoError(t, s.StopServer(context.Background()))
}

func TestServer_StartIsIdempotentWhileRunning(t *testing.T) {
	s := New()
	first, err := s.StartServer(context.Background())
	require.NoError(t, err)
	defer func() { _ = s.StopServer(context.Background()) }()

	second, err := s.StartServer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.BaseURL, second.BaseURL)
}

func TestServer_MemoryRoundTrip(t *testing.T) {
	s := New()
	info, err := s.StartServer(context.Background())
	require.NoError(t, err)
	defer func() { _ = s.StopServer(context.Background()) }()

	client := ultimate.New(info.BaseURL)
	payload := []byte{0xA9, 0x00, 0x8D, 0x20, 0xD0}

	res, err := client.WriteMem(context.Background(), 0x0400, payload)
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, payload, s.Memory(0x0400, len(payload)))

	read, err := client.ReadMem(context.Background(), 0x0400, len(payload))
	require.NoError(t, err)
	require.True(t, read.OK())
	assert.Equal(t, payload, read.Body)
}

func TestServer_ConfigSurface(t *testing.T) {
	s := New()
	info, err := s.StartServer(context.Background())
	require.NoError(t, err)
	defer func() { _ = s.StopServer(context.Background()) }()

	client := ultimate.New(info.BaseURL)

	cats, res, err := client.ConfigCategoryNames(context.Background())
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Contains(t, cats.Categories, "Network Settings")

	items, res, err := client.ConfigCategory(context.Background(), "Network Settings")
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, "demo64", items["Host Name"])

	res, err = client.SetConfigItem(context.Background(), "Network Settings", "Host Name", "breadbin")
	require.NoError(t, err)
	require.True(t, res.OK())

	items, _, err = client.ConfigCategory(context.Background(), "Network Settings")
	require.NoError(t, err)
	assert.Equal(t, "breadbin", items["Host Name"])

	// Item detail carries the device's nested shape.
	detail, res, err := client.ConfigItem(context.Background(), "Network Settings", "Host Name")
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, "breadbin", detail.Current)

	detail, res, err = client.ConfigItem(context.Background(), "SID Sockets Configuration", "SID in Socket 1")
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, "8580", detail.Current)
	assert.Contains(t, detail.Options, "6581")
}

func TestServer_Drives(t *testing.T) {
	s := New()
	info, err := s.StartServer(context.Background())
	require.NoError(t, err)
	defer func() { _ = s.StopServer(context.Background()) }()

	client := ultimate.New(info.BaseURL)
	drives, res, err := client.Drives(context.Background())
	require.NoError(t, err)
	require.True(t, res.OK())
	require.Len(t, drives.Drives, 2)

	a, ok := drives.Drives[0]["a"]
	require.True(t, ok, "drive entries are keyed by drive letter")
	assert.True(t, a.Enabled)
	assert.Equal(t, 8, a.BusID)
	assert.Equal(t, "1541", a.Type)
}

func TestServer_MachineControls(t *testing.T) {
	s := New()
	info, err := s.StartServer(context.Background())
	require.NoError(t, err)
	defer func() { _ = s.StopServer(context.Background()) }()

	client := ultimate.New(info.BaseURL)

	res, err := client.Pause(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK())

	res, err = client.Resume(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK())

	// Reset clears memory.
	_, err = client.WriteMem(context.Background(), 0x1000, []byte{0xFF})
	require.NoError(t, err)
	res, err = client.Reset(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, []byte{0x00}, s.Memory(0x1000, 1))
}
