// SPDX-License-Identifier: MIT

package connection

import (
	"context"
	"fmt"

	"github.com/chrisgleissner/c64bridge/internal/trace"
	"github.com/chrisgleissner/c64bridge/internal/ultimate"
)

// MockInfo describes a running mock backend.
type MockInfo struct {
	BaseURL string
	FTPPort int
}

// MockBackend is the demo backend collaborator. It exposes the same /v1 REST
// surface as the real device; the manager treats it as just another target.
type MockBackend interface {
	StartServer(ctx context.Context) (MockInfo, error)
	StopServer(ctx context.Context) error
}

// Prober performs one bounded round trip against a candidate base URL and
// returns the device identity on success.
type Prober func(ctx context.Context, baseURL string) (*ultimate.DeviceInfo, error)

// DefaultProber probes /v1/version followed by /v1/info using a throwaway
// device client. A non-2xx version response counts as unreachable: the
// endpoint answered, but not as a device we can drive.
func DefaultProber(password string, rec *trace.Recorder) Prober {
	return func(ctx context.Context, baseURL string) (*ultimate.DeviceInfo, error) {
		opts := []ultimate.Option{ultimate.WithPassword(password)}
		if rec != nil {
			opts = append(opts, ultimate.WithRecorder(rec))
		}
		client := ultimate.New(baseURL, opts...)

		ver, res, err := client.Version(ctx)
		if err != nil {
			return nil, err
		}
		if !res.OK() {
			return nil, fmt.Errorf("connection: probe %s: HTTP %d", baseURL, res.Status)
		}

		info, infoRes, err := client.Info(ctx)
		if err != nil {
			return nil, err
		}
		if !infoRes.OK() {
			// Version answered but info did not; keep what we have.
			info = ultimate.DeviceInfo{}
		}
		if info.FirmwareVersion == "" {
			info.FirmwareVersion = ver.Version
		}
		return &info, nil
	}
}
