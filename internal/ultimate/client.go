// SPDX-License-Identifier: MIT

// Package ultimate is the REST client for the device's versioned /v1 API.
// Completed HTTP exchanges are returned as data regardless of status; only
// transport failures (DNS, refused connection, timeout, cancellation) are
// errors, classified via the failure taxonomy.
package ultimate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chrisgleissner/c64bridge/internal/admission"
	xlog "github.com/chrisgleissner/c64bridge/internal/log"
	"github.com/chrisgleissner/c64bridge/internal/metrics"
	"github.com/chrisgleissner/c64bridge/internal/trace"
)

const maxBodyBytes = 8 << 20

// TransportConfig tunes the pooled HTTP transport used for JSON calls.
type TransportConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleTimeout         time.Duration
}

// DefaultTransportConfig mirrors conservative defaults for a single embedded
// HTTP server peer.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		MaxConnsPerHost:     8,
		IdleTimeout:         90 * time.Second,
	}
}

// Client issues typed HTTP requests against the device's /v1 API.
type Client struct {
	base     string
	password string
	http     *http.Client
	upload   *http.Client
	rec      *trace.Recorder
	sem      *admission.Semaphore
}

// Option configures a Client.
type Option func(*Client)

// WithPassword sets the X-Password header sent on every request.
func WithPassword(pw string) Option {
	return func(c *Client) { c.password = pw }
}

// WithTimeout overrides the per-request timeout (default 10s).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
			c.upload.Timeout = 3 * d
		}
	}
}

// WithRecorder wires trace event emission.
func WithRecorder(r *trace.Recorder) Option {
	return func(c *Client) { c.rec = r }
}

// WithSemaphore bounds concurrent in-flight requests against the device.
func WithSemaphore(s *admission.Semaphore) Option {
	return func(c *Client) { c.sem = s }
}

// WithTransportConfig tunes the pooled JSON transport.
func WithTransportConfig(tc TransportConfig) Option {
	return func(c *Client) {
		c.http.Transport = &http.Transport{
			MaxIdleConns:        tc.MaxIdleConns,
			MaxIdleConnsPerHost: tc.MaxIdleConnsPerHost,
			MaxConnsPerHost:     tc.MaxConnsPerHost,
			IdleConnTimeout:     tc.IdleTimeout,
		}
	}
}

// New creates a device client for the given base URL.
func New(base string, opts ...Option) *Client {
	tc := DefaultTransportConfig()
	c := &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        tc.MaxIdleConns,
				MaxIdleConnsPerHost: tc.MaxIdleConnsPerHost,
				MaxConnsPerHost:     tc.MaxConnsPerHost,
				IdleConnTimeout:     tc.IdleTimeout,
			},
		},
		// Multipart uploads get their own transport path: no connection
		// pooling with the JSON calls and a longer timeout, since the device
		// stalls its HTTP stack while consuming large bodies.
		upload: &http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{DisableKeepAlives: true},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured device base URL.
func (c *Client) BaseURL() string { return c.base }

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, contentType string, body io.Reader, client *http.Client) (Result, error) {
	if c.sem != nil {
		release, err := c.sem.Acquire(ctx)
		if err != nil {
			return Result{}, &DeviceError{Sentinel: ErrCancelled, Operation: op, Err: err}
		}
		defer release()
	}

	cid := xlog.CorrelationIDFromContext(ctx)
	if c.rec != nil {
		ctx, cid = c.rec.EnsureCorrelation(ctx)
		c.rec.Append(ctx, trace.TypeRESTRequest, "ultimate", map[string]any{
			"operation": op,
			"method":    method,
			"path":      path,
		})
	}

	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return Result{}, &DeviceError{Sentinel: ErrBadResponse, Operation: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.password != "" {
		req.Header.Set("X-Password", c.password)
	}

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		derr := c.transportError(ctx, op, err)
		outcome := "transport_error"
		if errors.Is(derr, ErrCancelled) {
			outcome = "cancelled"
		}
		metrics.ObserveRESTRequest(op, outcome, latency.Seconds())
		if c.rec != nil {
			c.rec.RecordError(ctx, "ultimate", derr)
		}
		return Result{}, derr
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		derr := c.transportError(ctx, op, err)
		metrics.ObserveRESTRequest(op, "transport_error", latency.Seconds())
		if c.rec != nil {
			c.rec.RecordError(ctx, "ultimate", derr)
		}
		return Result{}, derr
	}

	res := Result{
		Status:        resp.StatusCode,
		Latency:       latency,
		CorrelationID: cid,
		Body:          data,
	}
	metrics.ObserveRESTRequest(op, "completed", latency.Seconds())
	if c.rec != nil {
		c.rec.Append(ctx, trace.TypeRESTResponse, "ultimate", map[string]any{
			"operation": op,
			"status":    res.Status,
			"latencyMs": latency.Milliseconds(),
		})
	}
	return res, nil
}

// transportError classifies a transport-level failure. Cancellation must
// never be reported as a network failure.
func (c *Client) transportError(ctx context.Context, op string, err error) error {
	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled):
		return &DeviceError{Sentinel: ErrCancelled, Operation: op, Err: context.Canceled}
	case isTimeout(err):
		return &DeviceError{Sentinel: ErrTimeout, Operation: op, Err: err}
	default:
		return &DeviceError{Sentinel: ErrUnreachable, Operation: op, Err: err}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Version fetches GET /v1/version. The VersionInfo is only populated on a
// 2xx response; the caller inspects Result.Status otherwise.
func (c *Client) Version(ctx context.Context) (VersionInfo, Result, error) {
	res, err := c.do(ctx, "version", http.MethodGet, "/v1/version", nil, "", nil, c.http)
	if err != nil {
		return VersionInfo{}, res, err
	}
	var v VersionInfo
	if res.OK() {
		if derr := res.Decode(&v); derr != nil {
			return VersionInfo{}, res, &DeviceError{Sentinel: ErrBadResponse, Operation: "version", Err: derr}
		}
	}
	return v, res, nil
}

// Info fetches GET /v1/info.
func (c *Client) Info(ctx context.Context) (DeviceInfo, Result, error) {
	res, err := c.do(ctx, "info", http.MethodGet, "/v1/info", nil, "", nil, c.http)
	if err != nil {
		return DeviceInfo{}, res, err
	}
	var info DeviceInfo
	if res.OK() {
		if derr := res.Decode(&info); derr != nil {
			return DeviceInfo{}, res, &DeviceError{Sentinel: ErrBadResponse, Operation: "info", Err: derr}
		}
	}
	return info, res, nil
}

// ConfigCategoryNames fetches GET /v1/configs.
func (c *Client) ConfigCategoryNames(ctx context.Context) (ConfigCategories, Result, error) {
	res, err := c.do(ctx, "configs", http.MethodGet, "/v1/configs", nil, "", nil, c.http)
	if err != nil {
		return ConfigCategories{}, res, err
	}
	var cats ConfigCategories
	if res.OK() {
		if derr := res.Decode(&cats); derr != nil {
			return ConfigCategories{}, res, &DeviceError{Sentinel: ErrBadResponse, Operation: "configs", Err: derr}
		}
	}
	return cats, res, nil
}

// ConfigCategory fetches GET /v1/configs/{category} and returns the items of
// that category. The device nests the item map under the category name.
func (c *Client) ConfigCategory(ctx context.Context, category string) (map[string]any, Result, error) {
	path := "/v1/configs/" + url.PathEscape(category)
	res, err := c.do(ctx, "config_category", http.MethodGet, path, nil, "", nil, c.http)
	if err != nil {
		return nil, res, err
	}
	if !res.OK() {
		return nil, res, nil
	}
	var payload map[string]any
	if derr := res.Decode(&payload); derr != nil {
		return nil, res, &DeviceError{Sentinel: ErrBadResponse, Operation: "config_category", Err: derr}
	}
	items, _ := payload[category].(map[string]any)
	return items, res, nil
}

// ConfigItem fetches GET /v1/configs/{category}/{item}.
func (c *Client) ConfigItem(ctx context.Context, category, item string) (ConfigItemDetail, Result, error) {
	path := "/v1/configs/" + url.PathEscape(category) + "/" + url.PathEscape(item)
	res, err := c.do(ctx, "config_item", http.MethodGet, path, nil, "", nil, c.http)
	if err != nil {
		return ConfigItemDetail{}, res, err
	}
	var detail ConfigItemDetail
	if res.OK() {
		// The errors envelope sits beside the category key, so decode in
		// two steps.
		var payload map[string]json.RawMessage
		if derr := res.Decode(&payload); derr != nil {
			return ConfigItemDetail{}, res, &DeviceError{Sentinel: ErrBadResponse, Operation: "config_item", Err: derr}
		}
		if raw, ok := payload[category]; ok {
			var items map[string]ConfigItemDetail
			if derr := json.Unmarshal(raw, &items); derr != nil {
				return ConfigItemDetail{}, res, &DeviceError{Sentinel: ErrBadResponse, Operation: "config_item", Err: derr}
			}
			detail = items[item]
		}
	}
	return detail, res, nil
}

// SetConfigItem writes one item via PUT /v1/configs/{category}/{item}?value=.
func (c *Client) SetConfigItem(ctx context.Context, category, item, value string) (Result, error) {
	path := "/v1/configs/" + url.PathEscape(category) + "/" + url.PathEscape(item)
	q := url.Values{"value": {value}}
	return c.do(ctx, "config_write", http.MethodPut, path, q, "", nil, c.http)
}

// ConfigSnapshot reads every category and its items, the bulk dump included
// in diagnostics bundles. Categories that answer non-2xx are skipped rather
// than failing the whole dump.
func (c *Client) ConfigSnapshot(ctx context.Context) (map[string]map[string]any, error) {
	cats, res, err := c.ConfigCategoryNames(ctx)
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return nil, &DeviceError{Sentinel: ErrBadResponse, Operation: "config_snapshot", Err: fmt.Errorf("HTTP %d", res.Status)}
	}

	snapshot := make(map[string]map[string]any, len(cats.Categories))
	for _, cat := range cats.Categories {
		items, itemRes, err := c.ConfigCategory(ctx, cat)
		if err != nil {
			return nil, err
		}
		if !itemRes.OK() {
			continue
		}
		snapshot[cat] = items
	}
	return snapshot, nil
}

// Drives fetches GET /v1/drives.
func (c *Client) Drives(ctx context.Context) (DriveList, Result, error) {
	res, err := c.do(ctx, "drives", http.MethodGet, "/v1/drives", nil, "", nil, c.http)
	if err != nil {
		return DriveList{}, res, err
	}
	var drives DriveList
	if res.OK() {
		if derr := res.Decode(&drives); derr != nil {
			return DriveList{}, res, &DeviceError{Sentinel: ErrBadResponse, Operation: "drives", Err: derr}
		}
	}
	return drives, res, nil
}

// Pause halts the machine via PUT /v1/machine:pause.
func (c *Client) Pause(ctx context.Context) (Result, error) {
	return c.do(ctx, "machine_pause", http.MethodPut, "/v1/machine:pause", nil, "", nil, c.http)
}

// Resume continues the machine via PUT /v1/machine:resume.
func (c *Client) Resume(ctx context.Context) (Result, error) {
	return c.do(ctx, "machine_resume", http.MethodPut, "/v1/machine:resume", nil, "", nil, c.http)
}

// Reset resets the machine via PUT /v1/machine:reset.
func (c *Client) Reset(ctx context.Context) (Result, error) {
	return c.do(ctx, "machine_reset", http.MethodPut, "/v1/machine:reset", nil, "", nil, c.http)
}

// ReadMem reads length bytes of machine memory starting at address. The
// response body is raw binary.
func (c *Client) ReadMem(ctx context.Context, address uint16, length int) (Result, error) {
	q := url.Values{
		"address": {fmt.Sprintf("%04X", address)},
		"length":  {fmt.Sprintf("%d", length)},
	}
	return c.do(ctx, "machine_readmem", http.MethodGet, "/v1/machine:readmem", q, "", nil, c.http)
}

// WriteMem writes data to machine memory at address. Used for single
// register pokes (e.g. SID writes) as well as small block transfers.
func (c *Client) WriteMem(ctx context.Context, address uint16, data []byte) (Result, error) {
	hexData := make([]byte, 0, len(data)*2)
	for _, b := range data {
		hexData = append(hexData, []byte(fmt.Sprintf("%02X", b))...)
	}
	q := url.Values{
		"address": {fmt.Sprintf("%04X", address)},
		"data":    {string(hexData)},
	}
	return c.do(ctx, "machine_writemem", http.MethodPut, "/v1/machine:writemem", q, "", nil, c.http)
}
