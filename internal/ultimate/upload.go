// SPDX-License-Identifier: MIT

package ultimate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
)

// buildMultipart assembles a single-file multipart body.
func buildMultipart(fieldName, filename string, data io.Reader) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(fieldName, filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// RunPRG uploads and runs a PRG via POST /v1/runners:run_prg. Uploads go
// through the dedicated multipart transport path.
func (c *Client) RunPRG(ctx context.Context, filename string, data io.Reader) (Result, error) {
	body, contentType, err := buildMultipart("file", filename, data)
	if err != nil {
		return Result{}, &DeviceError{Sentinel: ErrBadResponse, Operation: "run_prg", Err: err}
	}
	return c.do(ctx, "run_prg", http.MethodPost, "/v1/runners:run_prg", nil, contentType, body, c.upload)
}

// SIDPlay uploads and plays a SID tune via POST /v1/runners:sidplay.
// songNr selects the subsong; zero plays the default.
func (c *Client) SIDPlay(ctx context.Context, filename string, data io.Reader, songNr int) (Result, error) {
	body, contentType, err := buildMultipart("file", filename, data)
	if err != nil {
		return Result{}, &DeviceError{Sentinel: ErrBadResponse, Operation: "sidplay", Err: err}
	}
	var q url.Values
	if songNr > 0 {
		q = url.Values{"songnr": {fmt.Sprintf("%d", songNr)}}
	}
	return c.do(ctx, "sidplay", http.MethodPost, "/v1/runners:sidplay", q, contentType, body, c.upload)
}

// MountDisk uploads and mounts a disk image on the given drive via
// POST /v1/drives/{drive}:mount. imageType is e.g. "d64", mode is
// "readwrite", "readonly" or "unlinked".
func (c *Client) MountDisk(ctx context.Context, drive, filename string, data io.Reader, imageType, mode string) (Result, error) {
	body, contentType, err := buildMultipart("file", filename, data)
	if err != nil {
		return Result{}, &DeviceError{Sentinel: ErrBadResponse, Operation: "mount", Err: err}
	}
	q := url.Values{}
	if imageType != "" {
		q.Set("type", imageType)
	}
	if mode != "" {
		q.Set("mode", mode)
	}
	path := "/v1/drives/" + url.PathEscape(drive) + ":mount"
	return c.do(ctx, "mount", http.MethodPost, path, q, contentType, body, c.upload)
}
