// SPDX-License-Identifier: MIT

package ultimate

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary. Only transport
	// failures surface as errors; HTTP-level error statuses are data.
	ErrUnreachable = errors.New("device: host unreachable or transport failure")
	ErrTimeout     = errors.New("device: request timed out")
	ErrCancelled   = errors.New("device: request cancelled")
	ErrBadResponse = errors.New("device: invalid response format or malformed data")
)

// DeviceError wraps the sentinel errors with operation context.
type DeviceError struct {
	Sentinel  error
	Operation string
	Err       error // nested lower-level error (e.g. net.Error)
}

func (e *DeviceError) Error() string {
	msg := fmt.Sprintf("ultimate: %s: %v", e.Operation, e.Sentinel)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DeviceError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Sentinel
}

// Is lets errors.Is match both the sentinel and the nested error.
func (e *DeviceError) Is(target error) bool {
	return errors.Is(e.Sentinel, target) || errors.Is(e.Err, target)
}
