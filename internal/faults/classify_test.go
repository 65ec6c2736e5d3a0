// SPDX-License-Identifier: MIT

package faults

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantCategory Category
		wantExpected bool
	}{
		{
			name:         "nil",
			err:          nil,
			wantCategory: CategoryUnknown,
		},
		{
			name:         "context_cancelled",
			err:          context.Canceled,
			wantCategory: CategoryCancelled,
			wantExpected: true,
		},
		{
			name:         "wrapped_cancelled",
			err:          fmt.Errorf("request aborted: %w", context.Canceled),
			wantCategory: CategoryCancelled,
			wantExpected: true,
		},
		{
			name:         "deadline_exceeded",
			err:          context.DeadlineExceeded,
			wantCategory: CategoryTimeout,
		},
		{
			name:         "user_declined",
			err:          fmt.Errorf("save dialog: %w", ErrUserDeclined),
			wantCategory: CategoryUser,
			wantExpected: true,
		},
		{
			name:         "integration",
			err:          fmt.Errorf("share sheet: %w", ErrIntegration),
			wantCategory: CategoryIntegration,
		},
		{
			name:         "connection_refused",
			err:          &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED},
			wantCategory: CategoryNetwork,
		},
		{
			name:         "dns_failure",
			err:          &net.DNSError{Err: "no such host", Name: "c64u"},
			wantCategory: CategoryNetwork,
		},
		{
			name:         "path_error",
			err:          &fs.PathError{Op: "open", Path: "/tmp/x", Err: syscall.ENOENT},
			wantCategory: CategoryStorage,
		},
		{
			name:         "disk_full",
			err:          fmt.Errorf("write trace: %w", syscall.ENOSPC),
			wantCategory: CategoryStorage,
		},
		{
			name:         "opaque",
			err:          errors.New("something odd"),
			wantCategory: CategoryUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.err)
			assert.Equal(t, tt.wantCategory, c.Category)
			assert.Equal(t, tt.wantExpected, c.Expected)
			if tt.err != nil {
				assert.NotEmpty(t, c.ErrorType)
			}
		})
	}
}

func TestClassify_TimeoutFromNetError(t *testing.T) {
	err := &net.OpError{Op: "read", Err: &timeoutErr{}}
	c := Classify(err)
	assert.Equal(t, CategoryTimeout, c.Category)
	assert.False(t, c.Expected)
}

func TestExpected(t *testing.T) {
	assert.True(t, Expected(context.Canceled))
	assert.True(t, Expected(ErrUserDeclined))
	assert.False(t, Expected(errors.New("boom")))
}

type timeoutErr struct{}

func (*timeoutErr) Error() string   { return "i/o timeout" }
func (*timeoutErr) Timeout() bool   { return true }
func (*timeoutErr) Temporary() bool { return true }
