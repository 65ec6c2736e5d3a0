// SPDX-License-Identifier: MIT

// Package faults classifies raw errors into a small, stable taxonomy used for
// retry/fallback decisions and user-facing messaging. Classification is
// derived data: it is recomputed per error and never stored on the error.
package faults

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"
	"syscall"
)

// Category is the failure category of a classified error.
type Category string

const (
	CategoryNetwork     Category = "network"
	CategoryTimeout     Category = "timeout"
	CategoryCancelled   Category = "cancelled"
	CategoryUser        Category = "user"
	CategoryIntegration Category = "integration"
	CategoryStorage     Category = "storage"
	CategoryUnknown     Category = "unknown"
)

// Sentinels callers can wrap to force a specific category.
var (
	ErrUserDeclined = errors.New("declined by user")
	ErrIntegration  = errors.New("platform integration failure")
)

// Classification is the result of classifying a single error.
type Classification struct {
	Category  Category `json:"category"`
	Expected  bool     `json:"isExpected"`
	ErrorType string   `json:"errorType"`
}

// Classify maps err onto the taxonomy. Expected is true for categories that
// must not surface as alarming failures (cancelled, user).
func Classify(err error) Classification {
	c := Classification{Category: CategoryUnknown}
	if err == nil {
		return c
	}
	c.ErrorType = fmt.Sprintf("%T", err)

	switch {
	case errors.Is(err, context.Canceled):
		c.Category = CategoryCancelled
	case errors.Is(err, context.DeadlineExceeded):
		c.Category = CategoryTimeout
	case errors.Is(err, ErrUserDeclined), errors.Is(err, os.ErrPermission):
		c.Category = CategoryUser
	case errors.Is(err, ErrIntegration):
		c.Category = CategoryIntegration
	case isStorage(err):
		c.Category = CategoryStorage
	case isTimeout(err):
		c.Category = CategoryTimeout
	case isNetwork(err):
		c.Category = CategoryNetwork
	}

	c.Expected = c.Category == CategoryCancelled || c.Category == CategoryUser
	return c
}

// Expected reports whether err classifies into an expected category.
func Expected(err error) bool {
	return Classify(err).Expected
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	// http.Client wraps context deadline errors with free-form text on some
	// paths; keep a substring fallback for those.
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

func isNetwork(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host")
}

func isStorage(err error) bool {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return true
	}
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT)
}
