// SPDX-License-Identifier: MIT

package trace

import (
	"net/http"
	"regexp"
	"strings"
)

// Redaction markers. Redaction is irreversible and unconditional on any path
// that retains or exports trace data.
const (
	Marker      = "***"
	RedactedURI = "<redacted-uri>"
)

var sensitiveKey = regexp.MustCompile(`(?i)password|token|authorization|secret|credential|cookie`)

var uriSchemes = []string{
	"file://",
	"content://",
	"capacitor://",
	"blob:",
}

var localPathPrefixes = []string{
	"/storage/",
	"/data/user/",
	"/data/data/",
	"/var/mobile/",
	"/private/var/",
}

// SensitiveKey reports whether a header or field name must be redacted
// (case-insensitive substring match).
func SensitiveKey(key string) bool {
	return sensitiveKey.MatchString(key)
}

// LooksLikeURI reports whether a value resembles a local filesystem or
// content URI and must therefore be abbreviated rather than emitted verbatim.
func LooksLikeURI(v string) bool {
	lower := strings.ToLower(v)
	for _, s := range uriSchemes {
		if strings.HasPrefix(lower, s) {
			return true
		}
	}
	for _, p := range localPathPrefixes {
		if strings.HasPrefix(v, p) {
			return true
		}
	}
	return false
}

// Payload returns a redacted deep copy of v. Maps and slices are walked
// recursively; the input is never modified. Values under sensitive keys
// become Marker, URI-looking string values become RedactedURI.
func Payload(v any) any {
	return redactValue(v, false)
}

func redactValue(v any, sensitive bool) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, val := range tv {
			if SensitiveKey(k) {
				out[k] = Marker
				continue
			}
			out[k] = redactValue(val, false)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, val := range tv {
			out[i] = redactValue(val, sensitive)
		}
		return out
	case string:
		if sensitive {
			return Marker
		}
		if LooksLikeURI(tv) {
			return RedactedURI
		}
		return tv
	default:
		return v
	}
}

// Headers returns a redacted copy of HTTP headers suitable for trace data.
func Headers(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, vals := range h {
		if SensitiveKey(k) {
			out[k] = Marker
			continue
		}
		out[k] = strings.Join(vals, ", ")
	}
	return out
}
