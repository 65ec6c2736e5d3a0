// SPDX-License-Identifier: MIT

package trace

import (
	"context"

	"github.com/chrisgleissner/c64bridge/internal/faults"
	xlog "github.com/chrisgleissner/c64bridge/internal/log"
)

// RunAction wraps one observable user- or system-triggered action. It mints
// (or inherits) a correlation ID, emits action-start, runs fn with the
// correlation ambient for any nested REST/FTP calls, and emits a matching
// action-end with the outcome classification.
func (r *Recorder) RunAction(ctx context.Context, name, source string, fn func(ctx context.Context) error) error {
	ctx, cid := r.EnsureCorrelation(ctx)
	ctx = xlog.ContextWithAction(ctx, name)

	r.Append(ctx, TypeActionStart, source, map[string]any{
		"action": name,
		"source": source,
	})

	err := fn(ctx)

	end := map[string]any{
		"action":  name,
		"source":  source,
		"outcome": "success",
	}
	if err != nil {
		cls := faults.Classify(err)
		end["outcome"] = "failure"
		end["category"] = string(cls.Category)
		end["isExpected"] = cls.Expected
		end["error"] = err.Error()
	}
	r.Append(ctx, TypeActionEnd, source, end)

	logger := xlog.WithComponentFromContext(ctx, "trace")
	if err != nil && !faults.Expected(err) {
		logger.Warn().
			Str("event", "action.failed").
			Str("action", name).
			Str("correlation_id", cid).
			Err(err).
			Msg("traced action failed")
	} else {
		logger.Debug().
			Str("event", "action.completed").
			Str("action", name).
			Str("correlation_id", cid).
			Msg("traced action completed")
	}
	return err
}

// BeginScope opens a nested sub-correlation inside a running action. The
// outer correlation ID stays ambient, so REST/FTP events emitted inside the
// scope still carry it; the scope's own ID is recorded on the scope events
// for cross-referencing. The returned end function closes the scope.
func (r *Recorder) BeginScope(ctx context.Context, name string) (context.Context, func(err error)) {
	ctx, parent := r.EnsureCorrelation(ctx)
	scopeID := r.counters.NextCorrelationID()

	r.Append(ctx, TypeScopeStart, name, map[string]any{
		"scope":    name,
		"scopeId":  scopeID,
		"parentId": parent,
	})

	end := func(err error) {
		data := map[string]any{
			"scope":    name,
			"scopeId":  scopeID,
			"parentId": parent,
			"outcome":  "success",
		}
		if err != nil {
			cls := faults.Classify(err)
			data["outcome"] = "failure"
			data["category"] = string(cls.Category)
			data["isExpected"] = cls.Expected
		}
		r.Append(ctx, TypeScopeEnd, name, data)
	}
	return ctx, end
}

// RecordError appends a classified error event.
func (r *Recorder) RecordError(ctx context.Context, origin string, err error) {
	if err == nil {
		return
	}
	cls := faults.Classify(err)
	r.Append(ctx, TypeError, origin, map[string]any{
		"error":      err.Error(),
		"category":   string(cls.Category),
		"isExpected": cls.Expected,
		"errorType":  cls.ErrorType,
	})
}
