// SPDX-License-Identifier: MIT

package trace

import (
	"context"
	"sync"
	"time"

	xlog "github.com/chrisgleissner/c64bridge/internal/log"
	"github.com/chrisgleissner/c64bridge/internal/metrics"
)

const defaultCapacity = 2000

// Recorder is the single writer of the process-wide trace log. Events are
// appended through Append only; readers get copies. Retention is a bounded
// ring: the oldest events are dropped once capacity is reached.
type Recorder struct {
	mu        sync.Mutex
	events    []Event
	capacity  int
	counters  *Counters
	start     time.Time
	clock     func() time.Time
	contextFn ContextProvider

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithCapacity overrides the ring capacity.
func WithCapacity(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// WithCounters injects a counter set (deterministic IDs in tests).
func WithCounters(c *Counters) RecorderOption {
	return func(r *Recorder) { r.counters = c }
}

// WithClockFunc injects a time source.
func WithClockFunc(fn func() time.Time) RecorderOption {
	return func(r *Recorder) { r.clock = fn }
}

// WithContextProvider wires the ambient application context captured on
// every event.
func WithContextProvider(fn ContextProvider) RecorderOption {
	return func(r *Recorder) { r.contextFn = fn }
}

// NewRecorder creates an empty trace recorder.
func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{
		capacity: defaultCapacity,
		counters: NewCounters(0),
		clock:    time.Now,
		subs:     make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.start = r.clock()
	return r
}

// Counters exposes the recorder's ID state (shared with action scopes).
func (r *Recorder) Counters() *Counters { return r.counters }

// EnsureCorrelation returns ctx carrying a correlation ID: the ambient one if
// present, otherwise a freshly minted one.
func (r *Recorder) EnsureCorrelation(ctx context.Context) (context.Context, string) {
	if cid := xlog.CorrelationIDFromContext(ctx); cid != "" {
		return ctx, cid
	}
	cid := r.counters.NextCorrelationID()
	return xlog.ContextWithCorrelationID(ctx, cid), cid
}

// Append records one event. The payload is redacted before retention; the
// ambient EventContext fields are merged into the redacted data. The stored
// event is returned.
func (r *Recorder) Append(ctx context.Context, eventType, origin string, data map[string]any) Event {
	now := r.clock()

	redacted, _ := Payload(data).(map[string]any)
	if redacted == nil {
		redacted = make(map[string]any, 4)
	}
	ec := EventContext{}
	if r.contextFn != nil {
		ec = r.contextFn()
	}
	redacted["lifecycleState"] = ec.LifecycleState
	redacted["sourceKind"] = ec.SourceKind
	redacted["trackInstanceId"] = ec.TrackInstance
	redacted["playlistItemId"] = ec.PlaylistItem

	ev := Event{
		ID:            r.counters.NextEventID(),
		Timestamp:     now,
		RelativeMs:    now.Sub(r.start).Milliseconds(),
		Type:          eventType,
		Origin:        origin,
		CorrelationID: xlog.CorrelationIDFromContext(ctx),
		Data:          redacted,
	}

	r.mu.Lock()
	if len(r.events) >= r.capacity {
		drop := len(r.events) - r.capacity + 1
		r.events = r.events[drop:]
		for i := 0; i < drop; i++ {
			metrics.RecordTraceEventDropped()
		}
	}
	r.events = append(r.events, ev)
	r.mu.Unlock()

	metrics.RecordTraceEvent(eventType)
	r.broadcast(ev)
	return ev
}

// Events returns a copy of the retained event log, oldest first.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// EventsByType returns retained events whose type is in types.
func (r *Recorder) EventsByType(types ...string) []Event {
	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if want[ev.Type] {
			out = append(out, ev)
		}
	}
	return out
}

// Len returns the number of retained events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Subscribe registers a live event listener. The returned channel receives
// every appended event until unsubscribe is called; slow consumers have
// events dropped rather than blocking the writer.
func (r *Recorder) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	r.subMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	r.subMu.Unlock()

	unsubscribe := func() {
		r.subMu.Lock()
		if existing, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(existing)
		}
		r.subMu.Unlock()
	}
	return ch, unsubscribe
}

func (r *Recorder) broadcast(ev Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
