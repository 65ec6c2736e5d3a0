// SPDX-License-Identifier: MIT

package trace

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters_MonotonicIDs(t *testing.T) {
	c := NewCounters(0)
	assert.Equal(t, "EVT-0001", c.NextEventID())
	assert.Equal(t, "EVT-0002", c.NextEventID())
	assert.Equal(t, "COR-0001", c.NextCorrelationID())
	assert.Equal(t, "COR-0002", c.NextCorrelationID())

	c.Reset(41)
	assert.Equal(t, "EVT-0042", c.NextEventID())
}

func TestRecorder_AppendAssignsIDsAndRedacts(t *testing.T) {
	r := NewRecorder(WithCounters(NewCounters(0)))

	ev := r.Append(context.Background(), TypeRESTRequest, "rest", map[string]any{
		"method":   "PUT",
		"password": "secret64",
	})

	assert.Equal(t, "EVT-0001", ev.ID)
	assert.Equal(t, TypeRESTRequest, ev.Type)
	assert.Equal(t, Marker, ev.Data["password"])
	assert.Equal(t, "PUT", ev.Data["method"])

	got := r.Events()
	require.Len(t, got, 1)
	assert.Equal(t, ev.ID, got[0].ID)
}

func TestRecorder_RingDropsOldest(t *testing.T) {
	r := NewRecorder(WithCapacity(3), WithCounters(NewCounters(0)))

	for i := 0; i < 5; i++ {
		r.Append(context.Background(), TypeError, "test", map[string]any{"i": i})
	}

	events := r.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "EVT-0003", events[0].ID)
	assert.Equal(t, "EVT-0005", events[2].ID)
}

func TestRecorder_EventsByType(t *testing.T) {
	r := NewRecorder()
	r.Append(context.Background(), TypeRESTRequest, "rest", nil)
	r.Append(context.Background(), TypeRESTResponse, "rest", nil)
	r.Append(context.Background(), TypeFTPOperation, "ftp", nil)

	rest := r.EventsByType(TypeRESTRequest, TypeRESTResponse)
	require.Len(t, rest, 2)
	ftp := r.EventsByType(TypeFTPOperation)
	require.Len(t, ftp, 1)
	assert.Equal(t, "ftp", ftp[0].Origin)
}

func TestRecorder_EnsureCorrelation(t *testing.T) {
	r := NewRecorder(WithCounters(NewCounters(0)))

	ctx, cid := r.EnsureCorrelation(context.Background())
	assert.Equal(t, "COR-0001", cid)

	// An ambient correlation is preserved, not replaced.
	ctx2, cid2 := r.EnsureCorrelation(ctx)
	assert.Equal(t, cid, cid2)
	assert.Equal(t, ctx, ctx2)

	ev := r.Append(ctx, TypeError, "test", nil)
	assert.Equal(t, "COR-0001", ev.CorrelationID)
}

func TestRecorder_ContextProviderMergedIntoData(t *testing.T) {
	r := NewRecorder(WithContextProvider(func() EventContext {
		return EventContext{
			LifecycleState: "foreground",
			SourceKind:     "playlist",
			TrackInstance:  "ti-7",
			PlaylistItem:   "pi-3",
		}
	}))

	ev := r.Append(context.Background(), TypeActionStart, "ui", map[string]any{"action": "play"})
	assert.Equal(t, "foreground", ev.Data["lifecycleState"])
	assert.Equal(t, "playlist", ev.Data["sourceKind"])
	assert.Equal(t, "ti-7", ev.Data["trackInstanceId"])
	assert.Equal(t, "pi-3", ev.Data["playlistItemId"])
	assert.Equal(t, "play", ev.Data["action"])
}

func TestRecorder_RelativeTimestamps(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewRecorder(WithClockFunc(func() time.Time { return now }))

	now = now.Add(1500 * time.Millisecond)
	ev := r.Append(context.Background(), TypeError, "test", nil)
	assert.Equal(t, int64(1500), ev.RelativeMs)
}

func TestRecorder_Subscribe(t *testing.T) {
	r := NewRecorder()
	ch, unsubscribe := r.Subscribe()

	sent := r.Append(context.Background(), TypeConnection, "connection", map[string]any{"state": "DEMO_ACTIVE"})

	select {
	case got := <-ch:
		assert.Equal(t, sent.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("no event delivered to subscriber")
	}

	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
}

func TestRunAction_EmitsStartAndEnd(t *testing.T) {
	r := NewRecorder(WithCounters(NewCounters(0)))

	err := r.RunAction(context.Background(), "play-sid", "ui", func(ctx context.Context) error {
		r.Append(ctx, TypeRESTRequest, "rest", map[string]any{"path": "/v1/runners:sidplay"})
		return nil
	})
	require.NoError(t, err)

	events := r.Events()
	require.Len(t, events, 3)
	assert.Equal(t, TypeActionStart, events[0].Type)
	assert.Equal(t, TypeRESTRequest, events[1].Type)
	assert.Equal(t, TypeActionEnd, events[2].Type)

	// All three share the action's correlation ID.
	cid := events[0].CorrelationID
	require.NotEmpty(t, cid)
	assert.Equal(t, cid, events[1].CorrelationID)
	assert.Equal(t, cid, events[2].CorrelationID)
	assert.Equal(t, "success", events[2].Data["outcome"])
}

func TestRunAction_FailureClassified(t *testing.T) {
	r := NewRecorder()

	err := r.RunAction(context.Background(), "mount-disk", "ui", func(context.Context) error {
		return fmt.Errorf("wrapped: %w", context.DeadlineExceeded)
	})
	require.Error(t, err)

	end := r.EventsByType(TypeActionEnd)
	require.Len(t, end, 1)
	assert.Equal(t, "failure", end[0].Data["outcome"])
	assert.Equal(t, "timeout", end[0].Data["category"])
	assert.Equal(t, false, end[0].Data["isExpected"])
}

func TestBeginScope_PreservesOuterCorrelation(t *testing.T) {
	r := NewRecorder(WithCounters(NewCounters(0)))

	_ = r.RunAction(context.Background(), "load-playlist", "ui", func(ctx context.Context) error {
		scopeCtx, end := r.BeginScope(ctx, "resolve-track")
		r.Append(scopeCtx, TypeRESTRequest, "rest", map[string]any{"path": "/v1/info"})
		end(nil)
		return nil
	})

	events := r.Events()
	require.Len(t, events, 5) // action-start, scope-start, rest-request, scope-end, action-end

	outer := events[0].CorrelationID
	require.NotEmpty(t, outer)
	for _, ev := range events {
		assert.Equal(t, outer, ev.CorrelationID, "event %s must keep the outer correlation", ev.Type)
	}

	scopeStart := events[1]
	assert.Equal(t, TypeScopeStart, scopeStart.Type)
	assert.Equal(t, outer, scopeStart.Data["parentId"])
	assert.NotEqual(t, outer, scopeStart.Data["scopeId"])
}
