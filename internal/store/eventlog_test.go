package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendEvent_AssignsIncreasingSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	el := NewEventLog(s)

	for i := 0; i < 3; i++ {
		e := &Event{UserID: "u1", AutomationID: "a1", Type: "node_executed"}
		require.NoError(t, el.AppendEvent(ctx, e))
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

func TestAppendEvent_SequencesAreIndependentPerPair(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	el := NewEventLog(s)

	e1 := &Event{UserID: "u1", AutomationID: "a1", Type: "poll_tick_started"}
	e2 := &Event{UserID: "u2", AutomationID: "a1", Type: "poll_tick_started"}
	require.NoError(t, el.AppendEvent(ctx, e1))
	require.NoError(t, el.AppendEvent(ctx, e2))

	assert.Equal(t, int64(1), e1.Sequence)
	assert.Equal(t, int64(1), e2.Sequence)
}

func TestGetEvents_ReturnsOnlyEventsAfterSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	el := NewEventLog(s)

	for i := 0; i < 4; i++ {
		require.NoError(t, el.AppendEvent(ctx, &Event{UserID: "u1", AutomationID: "a1", Type: "node_executed"}))
	}

	events, err := el.GetEvents(ctx, "u1", "a1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(3), events[0].Sequence)
	assert.Equal(t, int64(4), events[1].Sequence)
}

func TestGetEventsByType_FiltersAcrossPairs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	el := NewEventLog(s)

	require.NoError(t, el.AppendEvent(ctx, &Event{UserID: "u1", AutomationID: "a1", Type: "poll_tick_failed", Payload: json.RawMessage(`{"reason":"timeout"}`)}))
	require.NoError(t, el.AppendEvent(ctx, &Event{UserID: "u1", AutomationID: "a1", Type: "poll_tick_completed"}))
	require.NoError(t, el.AppendEvent(ctx, &Event{UserID: "u2", AutomationID: "a1", Type: "poll_tick_failed"}))

	failed, err := el.GetEventsByType(ctx, "poll_tick_failed", EventFilter{})
	require.NoError(t, err)
	assert.Len(t, failed, 2)

	scoped, err := el.GetEventsByType(ctx, "poll_tick_failed", EventFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.JSONEq(t, `{"reason":"timeout"}`, string(scoped[0].Payload))
}

func TestGetEventsByType_RespectsSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	el := NewEventLog(s)

	cutoff := time.Now().UTC()
	require.NoError(t, el.AppendEvent(ctx, &Event{UserID: "u1", AutomationID: "a1", Type: "node_errored", Timestamp: cutoff.Add(-time.Hour)}))
	require.NoError(t, el.AppendEvent(ctx, &Event{UserID: "u1", AutomationID: "a1", Type: "node_errored", Timestamp: cutoff.Add(time.Hour)}))

	got, err := el.GetEventsByType(ctx, "node_errored", EventFilter{Since: &cutoff})
	require.NoError(t, err)
	require.Len(t, got, 1)
}
