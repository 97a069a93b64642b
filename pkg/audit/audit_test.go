package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	e := NewEvent(ActionItemSet).
		WithSession("s1", "u1").
		WithItem("v1", 3).
		WithResult(false, "INSUFFICIENT_STOCK")

	assert.NotEmpty(t, e.ID)
	assert.WithinDuration(t, time.Now(), e.Timestamp, time.Second)
	assert.Equal(t, ActionItemSet, e.Action)
	assert.Equal(t, "s1", e.SessionID)
	assert.Equal(t, "u1", e.UserID)
	assert.Equal(t, "v1", e.VariantID)
	assert.Equal(t, 3, e.Quantity)
	assert.False(t, e.Success)
	assert.Equal(t, "INSUFFICIENT_STOCK", e.ErrorCode)

	assert.NotEqual(t, e.ID, NewEvent(ActionItemSet).ID)
}

func seed(t *testing.T, s *MemoryStore) time.Time {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []Event{
		{ID: "1", Timestamp: base, Action: ActionSessionCreated, SessionID: "s1", UserID: "lead", Success: true},
		{ID: "2", Timestamp: base.Add(time.Minute), Action: ActionMemberJoined, SessionID: "s1", UserID: "ana", Success: true},
		{ID: "3", Timestamp: base.Add(2 * time.Minute), Action: ActionItemSet, SessionID: "s1", UserID: "ana", Success: false, ErrorCode: "INSUFFICIENT_STOCK"},
		{ID: "4", Timestamp: base.Add(3 * time.Minute), Action: ActionItemSet, SessionID: "s1", UserID: "ana", Success: true},
		{ID: "5", Timestamp: base.Add(4 * time.Minute), Action: ActionSessionCreated, SessionID: "s2", UserID: "bo", Success: true},
	}
	for _, e := range events {
		require.NoError(t, s.Log(context.Background(), e))
	}
	return base
}

func TestMemoryStore_Query(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	base := seed(t, s)

	t.Run("session newest first", func(t *testing.T) {
		got, err := s.Query(ctx, QueryFilter{SessionID: "s1"})
		require.NoError(t, err)
		require.Len(t, got, 4)
		assert.Equal(t, "4", got[0].ID)
		assert.Equal(t, "1", got[3].ID)
	})

	t.Run("paging", func(t *testing.T) {
		got, err := s.Query(ctx, QueryFilter{SessionID: "s1", Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "3", got[0].ID)

		none, err := s.Query(ctx, QueryFilter{SessionID: "s1", Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("success and time window", func(t *testing.T) {
		failed := false
		start := base.Add(90 * time.Second)
		got, err := s.Query(ctx, QueryFilter{Success: &failed, StartTime: &start})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "INSUFFICIENT_STOCK", got[0].ErrorCode)
	})

	t.Run("count ignores paging", func(t *testing.T) {
		n, err := s.Count(ctx, QueryFilter{UserID: "ana", Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})
}

func TestMemoryStore_CountByAction(t *testing.T) {
	s := NewMemoryStore(0)
	seed(t, s)

	got, err := s.CountByAction(context.Background(), QueryFilter{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, []ActionCount{
		{Action: ActionItemSet, Count: 2},
		{Action: ActionMemberJoined, Count: 1},
		{Action: ActionSessionCreated, Count: 1},
	}, got)
}

func TestMemoryStore_Capacity(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Log(ctx, Event{ID: id, Action: ActionMemberJoined}))
	}

	n, err := s.Count(ctx, QueryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.Query(ctx, QueryFilter{})
	require.NoError(t, err)
	ids := []string{got[0].ID, got[1].ID}
	assert.ElementsMatch(t, []string{"b", "c"}, ids)
}
