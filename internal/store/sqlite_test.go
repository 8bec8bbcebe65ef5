// ABOUTME: Tests for the SQLite trace store.
// ABOUTME: Covers schema creation, inserts, ordering, and the limit clamp.

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "traces.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveTrace_AndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tr := &Trace{
		ID:         "t-1",
		SessionID:  "sess-1",
		Question:   "should we deploy",
		State:      "completed",
		ExitCode:   0,
		EventCount: 14,
		DurationMs: 2350,
	}
	require.NoError(t, s.SaveTrace(ctx, tr))

	got, err := s.RecentTraces(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, "t-1", got[0].ID)
	assert.Equal(t, "sess-1", got[0].SessionID)
	assert.Equal(t, "completed", got[0].State)
	assert.Empty(t, got[0].ErrorCode)
	assert.Equal(t, 14, got[0].EventCount)
	assert.False(t, got[0].CreatedAt.IsZero(), "CreatedAt is stamped on save")
}

func TestRecentTraces_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveTrace(ctx, &Trace{
			ID:        fmt.Sprintf("t-%d", i),
			SessionID: fmt.Sprintf("sess-%d", i),
			Question:  "q",
			State:     "completed",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := s.RecentTraces(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "t-4", got[0].ID)
	assert.Equal(t, "t-3", got[1].ID)
	assert.Equal(t, "t-2", got[2].ID)
}

func TestRecentTraces_FailureRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveTrace(ctx, &Trace{
		ID:        "t-err",
		SessionID: "sess-err",
		Question:  "q",
		State:     "timed_out",
		ErrorCode: "WORKER_TIMEOUT",
		ExitCode:  -1,
	}))

	got, err := s.RecentTraces(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "WORKER_TIMEOUT", got[0].ErrorCode)
	assert.Equal(t, -1, got[0].ExitCode)
}

func TestRecentTraces_DefaultLimit(t *testing.T) {
	s := newTestStore(t)
	got, err := s.RecentTraces(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveTrace(context.Background(), &Trace{
		ID: "t-mem", SessionID: "s", Question: "q", State: "completed",
	}))
}
