package history_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlsql/gateway/internal/history"
)

func newTestStore(t *testing.T) *history.Store {
	t.Helper()
	ctx := context.Background()
	dbPath := t.TempDir() + "/history.db"
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := history.Open(ctx, dbPath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppend_AndRecent_RoundTrips(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rowCount := 3
	execMS := int64(12)
	err := store.Append(ctx, history.Record{
		RequestID:    "req-1",
		Timestamp:    time.Now(),
		DatabaseName: "blog",
		SQL:          "SELECT COUNT(*) FROM users",
		RowCount:     &rowCount,
		ExecutionMS:  &execMS,
		Success:      true,
		Source:       history.SourceNL,
	})
	require.NoError(t, err)

	recs, err := store.Recent(ctx, "blog", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "req-1", recs[0].RequestID)
	assert.True(t, recs[0].Success)
	require.NotNil(t, recs[0].RowCount)
	assert.Equal(t, 3, *recs[0].RowCount)
}

func TestAppend_RecordsFailureWithErrorKind(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Append(ctx, history.Record{
		RequestID:    "req-2",
		Timestamp:    time.Now(),
		DatabaseName: "blog",
		SQL:          "DELETE FROM posts",
		Success:      false,
		ErrorKind:    "unsafe_sql",
		Source:       history.SourceNL,
	})
	require.NoError(t, err)

	recs, err := store.Recent(ctx, "blog", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Success)
	assert.Equal(t, "unsafe_sql", recs[0].ErrorKind)
	assert.Nil(t, recs[0].RowCount)
}

func TestRecent_OrdersMostRecentFirstAndRespectsLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 3; i++ {
		err := store.Append(ctx, history.Record{
			RequestID:    string(rune('a' + i)),
			Timestamp:    base.Add(time.Duration(i) * time.Second),
			DatabaseName: "blog",
			SQL:          "SELECT 1",
			Success:      true,
			Source:       history.SourceManual,
		})
		require.NoError(t, err)
	}

	recs, err := store.Recent(ctx, "blog", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].Timestamp.After(recs[1].Timestamp))
}

func TestRecent_ScopedToDatabase(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, history.Record{RequestID: "r1", Timestamp: time.Now(), DatabaseName: "blog", SQL: "SELECT 1", Success: true, Source: history.SourceManual}))
	require.NoError(t, store.Append(ctx, history.Record{RequestID: "r2", Timestamp: time.Now(), DatabaseName: "shop", SQL: "SELECT 1", Success: true, Source: history.SourceManual}))

	recs, err := store.Recent(ctx, "shop", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "r2", recs[0].RequestID)
}
