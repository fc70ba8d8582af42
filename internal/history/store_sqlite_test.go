package history

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"promptkeeper/internal/core"
)

// createTestDB creates an in-memory SQLite database for testing.
func createTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	db := createTestDB(t)
	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	reader, err := NewSQLiteReader(db)
	require.NoError(t, err)

	ctx := context.Background()

	ex := NewExchange("gpt-4o-mini",
		[]core.Message{{Role: "user", Content: "what is a goroutine"}},
		&core.ChatResponse{
			Model: "gpt-4o-mini",
			Choices: []core.Choice{
				{Message: core.Message{Role: "assistant", Content: "a lightweight thread"}, FinishReason: "stop"},
			},
			Usage:      &core.Usage{PromptTokens: 5, CompletionTokens: 4, TotalTokens: 9},
			Created:    1700000000,
			ResponseMs: 250,
		})

	require.NoError(t, store.WriteBatch(ctx, []*Exchange{ex}))

	got, err := reader.ListSince(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, ex.ID, got[0].ID)
	assert.Equal(t, "gpt-4o-mini", got[0].Model)
	require.Len(t, got[0].Messages, 1)
	assert.Equal(t, "what is a goroutine", got[0].Messages[0].Content)
	assert.JSONEq(t, string(ex.Response), string(got[0].Response))
	assert.JSONEq(t, string(ex.RawResponse), string(got[0].RawResponse))
	assert.Equal(t, 9, got[0].TotalTokens)
	assert.Equal(t, 5, got[0].PromptTokens)
	assert.Equal(t, 4, got[0].CompletionTokens)
	assert.Equal(t, int64(250), got[0].ResponseMs)
	assert.Equal(t, int64(1700000000), got[0].Created)
	assert.WithinDuration(t, ex.Timestamp, got[0].Timestamp, time.Millisecond)
}

func TestSQLiteStoreIdempotentInsert(t *testing.T) {
	db := createTestDB(t)
	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	reader, err := NewSQLiteReader(db)
	require.NoError(t, err)

	ctx := context.Background()
	ex := testExchange("fixed-id")

	require.NoError(t, store.WriteBatch(ctx, []*Exchange{ex}))
	require.NoError(t, store.WriteBatch(ctx, []*Exchange{ex}))

	got, err := reader.ListSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLiteStoreChunksLargeBatches(t *testing.T) {
	db := createTestDB(t)
	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	reader, err := NewSQLiteReader(db)
	require.NoError(t, err)

	ctx := context.Background()

	// More rows than fit within SQLite's parameter limit in one statement.
	batch := make([]*Exchange, 0, maxRowsPerInsert+5)
	for i := 0; i < maxRowsPerInsert+5; i++ {
		batch = append(batch, testExchange(fmt.Sprintf("ex-%d", i)))
	}
	require.NoError(t, store.WriteBatch(ctx, batch))

	got, err := reader.ListSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, maxRowsPerInsert+5)
}

func TestSQLiteReaderSinceFilterAndOrder(t *testing.T) {
	db := createTestDB(t)
	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	reader, err := NewSQLiteReader(db)
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now().UTC()

	old := testExchange("old")
	old.Timestamp = now.Add(-48 * time.Hour)
	mid := testExchange("mid")
	mid.Timestamp = now.Add(-2 * time.Hour)
	recent := testExchange("recent")
	recent.Timestamp = now.Add(-time.Minute)

	require.NoError(t, store.WriteBatch(ctx, []*Exchange{old, mid, recent}))

	got, err := reader.ListSince(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "recent", got[0].ID)
	assert.Equal(t, "mid", got[1].ID)

	all, err := reader.ListSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSQLiteStoreEmptyBatch(t *testing.T) {
	db := createTestDB(t)
	store, err := NewSQLiteStore(db)
	require.NoError(t, err)

	assert.NoError(t, store.WriteBatch(context.Background(), nil))
}
