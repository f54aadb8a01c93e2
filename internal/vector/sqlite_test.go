package vector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *SQLite {
	t.Helper()
	idx, err := NewSQLite(filepath.Join(t.TempDir(), "index.db"), NewHashEmbedder(128))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestSQLiteUpsertIdempotent(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	docs := []Document{
		{ID: "a", Text: "golang compiler error", Metadata: map[string]any{"timestamp": 100.0}},
		{ID: "b", Text: "kubernetes dashboard login", Metadata: map[string]any{"timestamp": 200.0}},
	}
	require.NoError(t, idx.Upsert(ctx, docs))
	require.NoError(t, idx.Upsert(ctx, docs))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ids, err := idx.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestSQLiteQueryRanksBySimilarity(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []Document{
		{ID: "a", Text: "golang compiler error on build", Metadata: map[string]any{"timestamp": 100.0}},
		{ID: "b", Text: "weather forecast sunny tomorrow", Metadata: map[string]any{"timestamp": 200.0}},
	}))

	results, err := idx.Query(ctx, "golang compiler error", 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Less(t, results[0].Distance, results[1].Distance)
	assert.Greater(t, Relevance(results[0].Distance), 0.5)
}

func TestSQLiteQueryWhere(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []Document{
		{ID: "old", Text: "same text", Metadata: map[string]any{"timestamp": 100.0}},
		{ID: "mid", Text: "same text", Metadata: map[string]any{"timestamp": 200.0}},
		{ID: "new", Text: "same text", Metadata: map[string]any{"timestamp": 300.0}},
	}))

	results, err := idx.Query(ctx, "same text", 10, And(
		Gte("timestamp", 150.0),
		Lt("timestamp", 300.0),
	))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "mid", results[0].ID)

	results, err = idx.Query(ctx, "same text", 10, Lte("timestamp", 200.0))
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSQLiteQueryWhereEquality(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []Document{
		{ID: "a", Text: "one", Metadata: map[string]any{"data_type": "ocr"}},
		{ID: "b", Text: "two", Metadata: map[string]any{"data_type": "other"}},
	}))

	results, err := idx.Query(ctx, "one", 10, Eq("data_type", "ocr"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestAndCollapsesSingleClause(t *testing.T) {
	w := And(Gte("timestamp", 1.0))
	_, hasAnd := w["$and"]
	assert.False(t, hasAnd)
	assert.Nil(t, And())
}
