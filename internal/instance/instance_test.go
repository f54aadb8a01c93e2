package instance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memexhq/memex/internal/record"
	"github.com/memexhq/memex/internal/vector"
)

func TestValidName(t *testing.T) {
	assert.NoError(t, ValidName("alpha"))
	assert.NoError(t, ValidName("laptop-2"))
	assert.Error(t, ValidName(""))
	assert.Error(t, ValidName("a/b"))
	assert.Error(t, ValidName(`a\b`))
	assert.Error(t, ValidName(".."))
}

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "alpha_ocr_history", CollectionName("alpha"))
}

func TestManagerCreatesLayout(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, []string{"beta", "alpha"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha", "beta"}, m.Names())

	inst, ok := m.Get("alpha")
	require.True(t, ok)
	assert.Nil(t, inst.Index)
	assert.DirExists(t, inst.Records.Dir())
	assert.DirExists(t, inst.ImagesDir())

	_, ok = m.Get("gamma")
	assert.False(t, ok)
}

func TestManagerRejectsBadNames(t *testing.T) {
	_, err := NewManager(t.TempDir(), []string{"ok", "bad/name"}, nil)
	assert.Error(t, err)

	_, err = NewManager(t.TempDir(), []string{"dup", "dup"}, nil)
	assert.Error(t, err)
}

func TestManagerSurvivesIndexFailure(t *testing.T) {
	m, err := NewManager(t.TempDir(), []string{"alpha"}, func(string) (vector.Index, error) {
		return nil, errors.New("chroma unreachable")
	})
	require.NoError(t, err)

	inst, _ := m.Get("alpha")
	assert.Nil(t, inst.Index)

	// Tools still work through the file path.
	ts := time.Date(2026, 3, 10, 9, 0, 0, 0, time.Local)
	require.NoError(t, inst.Records.PutRecord(record.New(ts, "main", "budget review notes", "test", "")))

	res := inst.CallTool(context.Background(), "search-screenshots", map[string]any{"query": "budget"})
	require.False(t, res.IsError)
	assert.Equal(t, "file_based_text_search", res.Payload["search_method"])
}

func TestToolInfosPrefixed(t *testing.T) {
	m, err := NewManager(t.TempDir(), []string{"alpha"}, nil)
	require.NoError(t, err)
	inst, _ := m.Get("alpha")

	infos := inst.ToolInfos()
	require.NotEmpty(t, infos)
	assert.Contains(t, infos[0].Description, "[ALPHA]")
}
