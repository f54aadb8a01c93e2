package tools

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memexhq/memex/internal/record"
	"github.com/memexhq/memex/internal/vector"
)

// fakeIndex returns canned hits and remembers the filters it was queried with.
type fakeIndex struct {
	hits    []vector.Result
	queries []vector.Where
	err     error
}

func (f *fakeIndex) Upsert(context.Context, []vector.Document) error { return nil }
func (f *fakeIndex) Count(context.Context) (int, error)              { return len(f.hits), nil }
func (f *fakeIndex) IDs(context.Context) ([]string, error)           { return nil, nil }

func (f *fakeIndex) Query(_ context.Context, _ string, k int, where vector.Where) ([]vector.Result, error) {
	f.queries = append(f.queries, where)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.hits) > k {
		return f.hits[:k], nil
	}
	return f.hits, nil
}

func newTestEnv(t *testing.T, index vector.Index) *Env {
	t.Helper()
	store, err := record.NewStore(t.TempDir())
	require.NoError(t, err)
	return &Env{Instance: "alpha", Records: store, Index: index}
}

func putRecord(t *testing.T, env *Env, ts time.Time, screen, text string) {
	t.Helper()
	require.NoError(t, env.Records.PutRecord(record.New(ts, screen, text, "test", "")))
}

func TestCallUnknownTool(t *testing.T) {
	reg := NewRegistry()
	res := reg.Call(context.Background(), newTestEnv(t, nil), "no-such-tool", nil)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Payload["error"], "Unknown tool")
}

func TestDefinitionsPrefixInstance(t *testing.T) {
	reg := NewRegistry()
	infos := reg.Definitions("alpha")
	require.Len(t, infos, 9)
	for _, info := range infos {
		assert.True(t, strings.HasPrefix(info.Description, "[ALPHA] "), info.Name)
		assert.NotNil(t, info.InputSchema)
	}
	assert.Equal(t, "search-screenshots", infos[0].Name)
}

func TestParseBounds(t *testing.T) {
	start, err := ParseStart("2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, 0, start.Hour())

	end, err := ParseEnd("2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, 23, end.Hour())
	assert.Equal(t, 59, end.Minute())

	explicit, err := ParseStart("2026-03-01T14:30:00")
	require.NoError(t, err)
	assert.Equal(t, 14, explicit.Hour())

	_, err = ParseStart("not a time")
	assert.Error(t, err)
}

func TestParseRelativePhrases(t *testing.T) {
	now := time.Date(2026, 3, 10, 13, 0, 0, 0, time.Local)

	ts, ok := parseRelative("yesterday 9am", now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 9, 9, 0, 0, 0, time.Local), ts)

	ts, ok = parseRelative("yesterday 5pm", now)
	require.True(t, ok)
	assert.Equal(t, 17, ts.Hour())

	ts, ok = parseRelative("today", now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.Local), ts)

	ts, ok = parseRelative("last week", now)
	require.True(t, ok)
	assert.Equal(t, now.AddDate(0, 0, -7), ts)

	_, ok = parseRelative("2026-03-01", now)
	assert.False(t, ok)
}

func TestRecencyScore(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	fresh := recencyScore(now.Format(time.RFC3339Nano), 90, now)
	old := recencyScore(now.AddDate(0, 0, -45).Format(time.RFC3339Nano), 90, now)
	ancient := recencyScore(now.AddDate(0, 0, -120).Format(time.RFC3339Nano), 90, now)

	assert.Greater(t, fresh, old)
	assert.Greater(t, old, ancient)
	assert.Equal(t, 0.0, ancient)
	assert.InDelta(t, 0.5, old, 0.01)

	assert.Equal(t, 0.5, recencyScore("garbage", 90, now))
	assert.Equal(t, 1.0, recencyScore(now.Add(time.Hour).Format(time.RFC3339Nano), 90, now))
}

func TestSampleEvenly(t *testing.T) {
	items := make([]map[string]any, 20)
	for i := range items {
		items[i] = map[string]any{"i": i}
	}

	out := sampleEvenly(items, 5)
	require.Len(t, out, 5)
	assert.Equal(t, 0, out[0]["i"])
	assert.Equal(t, 4, out[1]["i"])
	assert.Equal(t, 16, out[4]["i"])

	small := items[:3]
	assert.Equal(t, small, sampleEvenly(small, 5))
}

func TestSearchScreenshotsFileFallback(t *testing.T) {
	env := newTestEnv(t, nil) // no index forces the file scan path
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.Local)
	putRecord(t, env, base, "main", "reviewing the quarterly budget spreadsheet")
	putRecord(t, env, base.Add(time.Minute), "main", "reading release notes")
	putRecord(t, env, base.Add(2*time.Minute), "side", "budget approval email draft")

	res := NewRegistry().Call(context.Background(), env, "search-screenshots",
		map[string]any{"query": "budget"})
	require.False(t, res.IsError)

	assert.Equal(t, "file_based_text_search", res.Payload["search_method"])
	results := res.Payload["results"].([]map[string]any)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Contains(t, strings.ToLower(r["text_preview"].(string)), "budget")
	}
}

func TestSearchScreenshotsVectorPath(t *testing.T) {
	idx := &fakeIndex{hits: []vector.Result{{
		ID:       "2026-03-10T09-00-00-000000_main",
		Document: "Screen: main Text: budget review",
		Distance: 0.2,
		Metadata: map[string]any{
			"extracted_text": "budget review",
			"timestamp_iso":  "2026-03-10T09:00:00",
			"screen_name":    "main",
			"data_type":      "ocr",
		},
	}}}
	env := newTestEnv(t, idx)

	res := NewRegistry().Call(context.Background(), env, "search-screenshots",
		map[string]any{"query": "budget", "limit": float64(5)})
	require.False(t, res.IsError)

	assert.Equal(t, "vector_search_chromadb", res.Payload["search_method"])
	results := res.Payload["results"].([]map[string]any)
	require.Len(t, results, 1)
	assert.Equal(t, "main", results[0]["screen_name"])
	assert.InDelta(t, 0.8, results[0]["relevance"].(float64), 0.001)
}

func TestGetStats(t *testing.T) {
	env := newTestEnv(t, &fakeIndex{})
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.Local)
	putRecord(t, env, base, "main", "hello world")
	putRecord(t, env, base.Add(time.Hour), "main", "more text here")

	res := NewRegistry().Call(context.Background(), env, "get-stats", nil)
	require.False(t, res.IsError)
	assert.Equal(t, 2, res.Payload["ocr_files"])
	assert.Equal(t, true, res.Payload["chromadb_available"])
}

func TestActivityGraphBuckets(t *testing.T) {
	env := newTestEnv(t, nil)
	base := time.Now().Add(-2 * time.Hour).Truncate(time.Hour)
	putRecord(t, env, base, "main", "a long enough text body")
	putRecord(t, env, base.Add(10*time.Minute), "side", "another long text body")
	putRecord(t, env, base.Add(time.Hour), "main", "x")

	res := NewRegistry().Call(context.Background(), env, "activity-graph",
		map[string]any{"days": float64(1), "include_empty": false})
	require.False(t, res.IsError)

	timeline := res.Payload["timeline_data"].([]map[string]any)
	require.Len(t, timeline, 2)
	first := timeline[0]
	assert.Equal(t, 2, first["capture_count"])
	assert.Equal(t, 2, first["unique_screens"])
	assert.Equal(t, 100, first["content_percentage"])

	second := timeline[1]
	assert.Equal(t, 0, second["content_percentage"])

	summary := res.Payload["data_summary"].(map[string]any)
	assert.Equal(t, 3, summary["total_captures"])
}

func TestTimeRangeSummarySampling(t *testing.T) {
	env := newTestEnv(t, nil)
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.Local)
	for i := 0; i < 12; i++ {
		putRecord(t, env, base.Add(time.Duration(i)*5*time.Minute), "main",
			fmt.Sprintf("capture number %d with some text", i))
	}

	res := NewRegistry().Call(context.Background(), env, "time-range-summary", map[string]any{
		"start_time":  "2026-03-10",
		"end_time":    "2026-03-10",
		"max_results": float64(4),
	})
	require.False(t, res.IsError)

	info := res.Payload["sampling_info"].(map[string]any)
	assert.Equal(t, true, info["sampled"])
	assert.Equal(t, 12, info["total_items"])

	data := res.Payload["data"].([]map[string]any)
	assert.Len(t, data, 4)
}

func TestSampleTimeRangeWindows(t *testing.T) {
	env := newTestEnv(t, nil)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.Local)
	// Two captures in the first 15-minute window, one in the third.
	putRecord(t, env, base.Add(time.Minute), "main", "first in window")
	putRecord(t, env, base.Add(5*time.Minute), "main", "second in window")
	putRecord(t, env, base.Add(32*time.Minute), "side", "later capture")

	res := NewRegistry().Call(context.Background(), env, "sample-time-range", map[string]any{
		"start_time":         "2026-03-10T09:00:00",
		"end_time":           "2026-03-10T10:00:00",
		"max_samples":        float64(24),
		"min_window_minutes": float64(15),
	})
	require.False(t, res.IsError)

	windowing := res.Payload["windowing"].(map[string]any)
	assert.Equal(t, 4, windowing["total_windows"])
	assert.Equal(t, 2, windowing["filled_windows"])

	data := res.Payload["data"].([]map[string]any)
	require.Len(t, data, 2)
	// Each window keeps its earliest record.
	assert.Contains(t, data[0]["text"], "first")
}

func TestVectorSearchWindowedRequiresIndex(t *testing.T) {
	env := newTestEnv(t, nil)
	res := NewRegistry().Call(context.Background(), env, "vector-search-windowed", map[string]any{
		"query":      "anything",
		"start_time": "2026-03-10",
		"end_time":   "2026-03-11",
	})
	require.False(t, res.IsError)
	assert.Contains(t, res.Payload["error"], "ChromaDB")
}

func TestSearchRecentRelevantExpandsWindows(t *testing.T) {
	idx := &fakeIndex{} // no hits, so every window is searched
	env := newTestEnv(t, idx)

	res := NewRegistry().Call(context.Background(), env, "search-recent-relevant", map[string]any{
		"query":        "project",
		"initial_days": float64(7),
		"max_days":     float64(90),
	})
	require.False(t, res.IsError)

	strategy := res.Payload["search_strategy"].(map[string]any)
	assert.Equal(t, []int{7, 28, 56, 90}, strategy["windows_searched"])
	summary := res.Payload["summary"].(map[string]any)
	assert.Equal(t, 0, summary["results_returned"])
}

func TestSearchRecentRelevantScoring(t *testing.T) {
	now := time.Now()
	idx := &fakeIndex{hits: []vector.Result{
		{
			Document: "fresh relevant",
			Distance: 0.1,
			Metadata: map[string]any{"timestamp_iso": now.Add(-time.Hour).Format(time.RFC3339Nano)},
		},
		{
			Document: "old relevant",
			Distance: 0.1,
			Metadata: map[string]any{"timestamp_iso": now.AddDate(0, 0, -200).Format(time.RFC3339Nano)},
		},
	}}
	env := newTestEnv(t, idx)

	res := NewRegistry().Call(context.Background(), env, "search-recent-relevant", map[string]any{
		"query":     "relevant",
		"min_score": float64(0.6),
	})
	require.False(t, res.IsError)

	results := res.Payload["results"].([]map[string]any)
	require.Len(t, results, 1)
	assert.Equal(t, "fresh relevant", results[0]["text"])
}

func TestDailySummaryPeriods(t *testing.T) {
	env := newTestEnv(t, nil)
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.Local)
	putRecord(t, env, day.Add(6*time.Hour), "main", "early standup notes")
	putRecord(t, env, day.Add(9*time.Hour), "main", "morning code review")
	putRecord(t, env, day.Add(10*time.Hour), "side", "morning email triage")
	putRecord(t, env, day.Add(22*time.Hour), "main", "late reading")

	res := NewRegistry().Call(context.Background(), env, "daily-summary",
		map[string]any{"date": "2026-03-10"})
	require.False(t, res.IsError)

	stats := res.Payload["stats"].(map[string]any)
	assert.Equal(t, 4, stats["total_captures"])
	assert.Equal(t, []string{"main", "side"}, stats["unique_screens"])
	assert.Equal(t, 4, stats["active_hour_count"])

	periods := res.Payload["periods"].([]map[string]any)
	require.Len(t, periods, 3)
	assert.Equal(t, "early_morning", periods[0]["period"])
	assert.Equal(t, "05:00-08:00", periods[0]["hours"])
	assert.Equal(t, "morning", periods[1]["period"])
	assert.Equal(t, 2, periods[1]["capture_count"])
	assert.Equal(t, "night", periods[2]["period"])
}

func TestDailySummaryRejectsBadDate(t *testing.T) {
	env := newTestEnv(t, nil)
	res := NewRegistry().Call(context.Background(), env, "daily-summary",
		map[string]any{"date": "03/10/2026"})
	require.False(t, res.IsError)
	assert.Contains(t, res.Payload["error"], "Invalid date format")
}

func TestDailySummaryTruncatesText(t *testing.T) {
	env := newTestEnv(t, nil)
	day := time.Date(2026, 3, 10, 9, 0, 0, 0, time.Local)
	putRecord(t, env, day, "main", strings.Repeat("word ", 200))

	res := NewRegistry().Call(context.Background(), env, "daily-summary",
		map[string]any{"date": "2026-03-10"})
	require.False(t, res.IsError)

	periods := res.Payload["periods"].([]map[string]any)
	require.Len(t, periods, 1)
	samples := periods[0]["samples"].([]map[string]any)
	require.Len(t, samples, 1)
	text := samples[0]["text"].(string)
	assert.Len(t, text, 503)
	assert.True(t, strings.HasSuffix(text, "..."))
}
