package server

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditRequestLine(t *testing.T) {
	dir := t.TempDir()
	a, err := NewAuditLog(dir, nil)
	require.NoError(t, err)
	a.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	a.Request("1.2.3.4", "POST", "/personal/mcp", "personal", "200")
	require.NoError(t, a.Close())

	data, err := os.ReadFile(filepath.Join(dir, "audit.log"))
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	assert.Equal(t, "ts=2026-03-01T12:00:00Z ip=1.2.3.4 method=POST path=/personal/mcp instance=personal status=200", line)
}

func TestAuditUsageEvents(t *testing.T) {
	dir := t.TempDir()
	a, err := NewAuditLog(dir, nil)
	require.NoError(t, err)

	a.ToolCall("personal", "search-screenshots", 12, 5, 80*time.Millisecond)
	a.Denial("personal", "get-stats", "off_hours")
	a.Sync("work", 42, 300*time.Millisecond)
	require.NoError(t, a.Close())

	f, err := os.Open(a.UsagePath())
	require.NoError(t, err)
	defer f.Close()

	var events []UsageEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev UsageEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	require.Len(t, events, 3)

	assert.Equal(t, "tool_call", events[0].Event)
	assert.Equal(t, "search-screenshots", events[0].Tool)
	assert.Equal(t, int64(80), events[0].DurationMS)
	assert.Equal(t, "denied:off_hours", events[1].Event)
	assert.Equal(t, "sync", events[2].Event)
	assert.Equal(t, 42, events[2].Results)
}

func TestMetricsReaderWindow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "usage.jsonl")

	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, `{"event":"tool_call","instance":"personal","tool":"get-stats","duration_ms":10}`)
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	m := newMetricsReader(path, 5)
	events, err := m.tail()
	require.NoError(t, err)
	assert.Len(t, events, 5)

	// A missing file is an empty window, not an error.
	m = newMetricsReader(filepath.Join(dir, "nope.jsonl"), 5)
	events, err = m.tail()
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestQuoteIfNeeded(t *testing.T) {
	assert.Equal(t, "plain", quoteIfNeeded("plain"))
	assert.Equal(t, `""`, quoteIfNeeded(""))
	assert.Equal(t, `"two words"`, quoteIfNeeded("two words"))
}

func TestPercentile(t *testing.T) {
	assert.Equal(t, int64(0), percentile(nil, 95))

	values := []int64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	assert.Equal(t, int64(100), percentile(values, 95))
	assert.Equal(t, int64(60), percentile(values, 50))
}
