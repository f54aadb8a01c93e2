package chat

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memexhq/memex/internal/instance"
	"github.com/memexhq/memex/internal/providers"
	"github.com/memexhq/memex/internal/record"
)

func TestSessionLifecycle(t *testing.T) {
	m := NewSessionManager()
	s := m.Create("alpha")
	require.NotEmpty(t, s.ID)

	got, ok := m.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, "alpha", got.Instance)

	m.Append(s.ID, providers.Message{Role: "user", Content: "hi"})
	assert.Len(t, m.History(s.ID), 1)

	assert.True(t, m.Delete(s.ID))
	assert.False(t, m.Delete(s.ID))
	_, ok = m.Get(s.ID)
	assert.False(t, ok)
}

func TestSessionExpiry(t *testing.T) {
	m := NewSessionManager()
	current := time.Now()
	m.now = func() time.Time { return current }

	s := m.Create("alpha")

	current = current.Add(59 * time.Minute)
	_, ok := m.Get(s.ID)
	assert.True(t, ok)

	// Get refreshed LastActive, so expiry counts from the last touch.
	current = current.Add(61 * time.Minute)
	_, ok = m.Get(s.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestSweepRemovesExpired(t *testing.T) {
	m := NewSessionManager()
	current := time.Now()
	m.now = func() time.Time { return current }

	m.Create("alpha")
	old := m.Create("beta")

	m.mu.Lock()
	m.sessions[old.ID].LastActive = current.Add(-2 * time.Hour)
	m.mu.Unlock()

	assert.Equal(t, 1, m.sweep())
	assert.Equal(t, 1, m.Len())
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "hello-world", Slugify("Hello World"))
	assert.Equal(t, "q3-report-2026", Slugify("Q3 Report (2026)!"))
	assert.Equal(t, "", Slugify("...///"))
	long := Slugify("a very " + string(make([]rune, 0)) + "long title that keeps going and going and going and going and going and going forever")
	assert.LessOrEqual(t, len(long), 80)
}

func TestPageGenerateAndCollision(t *testing.T) {
	dir := t.TempDir()
	g, err := NewPageGenerator(dir)
	require.NoError(t, err)

	slug, err := g.Generate("Hello World", "# Heading\n\nsome *markdown*", "alpha")
	require.NoError(t, err)
	assert.Equal(t, "hello-world", slug)

	slug2, err := g.Generate("Hello World", "different content", "alpha")
	require.NoError(t, err)
	assert.Equal(t, "hello-world-1", slug2)

	html, err := g.Read(slug)
	require.NoError(t, err)
	assert.Contains(t, string(html), "<h1>Hello World</h1>")
	assert.Contains(t, string(html), "<em>markdown</em>")
	assert.Contains(t, string(html), "instance alpha")
}

func TestPageSanitizesHTML(t *testing.T) {
	g, err := NewPageGenerator(t.TempDir())
	require.NoError(t, err)

	slug, err := g.Generate("Injected", "hello <script>alert(1)</script> world", "alpha")
	require.NoError(t, err)

	html, err := g.Read(slug)
	require.NoError(t, err)
	assert.NotContains(t, string(html), "<script>")
}

func TestPageReadRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	g, err := NewPageGenerator(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.html"), []byte("x"), 0o644))

	for _, slug := range []string{"../secret", "a/b", "a.b", ""} {
		_, err := g.Read(slug)
		assert.Error(t, err, slug)
	}
}

// scriptedProvider returns canned responses in order, recording requests.
type scriptedProvider struct {
	responses []*providers.ChatResponse
	requests  []providers.ChatRequest
}

func (p *scriptedProvider) Name() string         { return "scripted" }
func (p *scriptedProvider) DefaultModel() string { return "test" }

func (p *scriptedProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return p.ChatStream(context.Background(), req, nil)
}

func (p *scriptedProvider) ChatStream(_ context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	p.requests = append(p.requests, req)
	resp := p.responses[0]
	p.responses = p.responses[1:]
	if onChunk != nil && resp.Content != "" {
		onChunk(providers.StreamChunk{Content: resp.Content})
	}
	return resp, nil
}

type event struct {
	name string
	data map[string]any
}

func collectEvents(events *[]event) Emitter {
	return func(name string, data map[string]any) {
		*events = append(*events, event{name, data})
	}
}

func newChatFixture(t *testing.T, p providers.ChatProvider, names ...string) (*Orchestrator, []*instance.Instance) {
	t.Helper()
	mgr, err := instance.NewManager(t.TempDir(), names, nil)
	require.NoError(t, err)

	var targets []*instance.Instance
	for _, n := range names {
		inst, ok := mgr.Get(n)
		require.True(t, ok)
		targets = append(targets, inst)
	}

	pages, err := NewPageGenerator(t.TempDir())
	require.NoError(t, err)
	return NewOrchestrator(p, NewSessionManager(), pages, nil), targets
}

func TestRunToolLoop(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{
			FinishReason: "tool_calls",
			ToolCalls: []providers.ToolCall{{
				ID:        "tu_1",
				Name:      "get-stats",
				Arguments: map[string]any{},
			}},
		},
		{Content: "You have no captures yet.", FinishReason: "stop"},
	}}
	o, targets := newChatFixture(t, p, "alpha")
	sess := o.Sessions().Create("alpha")

	var events []event
	err := o.Run(context.Background(), sess, "what do I have?", targets, collectEvents(&events))
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, "tool_call", events[0].name)
	assert.Equal(t, "get-stats", events[0].data["name"])
	assert.Equal(t, "tool_result", events[1].name)
	assert.LessOrEqual(t, len(events[1].data["result_preview"].(string)), 200)
	assert.Equal(t, "text", events[2].name)

	// History: user, assistant(tool), tool, assistant(final).
	history := o.Sessions().History(sess.ID)
	require.Len(t, history, 4)
	assert.Equal(t, "tool", history[2].Role)
}

func TestRunCrossInstancePrefixing(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{
			FinishReason: "tool_calls",
			ToolCalls: []providers.ToolCall{
				{ID: "tu_1", Name: "personal__get-stats", Arguments: map[string]any{}},
				{ID: "tu_2", Name: "work__get-stats", Arguments: map[string]any{}},
			},
		},
		{Content: "done", FinishReason: "stop"},
	}}
	o, targets := newChatFixture(t, p, "personal", "work")
	sess := o.Sessions().Create("personal")

	var events []event
	err := o.Run(context.Background(), sess, "summarize everything", targets, collectEvents(&events))
	require.NoError(t, err)

	// Offered tool names all carry an instance prefix except generate_page.
	require.NotEmpty(t, p.requests)
	for _, def := range p.requests[0].Tools {
		if def.Name == "generate_page" {
			continue
		}
		prefixed := false
		for _, n := range []string{"personal__", "work__"} {
			if len(def.Name) > len(n) && def.Name[:len(n)] == n {
				prefixed = true
			}
		}
		assert.True(t, prefixed, def.Name)
	}

	var toolCalls []string
	for _, e := range events {
		if e.name == "tool_call" {
			toolCalls = append(toolCalls, e.data["name"].(string))
		}
	}
	assert.Equal(t, []string{"personal__get-stats", "work__get-stats"}, toolCalls)
}

func TestRunUnknownInstancePrefix(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{
			FinishReason: "tool_calls",
			ToolCalls:    []providers.ToolCall{{ID: "tu_1", Name: "ghost__get-stats", Arguments: map[string]any{}}},
		},
		{Content: "sorry", FinishReason: "stop"},
	}}
	o, targets := newChatFixture(t, p, "personal", "work")
	sess := o.Sessions().Create("personal")

	var events []event
	require.NoError(t, o.Run(context.Background(), sess, "x", targets, collectEvents(&events)))

	history := o.Sessions().History(sess.ID)
	// The tool turn carries the in-band error back to the model.
	assert.Contains(t, history[2].Content, "unknown instance")
}

func TestRunGeneratePage(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{
			FinishReason: "tool_calls",
			ToolCalls: []providers.ToolCall{{
				ID:   "tu_1",
				Name: "generate_page",
				Arguments: map[string]any{
					"title":   "Weekly Review",
					"content": "# Review\n\n- item",
				},
			}},
		},
		{Content: "Here is your page.", FinishReason: "stop"},
	}}
	o, targets := newChatFixture(t, p, "alpha")
	sess := o.Sessions().Create("alpha")

	var events []event
	require.NoError(t, o.Run(context.Background(), sess, "make a page", targets, collectEvents(&events)))

	var pageEvents []event
	for _, e := range events {
		if e.name == "page_created" {
			pageEvents = append(pageEvents, e)
		}
	}
	require.Len(t, pageEvents, 1)
	assert.Equal(t, "/pages/weekly-review", pageEvents[0].data["url"])
	assert.Equal(t, "Weekly Review", pageEvents[0].data["title"])
}

func TestRunUsesRecordData(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{
			FinishReason: "tool_calls",
			ToolCalls: []providers.ToolCall{{
				ID:        "tu_1",
				Name:      "search-screenshots",
				Arguments: map[string]any{"query": "budget"},
			}},
		},
		{Content: "Found it.", FinishReason: "stop"},
	}}
	o, targets := newChatFixture(t, p, "alpha")

	ts := time.Date(2026, 3, 10, 9, 0, 0, 0, time.Local)
	require.NoError(t, targets[0].Records.PutRecord(record.New(ts, "main", "budget spreadsheet open", "test", "")))

	sess := o.Sessions().Create("alpha")
	var events []event
	require.NoError(t, o.Run(context.Background(), sess, "find the budget", targets, collectEvents(&events)))

	history := o.Sessions().History(sess.ID)
	assert.Contains(t, history[2].Content, "budget spreadsheet")
}
