package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseLines(lines ...string) string {
	out := ""
	for _, l := range lines {
		out += l + "\n"
	}
	return out
}

func TestChatStreamTextAndToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("x-api-key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["stream"])
		assert.NotEmpty(t, body["tools"])

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseLines(
			`event: message_start`,
			`data: {"message":{"usage":{"input_tokens":42}}}`,
			``,
			`event: content_block_delta`,
			`data: {"delta":{"type":"text_delta","text":"Looking"}}`,
			``,
			`event: content_block_delta`,
			`data: {"delta":{"type":"text_delta","text":" now."}}`,
			``,
			`event: content_block_start`,
			`data: {"content_block":{"type":"tool_use","id":"tu_1","name":"search-screenshots"}}`,
			``,
			`event: content_block_delta`,
			`data: {"delta":{"type":"input_json_delta","partial_json":"{\"query\":"}}`,
			``,
			`event: content_block_delta`,
			`data: {"delta":{"type":"input_json_delta","partial_json":"\"budget\"}"}}`,
			``,
			`event: message_delta`,
			`data: {"delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":17}}`,
			``,
			`event: message_stop`,
			`data: {}`,
		))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", WithAnthropicBaseURL(srv.URL+"/v1"))

	var chunks []string
	done := false
	resp, err := p.ChatStream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "what was I doing"}},
		Tools:    []ToolDefinition{{Name: "search-screenshots", InputSchema: map[string]any{"type": "object"}}},
	}, func(c StreamChunk) {
		if c.Done {
			done = true
			return
		}
		chunks = append(chunks, c.Content)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Looking", " now."}, chunks)
	assert.True(t, done)
	assert.Equal(t, "Looking now.", resp.Content)
	assert.Equal(t, "tool_calls", resp.FinishReason)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "tu_1", resp.ToolCalls[0].ID)
	assert.Equal(t, map[string]any{"query": "budget"}, resp.ToolCalls[0].Arguments)

	require.NotNil(t, resp.Usage)
	assert.Equal(t, 42, resp.Usage.PromptTokens)
	assert.Equal(t, 17, resp.Usage.CompletionTokens)
	assert.Equal(t, 59, resp.Usage.TotalTokens)
}

func TestChatStreamErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseLines(
			`event: error`,
			`data: {"error":{"type":"overloaded_error","message":"try later"}}`,
		))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("k", WithAnthropicBaseURL(srv.URL))
	_, err := p.ChatStream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded_error")
}

func TestChatNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("bad", WithAnthropicBaseURL(srv.URL))
	_, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Status)
}

func TestBuildRequestBodyRoles(t *testing.T) {
	p := NewAnthropicProvider("k")
	body := p.buildRequestBody(ChatRequest{
		System: "you are helpful",
		Messages: []Message{
			{Role: "user", Content: "find budget"},
			{Role: "assistant", ToolCalls: []ToolCall{{ID: "tu_1", Name: "search-screenshots", Arguments: map[string]any{"query": "budget"}}}},
			{Role: "tool", ToolCallID: "tu_1", Content: `{"total_found":2}`},
		},
	}, false)

	assert.Equal(t, "you are helpful", body["system"])
	assert.Nil(t, body["stream"])
	msgs := body["messages"].([]map[string]any)
	require.Len(t, msgs, 3)

	blocks := msgs[1]["content"].([]map[string]any)
	require.Len(t, blocks, 1)
	assert.Equal(t, "tool_use", blocks[0]["type"])

	toolResult := msgs[2]["content"].([]map[string]any)[0]
	assert.Equal(t, "tool_result", toolResult["type"])
	assert.Equal(t, "tu_1", toolResult["tool_use_id"])
}
