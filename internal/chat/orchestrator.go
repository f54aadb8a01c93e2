package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memexhq/memex/internal/instance"
	"github.com/memexhq/memex/internal/providers"
	"github.com/memexhq/memex/internal/tools"
)

const (
	maxToolIterations = 10
	resultPreviewLen  = 200
	crossToolSep      = "__"
)

// Emitter delivers one server-sent event to the client. Implementations
// flush after every call so partial text is visible immediately.
type Emitter func(event string, data map[string]any)

// Orchestrator runs the LLM tool loop for chat requests.
type Orchestrator struct {
	provider providers.ChatProvider
	sessions *SessionManager
	pages    *PageGenerator
	logger   *slog.Logger
}

func NewOrchestrator(provider providers.ChatProvider, sessions *SessionManager, pages *PageGenerator, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{provider: provider, sessions: sessions, pages: pages, logger: logger}
}

// Sessions exposes the session table for the HTTP layer.
func (o *Orchestrator) Sessions() *SessionManager { return o.sessions }

// Run drives one chat turn. With more than one target instance, tool names
// are prefixed "<instance>__<tool>" and routing strips the prefix. Events
// are emitted in order: text / tool_call / tool_result / page_created as
// they occur; the caller wraps the run with session and done events.
func (o *Orchestrator) Run(ctx context.Context, sess *Session, message string, targets []*instance.Instance, emit Emitter) error {
	if len(targets) == 0 {
		return fmt.Errorf("no target instances")
	}
	cross := len(targets) > 1

	defs := o.toolDefinitions(targets, cross)
	messages := append(o.sessions.History(sess.ID), providers.Message{Role: "user", Content: message})
	o.sessions.Append(sess.ID, providers.Message{Role: "user", Content: message})

	for iteration := 0; iteration < maxToolIterations; iteration++ {
		resp, err := o.provider.ChatStream(ctx, providers.ChatRequest{
			System:   o.systemPrompt(targets, cross),
			Messages: messages,
			Tools:    defs,
		}, func(chunk providers.StreamChunk) {
			if chunk.Content != "" {
				emit("text", map[string]any{"text": chunk.Content})
			}
		})
		if err != nil {
			return fmt.Errorf("provider call: %w", err)
		}

		assistant := providers.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
		messages = append(messages, assistant)
		o.sessions.Append(sess.ID, assistant)

		if len(resp.ToolCalls) == 0 {
			return nil
		}

		for _, call := range resp.ToolCalls {
			emit("tool_call", map[string]any{"id": call.ID, "name": call.Name})

			started := time.Now()
			resultText := o.executeTool(ctx, call, targets, cross, sess.Instance, emit)
			o.logger.Info("chat.tool_executed", "tool", call.Name,
				"duration_ms", time.Since(started).Milliseconds())

			emit("tool_result", map[string]any{
				"id":             call.ID,
				"name":           call.Name,
				"result_preview": truncate(resultText, resultPreviewLen),
			})

			toolMsg := providers.Message{Role: "tool", ToolCallID: call.ID, Content: resultText}
			messages = append(messages, toolMsg)
			o.sessions.Append(sess.ID, toolMsg)
		}
	}

	o.logger.Warn("chat.iteration_limit", "session", sess.ID)
	return nil
}

func (o *Orchestrator) toolDefinitions(targets []*instance.Instance, cross bool) []providers.ToolDefinition {
	var defs []providers.ToolDefinition
	for _, target := range targets {
		for _, info := range target.ToolInfos() {
			name := info.Name
			if cross {
				name = target.Name + crossToolSep + info.Name
			}
			defs = append(defs, providers.ToolDefinition{
				Name:        name,
				Description: info.Description,
				InputSchema: info.InputSchema,
			})
		}
	}
	if o.pages != nil {
		defs = append(defs, providers.ToolDefinition{
			Name:        "generate_page",
			Description: "Create a shareable HTML page from markdown content. Returns the page URL.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":   map[string]any{"type": "string", "description": "Page title"},
					"content": map[string]any{"type": "string", "description": "Markdown content"},
				},
				"required": []string{"title", "content"},
			},
		})
	}
	return defs
}

// executeTool routes one tool call and returns the JSON text handed back to
// the LLM. Tool failures are reported in-band so the loop can continue.
func (o *Orchestrator) executeTool(ctx context.Context, call providers.ToolCall, targets []*instance.Instance, cross bool, primary string, emit Emitter) string {
	if call.Name == "generate_page" {
		return o.runGeneratePage(call, primary, emit)
	}

	name := call.Name
	target := targets[0]
	if cross {
		instName, toolName, found := strings.Cut(call.Name, crossToolSep)
		if !found {
			return toolErrJSON(fmt.Sprintf("tool %q missing instance prefix", call.Name))
		}
		name = toolName
		target = nil
		for _, t := range targets {
			if t.Name == instName {
				target = t
				break
			}
		}
		if target == nil {
			return toolErrJSON(fmt.Sprintf("unknown instance %q", instName))
		}
	}

	return target.CallTool(ctx, name, call.Arguments).ForLLM()
}

func (o *Orchestrator) runGeneratePage(call providers.ToolCall, instanceName string, emit Emitter) string {
	title, _ := call.Arguments["title"].(string)
	content, _ := call.Arguments["content"].(string)
	if title == "" || content == "" {
		return toolErrJSON("generate_page requires title and content")
	}

	slug, err := o.pages.Generate(title, content, instanceName)
	if err != nil {
		o.logger.Warn("chat.page_failed", "title", title, "error", err)
		return toolErrJSON(err.Error())
	}

	url := "/pages/" + slug
	emit("page_created", map[string]any{"url": url, "title": title})
	return tools.NewResult(map[string]any{"url": url, "title": title, "status": "created"}).ForLLM()
}

func (o *Orchestrator) systemPrompt(targets []*instance.Instance, cross bool) string {
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.Name
	}

	var b strings.Builder
	b.WriteString("You are a personal memory assistant with access to screenshot OCR history. ")
	b.WriteString("Today is ")
	b.WriteString(time.Now().Format("Monday, 2006-01-02"))
	b.WriteString(". ")
	if cross {
		b.WriteString("You can search across these instances: ")
		b.WriteString(strings.Join(names, ", "))
		b.WriteString(". Tool names are prefixed with the instance they query. ")
	} else {
		b.WriteString("You are answering for the instance ")
		b.WriteString(names[0])
		b.WriteString(". ")
	}
	b.WriteString("Use the search and summary tools to ground every answer in actual captured data. ")
	b.WriteString("When the user asks for a report or shareable output, use generate_page.")
	return b.String()
}

func toolErrJSON(msg string) string {
	return tools.ErrorResult(msg).ForLLM()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
