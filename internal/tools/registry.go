package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/memexhq/memex/internal/record"
	"github.com/memexhq/memex/internal/vector"
)

// Env is the per-instance environment a tool runs against.
type Env struct {
	Instance string
	Records  *record.Store
	Index    vector.Index // nil when the vector store is unavailable
	Logger   *slog.Logger
}

func (e *Env) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Definition is one tool: name, JSON schema, and the function behind it.
// The set is closed; tools are registered at construction, never at runtime.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]any
	Run         func(ctx context.Context, env *Env, args map[string]any) map[string]any
}

// Registry holds the fixed tool set and dispatches calls by name.
type Registry struct {
	defs   []Definition
	byName map[string]Definition
}

// NewRegistry builds the standard tool set.
func NewRegistry() *Registry {
	defs := []Definition{
		searchScreenshotsDef(),
		whatCanIDoDef(),
		getStatsDef(),
		activityGraphDef(),
		timeRangeSummaryDef(),
		sampleTimeRangeDef(),
		vectorSearchWindowedDef(),
		searchRecentRelevantDef(),
		dailySummaryDef(),
	}
	byName := make(map[string]Definition, len(defs))
	for _, d := range defs {
		byName[d.Name] = d
	}
	return &Registry{defs: defs, byName: byName}
}

// ToolInfo is the wire shape of one tool descriptor.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Definitions renders the tool descriptors for one instance. Descriptions
// are prefixed with the instance name so multi-instance clients can tell
// tool sets apart.
func (r *Registry) Definitions(instance string) []ToolInfo {
	out := make([]ToolInfo, len(r.defs))
	for i, d := range r.defs {
		out[i] = ToolInfo{
			Name:        d.Name,
			Description: fmt.Sprintf("[%s] %s", strings.ToUpper(instance), d.Description),
			InputSchema: d.InputSchema,
		}
	}
	return out
}

// Names returns the tool names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.defs))
	for i, d := range r.defs {
		names[i] = d.Name
	}
	return names
}

// Call dispatches one tool call. Unknown names produce an IsError result;
// failures inside a tool are reported in the payload and are not errors at
// this layer.
func (r *Registry) Call(ctx context.Context, env *Env, name string, args map[string]any) *Result {
	def, ok := r.byName[name]
	if !ok {
		return ErrorResult(fmt.Sprintf("Unknown tool: %s", name))
	}
	if args == nil {
		args = map[string]any{}
	}
	return NewResult(def.Run(ctx, env, args))
}

// --- argument helpers (JSON unmarshals numbers as float64) ---

func argString(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func argFloat(args map[string]any, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func argBool(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

func errPayload(toolName string, err error, extra map[string]any) map[string]any {
	payload := map[string]any{"error": err.Error(), "tool_name": toolName}
	for k, v := range extra {
		payload[k] = v
	}
	return payload
}

func round3(f float64) float64 {
	return float64(int(f*1000+0.5)) / 1000
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}
