package tools

import "encoding/json"

// Result is the unified return type from tool execution. Handled failures
// inside a tool are reported in-band via an "error" key in the payload;
// IsError is reserved for calls that never reached a tool (unknown name,
// policy denial), which the RPC layer surfaces as isError content.
type Result struct {
	Payload map[string]any `json:"payload"`
	IsError bool           `json:"is_error"`
}

func NewResult(payload map[string]any) *Result {
	return &Result{Payload: payload}
}

func ErrorResult(message string) *Result {
	return &Result{Payload: map[string]any{"error": message}, IsError: true}
}

// ForLLM renders the payload as compact JSON for tool-result turns.
func (r *Result) ForLLM() string {
	data, err := json.Marshal(r.Payload)
	if err != nil {
		return `{"error":"unserializable tool result"}`
	}
	return string(data)
}
