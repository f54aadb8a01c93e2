package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/memexhq/memex/internal/tools"
)

const (
	serverName      = "memex"
	protocolVersion = "2024-11-05"
)

// Version is stamped at build time by the main package.
var Version = "dev"

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeAppError       = -32000
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func rpcErr(id json.RawMessage, code int, message string) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}}
}

func rpcOK(id json.RawMessage, result any) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// handleRPC serves one JSON-RPC 2.0 request on /{instance}/mcp.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	inst := instanceFrom(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "request body too large"})
			return
		}
		writeJSON(w, http.StatusOK, rpcErr(nil, codeParseError, "could not read request body"))
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusOK, rpcErr(nil, codeParseError, "invalid JSON"))
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeJSON(w, http.StatusOK, rpcErr(req.ID, codeInvalidRequest, "not a JSON-RPC 2.0 request"))
		return
	}

	// Notifications are acknowledged and dropped.
	if len(req.ID) == 0 || string(req.ID) == "null" {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	switch req.Method {
	case "initialize":
		w.Header().Set("MCP-Session-Id", uuid.NewString())
		writeJSON(w, http.StatusOK, rpcOK(req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo": map[string]any{
				"name":    serverName + "-" + inst.Name,
				"version": Version,
			},
		}))

	case "ping":
		writeJSON(w, http.StatusOK, rpcOK(req.ID, map[string]any{}))

	case "tools/list":
		writeJSON(w, http.StatusOK, rpcOK(req.ID, map[string]any{
			"tools": inst.ToolInfos(),
		}))

	case "tools/call":
		var params toolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
			writeJSON(w, http.StatusOK, rpcErr(req.ID, codeInvalidParams, "tools/call requires a name"))
			return
		}
		writeJSON(w, http.StatusOK, rpcOK(req.ID, s.dispatchTool(r, params)))

	default:
		writeJSON(w, http.StatusOK, rpcErr(req.ID, codeMethodNotFound, "method not found: "+req.Method))
	}
}

// dispatchTool runs the validator gate and the tool itself. Tool failures
// never become RPC errors; they surface as result.isError so clients can
// show partial failures.
func (s *Server) dispatchTool(r *http.Request, params toolCallParams) map[string]any {
	inst := instanceFrom(r.Context())

	if s.validator != nil {
		decision := s.validator.Validate(r.Context(), inst.Name, params.Name, params.Arguments)
		if !decision.Allow {
			if s.audit != nil {
				s.audit.Denial(inst.Name, params.Name, decision.Reason)
			}
			s.logger.Warn("rpc.tool_denied", "instance", inst.Name, "tool", params.Name, "reason", decision.Reason)
			return toolResultBody(tools.ErrorResult("policy denied: " + decision.Reason))
		}
	}

	started := time.Now()
	result := inst.CallTool(r.Context(), params.Name, params.Arguments)

	if s.audit != nil && !result.IsError {
		query, _ := params.Arguments["query"].(string)
		s.audit.ToolCall(inst.Name, params.Name, len(query), resultCount(result), time.Since(started))
	}
	return toolResultBody(result)
}

func toolResultBody(result *tools.Result) map[string]any {
	return map[string]any{
		"content": []map[string]any{{"type": "text", "text": result.ForLLM()}},
		"isError": result.IsError,
	}
}

// resultCount extracts a result count for the usage log, if the payload has
// one of the common shapes.
func resultCount(result *tools.Result) int {
	if n, ok := result.Payload["total_found"].(int); ok {
		return n
	}
	if rows, ok := result.Payload["results"].([]map[string]any); ok {
		return len(rows)
	}
	if rows, ok := result.Payload["data"].([]map[string]any); ok {
		return len(rows)
	}
	return 0
}

// handleToolsListREST is the legacy non-RPC tool listing.
func (s *Server) handleToolsListREST(w http.ResponseWriter, r *http.Request) {
	inst := instanceFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"instance": inst.Name,
		"tools":    inst.ToolInfos(),
	})
}
