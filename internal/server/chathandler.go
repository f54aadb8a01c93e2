package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/memexhq/memex/internal/chat"
	"github.com/memexhq/memex/internal/instance"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// sseWriter emits server-sent events, flushing after every event so the
// client sees text as it streams.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: flusher}
}

func (s *sseWriter) emit(event string, data map[string]any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	s.w.Write([]byte("event: " + event + "\ndata: " + string(payload) + "\n\n"))
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// handleChat streams a chat turn scoped to one instance.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	instName := r.PathValue("instance")
	inst, ok := s.instances.Get(instName)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown instance"})
		return
	}
	s.serveChat(w, r, instName, []*instance.Instance{inst})
}

// handleChatAll streams a chat turn that fans out across all instances.
func (s *Server) handleChatAll(w http.ResponseWriter, r *http.Request) {
	names := s.instances.Names()
	if len(names) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "no instances configured"})
		return
	}
	targets := make([]*instance.Instance, 0, len(names))
	for _, name := range names {
		if inst, ok := s.instances.Get(name); ok {
			targets = append(targets, inst)
		}
	}
	s.serveChat(w, r, targets[0].Name, targets)
}

func (s *Server) serveChat(w http.ResponseWriter, r *http.Request, primary string, targets []*instance.Instance) {
	if s.chat == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "chat is not configured"})
		return
	}

	if r.ContentLength > s.cfg.Server.MaxBodyBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "request body too large"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodyBytes)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "message is required"})
		return
	}

	ip := clientIP(r)
	s.logRequest(ip, r, primary, http.StatusOK)
	if allowed, retry, kind := s.limiter.Check(ip, primary); !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "rate limited", "limit": kind})
		return
	}

	sessions := s.chat.Sessions()
	var sess *chat.Session
	if req.SessionID != "" {
		if existing, ok := sessions.Get(req.SessionID); ok {
			sess = existing
		}
	}
	if sess == nil {
		sess = sessions.Create(primary)
	}

	sse := newSSEWriter(w)
	sse.emit("session", map[string]any{"session_id": sess.ID})

	if err := s.chat.Run(r.Context(), sess, req.Message, targets, sse.emit); err != nil {
		s.logger.Error("chat.run_failed", "session", sess.ID, "error", err)
		sse.emit("error", map[string]any{"error": err.Error()})
	}
	sse.emit("done", map[string]any{})
}

// handleChatDelete discards a session.
func (s *Server) handleChatDelete(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "chat is not configured"})
		return
	}
	id := r.PathValue("session_id")
	if !s.chat.Sessions().Delete(id) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown session"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}
