// Package server is the multi-tenant HTTP surface: JSON-RPC tools, sync,
// chat streaming and the metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/memexhq/memex/internal/chat"
	"github.com/memexhq/memex/internal/config"
	"github.com/memexhq/memex/internal/instance"
)

// Server wires the instance manager and its security layers into one HTTP
// handler.
type Server struct {
	cfg       *config.Config
	instances *instance.Manager
	auth      *Authenticator
	limiter   *RateLimiter
	validator *Validator
	audit     *AuditLog
	chat      *chat.Orchestrator
	pages     *chat.PageGenerator
	metrics   *metricsReader
	logger    *slog.Logger

	startedAt  time.Time
	httpServer *http.Server
	mux        *http.ServeMux
}

type Option func(*Server)

func WithValidator(v *Validator) Option {
	return func(s *Server) { s.validator = v }
}

func WithChat(o *chat.Orchestrator, pages *chat.PageGenerator) Option {
	return func(s *Server) {
		s.chat = o
		s.pages = pages
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func NewServer(cfg *config.Config, instances *instance.Manager, auth *Authenticator, audit *AuditLog, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		instances: instances,
		auth:      auth,
		limiter:   NewRateLimiter(),
		audit:     audit,
		logger:    slog.Default(),
		startedAt: time.Now(),
	}
	for _, o := range opts {
		o(s)
	}
	if audit != nil {
		s.metrics = newMetricsReader(audit.UsagePath(), cfg.Audit.MetricsWindowLines)
	}
	return s
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/info", s.handleInfo)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/instance/{name}/detail", s.handleInstanceDetail)
	mux.HandleFunc("GET /api/pages", s.handlePageList)
	mux.HandleFunc("GET /pages/{slug}", s.handlePage)
	mux.HandleFunc("GET /screenshots/{instance}/{filename}", s.handleScreenshot)

	mux.HandleFunc("GET /{instance}/sync/status", s.guarded(ScopeSync, s.handleSyncStatus))
	mux.HandleFunc("POST /{instance}/sync", s.guarded(ScopeSync, s.handleSyncPost))
	mux.HandleFunc("POST /{instance}/mcp", s.guarded(ScopeRead, s.handleRPC))
	mux.HandleFunc("GET /{instance}/tools/list", s.guarded(ScopeRead, s.handleToolsListREST))

	mux.HandleFunc("POST /chat", s.handleChatAll)
	mux.HandleFunc("POST /{instance}/chat", s.handleChat)
	mux.HandleFunc("DELETE /{instance}/chat/{session_id}", s.handleChatDelete)

	s.mux = mux
	return mux
}

// Start begins serving until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.BuildMux(),
	}

	s.logger.Info("server.starting", "addr", addr, "instances", s.instances.Names())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// StartTestServer listens on a random localhost port and returns the actual
// address and a start function. Used for integration tests.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: s.BuildMux()}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}
	return addr, start
}

// clientIP resolves the request origin: CF-Connecting-IP, then the first
// X-Forwarded-For hop, then the socket peer.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// guarded applies the request pipeline shared by authenticated instance
// routes: size limit, audit line, auth, rate limit.
func (s *Server) guarded(min Scope, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		instName := r.PathValue("instance")
		ip := clientIP(r)

		if r.ContentLength > s.cfg.Server.MaxBodyBytes {
			s.logRequest(ip, r, instName, http.StatusRequestEntityTooLarge)
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "request body too large"})
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodyBytes)

		// Instance routing resolves before any body parsing, so an unknown
		// instance is a plain HTTP 404 even on the RPC path.
		inst, ok := s.instances.Get(instName)
		if !ok {
			s.logRequest(ip, r, instName, http.StatusNotFound)
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown instance"})
			return
		}

		if _, ok, reason := s.auth.Authenticate(r, instName, min); !ok {
			s.logRequest(ip, r, instName, http.StatusUnauthorized)
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": reason})
			return
		}

		if allowed, retry, kind := s.limiter.Check(ip, instName); !allowed {
			s.logRequest(ip, r, instName, http.StatusTooManyRequests)
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retry))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":       "rate limited",
				"limit":       kind,
				"retry_after": retry,
			})
			return
		}

		s.logRequest(ip, r, instName, http.StatusOK)
		r = r.WithContext(withInstance(r.Context(), inst))
		next(w, r)
	}
}

func (s *Server) logRequest(ip string, r *http.Request, instName string, status int) {
	if s.audit != nil {
		s.audit.Request(ip, r.Method, r.URL.Path, instName, fmt.Sprintf("%d", status))
	}
}

type instanceKey struct{}

func withInstance(ctx context.Context, inst *instance.Instance) context.Context {
	return context.WithValue(ctx, instanceKey{}, inst)
}

func instanceFrom(ctx context.Context) *instance.Instance {
	inst, _ := ctx.Value(instanceKey{}).(*instance.Instance)
	return inst
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
