package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// AuditLog appends one plain-text line per request to audit.log and one
// JSON object per successful tool call to usage.jsonl. These files are the
// only input to the metrics endpoints; no database is involved.
type AuditLog struct {
	mu        sync.Mutex
	auditFile *os.File
	usageFile *os.File
	usagePath string
	logger    *slog.Logger
	now       func() time.Time
}

func NewAuditLog(logDir string, logger *slog.Logger) (*AuditLog, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	open := func(name string) (*os.File, error) {
		return os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	}
	auditFile, err := open("audit.log")
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	usageFile, err := open("usage.jsonl")
	if err != nil {
		auditFile.Close()
		return nil, fmt.Errorf("open usage log: %w", err)
	}

	return &AuditLog{
		auditFile: auditFile,
		usageFile: usageFile,
		usagePath: filepath.Join(logDir, "usage.jsonl"),
		logger:    logger,
		now:       time.Now,
	}, nil
}

// UsagePath returns the usage.jsonl location for the metrics reader.
func (a *AuditLog) UsagePath() string { return a.usagePath }

func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err1 := a.auditFile.Close()
	err2 := a.usageFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Request writes one key=value audit line. Values containing spaces are
// quoted so the line stays parseable.
func (a *AuditLog) Request(ip, method, path, instance, status string) {
	line := fmt.Sprintf("ts=%s ip=%s method=%s path=%s instance=%s status=%s\n",
		a.now().UTC().Format(time.RFC3339), quoteIfNeeded(ip), method,
		quoteIfNeeded(path), quoteIfNeeded(instance), status)

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.auditFile.WriteString(line); err != nil {
		a.logger.Warn("audit.write_failed", "error", err)
	}
}

// UsageEvent is one line of usage.jsonl.
type UsageEvent struct {
	TS         string `json:"ts"`
	Event      string `json:"event"`
	Instance   string `json:"instance"`
	Tool       string `json:"tool,omitempty"`
	QueryLen   int    `json:"query_len"`
	Results    int    `json:"results"`
	DurationMS int64  `json:"duration_ms"`
}

// ToolCall records one completed tool dispatch.
func (a *AuditLog) ToolCall(instance, tool string, queryLen, results int, duration time.Duration) {
	a.usage(UsageEvent{
		Event:      "tool_call",
		Instance:   instance,
		Tool:       tool,
		QueryLen:   queryLen,
		Results:    results,
		DurationMS: duration.Milliseconds(),
	})
}

// Denial records a validator or auth rejection.
func (a *AuditLog) Denial(instance, tool, reason string) {
	a.usage(UsageEvent{
		Event:    "denied:" + reason,
		Instance: instance,
		Tool:     tool,
	})
}

// Sync records one sync batch.
func (a *AuditLog) Sync(instance string, written int, duration time.Duration) {
	a.usage(UsageEvent{
		Event:      "sync",
		Instance:   instance,
		Results:    written,
		DurationMS: duration.Milliseconds(),
	})
}

func (a *AuditLog) usage(ev UsageEvent) {
	ev.TS = a.now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(ev)
	if err != nil {
		a.logger.Warn("audit.usage_marshal_failed", "error", err)
		return
	}
	data = append(data, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.usageFile.Write(data); err != nil {
		a.logger.Warn("audit.usage_write_failed", "error", err)
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\"") {
		return fmt.Sprintf("%q", s)
	}
	return s
}
