package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const validatorTimeout = 2 * time.Second

// Decision is the validator verdict for one tool call.
type Decision struct {
	Allow  bool
	Reason string
}

// Validator checks each tools/call against a natural-language policy using
// a small local LLM. Unreachable or slow validators deny the call; this is
// a security gate and must fail closed.
type Validator struct {
	host   string
	model  string
	client *http.Client
	logger *slog.Logger

	mu         sync.RWMutex
	policy     string
	policyPath string
	watcher    *fsnotify.Watcher
}

// NewValidator builds a validator against an Ollama endpoint. An empty host
// returns nil, meaning validation is disabled.
func NewValidator(host, model, policyPath string, logger *slog.Logger) (*Validator, error) {
	if host == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	v := &Validator{
		host:       strings.TrimRight(host, "/"),
		model:      model,
		client:     &http.Client{Timeout: validatorTimeout},
		logger:     logger,
		policyPath: policyPath,
	}
	if err := v.loadPolicy(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Validator) loadPolicy() error {
	if v.policyPath == "" {
		return nil
	}
	data, err := os.ReadFile(v.policyPath)
	if err != nil {
		return fmt.Errorf("read security policy: %w", err)
	}
	v.mu.Lock()
	v.policy = string(data)
	v.mu.Unlock()
	return nil
}

// WatchPolicy reloads the policy file when it changes on disk. Editors that
// replace the file are handled by watching the directory.
func (v *Validator) WatchPolicy(ctx context.Context) error {
	if v.policyPath == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("policy watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(v.policyPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("policy watcher: %w", err)
	}
	v.watcher = watcher

	go func() {
		defer watcher.Close()
		target := filepath.Base(v.policyPath)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := v.loadPolicy(); err != nil {
					v.logger.Warn("validator.policy_reload_failed", "error", err)
					continue
				}
				v.logger.Info("validator.policy_reloaded", "path", v.policyPath)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				v.logger.Warn("validator.watch_error", "error", err)
			}
		}
	}()
	return nil
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

type verdict struct {
	Allow  *bool  `json:"allow"`
	Reason string `json:"reason"`
}

// Validate asks the policy model whether one tool call is permitted.
func (v *Validator) Validate(ctx context.Context, instance, tool string, args map[string]any) Decision {
	v.mu.RLock()
	policy := v.policy
	v.mu.RUnlock()

	argsJSON, _ := json.Marshal(args)
	prompt := fmt.Sprintf(`You are a security validator for a personal memory server.

Policy:
%s

A client of instance %q wants to call tool %q with arguments:
%s

Reply with ONLY a JSON object: {"allow": true/false, "reason": "short explanation"}`,
		policy, instance, tool, argsJSON)

	body, _ := json.Marshal(ollamaRequest{
		Model:  v.model,
		Prompt: prompt,
		Stream: false,
		Format: "json",
	})

	ctx, cancel := context.WithTimeout(ctx, validatorTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Decision{Allow: false, Reason: "validator_unavailable"}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			v.logger.Warn("validator.timeout", "tool", tool)
			return Decision{Allow: false, Reason: "validator_timeout"}
		}
		v.logger.Warn("validator.unreachable", "error", err)
		return Decision{Allow: false, Reason: "validator_timeout"}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		v.logger.Warn("validator.bad_status", "status", resp.StatusCode)
		return Decision{Allow: false, Reason: "validator_unavailable"}
	}

	var outer ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&outer); err != nil {
		return Decision{Allow: false, Reason: "validator_malformed"}
	}

	var ver verdict
	if err := json.Unmarshal([]byte(outer.Response), &ver); err != nil || ver.Allow == nil {
		v.logger.Warn("validator.malformed_verdict", "response", outer.Response)
		return Decision{Allow: false, Reason: "validator_malformed"}
	}

	if !*ver.Allow && ver.Reason == "" {
		ver.Reason = "denied_by_policy"
	}
	return Decision{Allow: *ver.Allow, Reason: ver.Reason}
}
