package server

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// Scope orders capabilities: read < sync < admin.
type Scope int

const (
	ScopeRead Scope = iota
	ScopeSync
	ScopeAdmin
)

func parseScope(s string) (Scope, error) {
	switch strings.TrimSpace(s) {
	case "read", "":
		return ScopeRead, nil
	case "sync":
		return ScopeSync, nil
	case "admin":
		return ScopeAdmin, nil
	}
	return 0, fmt.Errorf("unknown scope %q", s)
}

type apiKey struct {
	name      string
	scope     Scope
	instances map[string]struct{} // nil means all
}

func (k apiKey) allows(instance string) bool {
	if k.instances == nil {
		return true
	}
	_, ok := k.instances[instance]
	return ok
}

// Authenticator maps bearer tokens to allowed instances and a scope.
// Tokens are loaded once at startup.
type Authenticator struct {
	keys map[string]apiKey
}

// LoadAuthenticator reads the API keys file. Each non-comment line is
//
//	name = token ; scope ; instance,instance
//
// with scope one of read/sync/admin and "*" meaning all instances. The key
// named "prometheus" is the edge sync token and defaults to sync scope.
func LoadAuthenticator(path string) (*Authenticator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open api keys: %w", err)
	}
	defer f.Close()

	a := &Authenticator{keys: map[string]apiKey{}}
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name, rest, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("api keys line %d: missing '='", lineNo)
		}
		name = strings.TrimSpace(name)

		parts := strings.Split(rest, ";")
		token := strings.TrimSpace(parts[0])
		if token == "" {
			return nil, fmt.Errorf("api keys line %d: empty token", lineNo)
		}

		key := apiKey{name: name}
		if name == "prometheus" {
			key.scope = ScopeSync
		}
		if len(parts) > 1 {
			key.scope, err = parseScope(parts[1])
			if err != nil {
				return nil, fmt.Errorf("api keys line %d: %w", lineNo, err)
			}
		}
		if len(parts) > 2 {
			spec := strings.TrimSpace(parts[2])
			if spec != "*" && spec != "" {
				key.instances = map[string]struct{}{}
				for _, inst := range strings.Split(spec, ",") {
					key.instances[strings.TrimSpace(inst)] = struct{}{}
				}
			}
		}
		a.keys[token] = key
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read api keys: %w", err)
	}
	return a, nil
}

// Add registers one more token, overriding any file entry with the same
// token. Used for the env-provided edge sync token.
func (a *Authenticator) Add(token, name string, scope Scope, instances []string) {
	key := apiKey{name: name, scope: scope}
	if len(instances) > 0 {
		key.instances = map[string]struct{}{}
		for _, inst := range instances {
			key.instances[inst] = struct{}{}
		}
	}
	a.keys[token] = key
}

// NewStaticAuthenticator builds an authenticator from in-memory tokens.
func NewStaticAuthenticator(tokens map[string]struct {
	Name      string
	Scope     Scope
	Instances []string
}) *Authenticator {
	a := &Authenticator{keys: map[string]apiKey{}}
	for token, spec := range tokens {
		key := apiKey{name: spec.Name, scope: spec.Scope}
		if len(spec.Instances) > 0 {
			key.instances = map[string]struct{}{}
			for _, inst := range spec.Instances {
				key.instances[inst] = struct{}{}
			}
		}
		a.keys[token] = key
	}
	return a
}

// Authenticate validates the bearer token on a request for one instance and
// minimum scope. The returned reason is machine-readable.
func (a *Authenticator) Authenticate(r *http.Request, instance string, min Scope) (keyName string, ok bool, reason string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false, "missing_token"
	}
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return "", false, "malformed_authorization_header"
	}

	key, exists := a.keys[token]
	if !exists {
		return "", false, "unknown_token"
	}
	if !key.allows(instance) {
		return key.name, false, "instance_not_allowed"
	}
	if key.scope < min {
		return key.name, false, "insufficient_scope"
	}
	return key.name, true, ""
}
