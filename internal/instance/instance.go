// Package instance binds one tenant name to its record store, vector
// collection and tool set. Instances are declared at process start; there is
// no runtime create or delete path.
package instance

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/memexhq/memex/internal/record"
	"github.com/memexhq/memex/internal/tools"
	"github.com/memexhq/memex/internal/vector"
)

// Instance is one tenant. Index may be nil when the vector store is down;
// tools degrade to file-based search in that case.
type Instance struct {
	Name    string
	Records *record.Store
	Index   vector.Index
	Tools   *tools.Registry

	imagesDir string
	logger    *slog.Logger
}

// ValidName rejects names that cannot serve as a path segment.
func ValidName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid instance name %q", name)
	}
	return nil
}

// CollectionName derives the vector collection for an instance.
func CollectionName(name string) string {
	return name + "_ocr_history"
}

// Env returns the tool environment for this instance.
func (i *Instance) Env() *tools.Env {
	return &tools.Env{
		Instance: i.Name,
		Records:  i.Records,
		Index:    i.Index,
		Logger:   i.logger,
	}
}

// CallTool dispatches one tool call against this instance.
func (i *Instance) CallTool(ctx context.Context, name string, args map[string]any) *tools.Result {
	return i.Tools.Call(ctx, i.Env(), name, args)
}

// ToolInfos lists the tool descriptors with this instance's prefix.
func (i *Instance) ToolInfos() []tools.ToolInfo {
	return i.Tools.Definitions(i.Name)
}

// ImagesDir is where synced or captured screenshots for this instance live.
func (i *Instance) ImagesDir() string { return i.imagesDir }

// IndexFactory opens the vector index for one instance. A nil factory or a
// factory error leaves the instance without an index.
type IndexFactory func(name string) (vector.Index, error)

// Manager holds the declared instances.
type Manager struct {
	instances map[string]*Instance
	names     []string
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerConfig)

type managerConfig struct {
	logger *slog.Logger
}

// WithLogger sets the logger shared by all instances.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(c *managerConfig) { c.logger = l }
}

// NewManager creates the instance set under baseDir. Each instance gets
// <baseDir>/<name>/ocr for records and <baseDir>/<name>/images for
// screenshots. An index factory error is logged and the instance runs
// without a vector index.
func NewManager(baseDir string, names []string, indexFor IndexFactory, opts ...ManagerOption) (*Manager, error) {
	cfg := managerConfig{logger: slog.Default()}
	for _, o := range opts {
		o(&cfg)
	}

	m := &Manager{instances: make(map[string]*Instance, len(names))}
	registry := tools.NewRegistry()

	for _, name := range names {
		if err := ValidName(name); err != nil {
			return nil, err
		}
		if _, dup := m.instances[name]; dup {
			return nil, fmt.Errorf("duplicate instance %q", name)
		}

		store, err := record.NewStore(filepath.Join(baseDir, name, "ocr"),
			record.WithLogger(cfg.logger))
		if err != nil {
			return nil, fmt.Errorf("instance %s: %w", name, err)
		}
		imagesDir := filepath.Join(baseDir, name, "images")
		if err := os.MkdirAll(imagesDir, 0o755); err != nil {
			return nil, fmt.Errorf("instance %s: %w", name, err)
		}

		var index vector.Index
		if indexFor != nil {
			index, err = indexFor(name)
			if err != nil {
				cfg.logger.Warn("instance.index_unavailable", "instance", name, "error", err)
				index = nil
			}
		}

		m.instances[name] = &Instance{
			Name:      name,
			Records:   store,
			Index:     index,
			Tools:     registry,
			imagesDir: imagesDir,
			logger:    cfg.logger.With("instance", name),
		}
		m.names = append(m.names, name)
	}
	sort.Strings(m.names)
	return m, nil
}

// Get looks up an instance by name.
func (m *Manager) Get(name string) (*Instance, bool) {
	inst, ok := m.instances[name]
	return inst, ok
}

// Names returns the instance names, sorted.
func (m *Manager) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}
