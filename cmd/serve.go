package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/memexhq/memex/internal/chat"
	"github.com/memexhq/memex/internal/config"
	"github.com/memexhq/memex/internal/instance"
	"github.com/memexhq/memex/internal/providers"
	"github.com/memexhq/memex/internal/server"
	"github.com/memexhq/memex/internal/vector"
)

const embedderDim = 256

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the multi-tenant memory server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

// indexFactory picks the vector backend: ChromaDB when a host is configured,
// otherwise an embedded SQLite index under the instance directory.
func indexFactory(cfg *config.Config) instance.IndexFactory {
	return func(name string) (vector.Index, error) {
		if cfg.Chroma.Host != "" {
			return vector.NewChroma(cfg.Chroma.Host, cfg.Chroma.Port, instance.CollectionName(name)), nil
		}
		path := filepath.Join(cfg.Data.BaseDir, name, "vector.db")
		return vector.NewSQLite(path, vector.NewHashEmbedder(embedderDim))
	}
}

func runServe() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}
	logger := slog.Default()

	names := cfg.Data.InstanceNames()
	if len(names) == 0 {
		return fmt.Errorf("no instances configured; set data.instances or INSTANCES")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager, err := instance.NewManager(cfg.Data.BaseDir, names, indexFactory(cfg),
		instance.WithLogger(logger))
	if err != nil {
		return err
	}

	var auth *server.Authenticator
	switch {
	case cfg.Server.APIKeysPath != "":
		auth, err = server.LoadAuthenticator(cfg.Server.APIKeysPath)
		if err != nil {
			return err
		}
	case cfg.Sync.Token != "":
		auth = server.NewStaticAuthenticator(nil)
	default:
		return fmt.Errorf("no credentials configured; set server.api_keys_path or MEMEX_PROMETHEUS_TOKEN")
	}
	if cfg.Sync.Token != "" {
		auth.Add(cfg.Sync.Token, "prometheus", server.ScopeSync, nil)
	}

	audit, err := server.NewAuditLog(cfg.Data.LogDir, logger)
	if err != nil {
		return err
	}
	defer audit.Close()

	opts := []server.Option{server.WithLogger(logger)}

	validator, err := server.NewValidator(cfg.Server.OllamaHost, cfg.Server.OllamaModel,
		cfg.Server.SecurityPolicyPath, logger)
	if err != nil {
		return err
	}
	if validator != nil {
		if err := validator.WatchPolicy(ctx); err != nil {
			return err
		}
		opts = append(opts, server.WithValidator(validator))
	} else {
		logger.Warn("server.validator_disabled")
	}

	pages, err := chat.NewPageGenerator(cfg.Data.PagesDir)
	if err != nil {
		return err
	}
	var orch *chat.Orchestrator
	if cfg.Chat.AnthropicAPIKey != "" {
		var providerOpts []providers.AnthropicOption
		if cfg.Chat.Model != "" {
			providerOpts = append(providerOpts, providers.WithAnthropicModel(cfg.Chat.Model))
		}
		provider := providers.NewAnthropicProvider(cfg.Chat.AnthropicAPIKey, providerOpts...)

		sessions := chat.NewSessionManager()
		sessions.StartSweeper(ctx, 10*time.Minute)
		orch = chat.NewOrchestrator(provider, sessions, pages, logger)
	} else {
		logger.Warn("server.chat_disabled", "reason", "no anthropic api key")
	}
	opts = append(opts, server.WithChat(orch, pages))

	server.Version = Version
	srv := server.NewServer(cfg, manager, auth, audit, opts...)
	return srv.Start(ctx)
}
