package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/memexhq/memex/internal/config"
	"github.com/memexhq/memex/internal/instance"
	"github.com/memexhq/memex/internal/record"
	"github.com/memexhq/memex/internal/syncer"
	"github.com/memexhq/memex/internal/vector"
)

func syncCmd() *cobra.Command {
	var edgeConfigPath string
	var force, dryRun bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Upload local records to the central server",
		Long: "Diffs local OCR records against the remote side and uploads what is\n" +
			"missing. Exit code 0 means clean, 1 means a user error such as a missing\n" +
			"token or an unreachable target, 2 means an internal error.",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runSync(edgeConfigPath, force, dryRun))
		},
	}
	cmd.Flags().StringVar(&edgeConfigPath, "instance-config", defaultEdgeConfigPath(), "edge instance config file")
	cmd.Flags().BoolVar(&force, "force", false, "resend every record regardless of the remote diff")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "diff only, upload nothing")
	return cmd
}

// Exit codes: 0 clean, 1 user error (bad config, missing token, unreachable
// target), 2 internal error (store failure, records the server rejected).
const (
	syncExitOK       = 0
	syncExitUser     = 1
	syncExitInternal = 2
)

func runSync(edgeConfigPath string, force, dryRun bool) int {
	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return syncExitUser
	}
	edge, err := config.LoadEdge(edgeConfigPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return syncExitUser
	}
	endpoint, err := edge.Resolve()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return syncExitUser
	}

	store, err := record.NewStore(filepath.Join(cfg.Data.BaseDir, edge.InstanceName, "ocr"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return syncExitInternal
	}

	client := syncer.NewClient(store, syncer.Options{
		BatchSize:   cfg.Sync.BatchSize,
		MaxAttempts: cfg.Sync.MaxAttempts,
		Force:       force,
		DryRun:      dryRun,
	})

	ctx := context.Background()
	var report syncer.Report
	if endpoint.Tunneled() {
		if cfg.Sync.Token == "" {
			fmt.Fprintln(os.Stderr, "sync: MEMEX_PROMETHEUS_TOKEN is not set")
			return syncExitUser
		}
		report, err = client.SyncTunnel(ctx, syncer.TunnelTarget{
			BaseURL:  endpoint.TunnelURL,
			Instance: edge.InstanceName,
			Token:    cfg.Sync.Token,
		})
	} else {
		if probeErr := syncer.Probe(endpoint.Host, endpoint.ChromaPort); probeErr != nil {
			fmt.Fprintln(os.Stderr, probeErr)
			return syncExitUser
		}
		index := vector.NewChroma(endpoint.Host, endpoint.ChromaPort,
			instance.CollectionName(edge.InstanceName))
		report, err = client.SyncDirect(ctx, index)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return syncExitUser
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
	if report.Errors > 0 {
		return syncExitInternal
	}
	return syncExitOK
}
