package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/memexhq/memex/internal/config"
	"github.com/memexhq/memex/internal/instance"
	"github.com/memexhq/memex/internal/record"
	"github.com/memexhq/memex/internal/syncer"
	"github.com/memexhq/memex/internal/vector"
)

func statusCmd() *cobra.Command {
	var edgeConfigPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show local data and server reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(edgeConfigPath)
		},
	}
	cmd.Flags().StringVar(&edgeConfigPath, "instance-config", defaultEdgeConfigPath(), "edge instance config file")
	return cmd
}

func runStatus(edgeConfigPath string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}
	edge, err := config.LoadEdge(edgeConfigPath)
	if err != nil {
		return err
	}
	endpoint, err := edge.Resolve()
	if err != nil {
		return err
	}

	store, err := record.NewStore(filepath.Join(cfg.Data.BaseDir, edge.InstanceName, "ocr"))
	if err != nil {
		return err
	}
	count, err := store.Count()
	if err != nil {
		return err
	}
	size, err := store.DirSize()
	if err != nil {
		return err
	}

	fmt.Printf("instance:      %s\n", edge.InstanceName)
	fmt.Printf("hosting mode:  %s\n", edge.HostingMode)
	fmt.Printf("local records: %d (%.1f MB)\n", count, float64(size)/(1024*1024))

	if endpoint.Tunneled() {
		fmt.Printf("sync target:   %s (tunnel)\n", endpoint.TunnelURL)
		return nil
	}

	fmt.Printf("sync target:   %s:%d (direct)\n", endpoint.Host, endpoint.ChromaPort)
	if err := syncer.Probe(endpoint.Host, endpoint.ChromaPort); err != nil {
		fmt.Printf("reachability:  down (%v)\n", err)
		return nil
	}
	fmt.Printf("reachability:  up\n")

	index := vector.NewChroma(endpoint.Host, endpoint.ChromaPort,
		instance.CollectionName(edge.InstanceName))
	if remote, err := index.Count(context.Background()); err == nil {
		fmt.Printf("remote count:  %d\n", remote)
	}
	return nil
}
