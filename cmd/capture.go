package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/memexhq/memex/internal/capture"
	"github.com/memexhq/memex/internal/config"
	"github.com/memexhq/memex/internal/instance"
	"github.com/memexhq/memex/internal/record"
	"github.com/memexhq/memex/internal/vector"
)

func defaultEdgeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "instance.json"
	}
	return filepath.Join(home, ".memex", "instance.json")
}

func captureCmd() *cobra.Command {
	var edgeConfigPath string
	var ocrLang string

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Run the edge screen capture loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(edgeConfigPath, ocrLang)
		},
	}
	cmd.Flags().StringVar(&edgeConfigPath, "instance-config", defaultEdgeConfigPath(), "edge instance config file")
	cmd.Flags().StringVar(&ocrLang, "ocr-lang", "eng", "tesseract language")
	return cmd
}

func runCapture(edgeConfigPath, ocrLang string) error {
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

	instDir := filepath.Join(cfg.Data.BaseDir, edge.InstanceName)
	store, err := record.NewStore(filepath.Join(instDir, "ocr"))
	if err != nil {
		return err
	}
	imagesDir := filepath.Join(instDir, "images")
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return fmt.Errorf("create images dir: %w", err)
	}

	// A missing OCR backend makes every capture worthless, so it is fatal.
	ocr, err := capture.DetectOCRBackend(ocrLang)
	if err != nil {
		return err
	}

	// Best-effort local indexing; a tunneled setup relies on sync instead.
	var index vector.Index
	if !endpoint.Tunneled() {
		index = vector.NewChroma(endpoint.Host, endpoint.ChromaPort,
			instance.CollectionName(edge.InstanceName))
	}

	source := capture.NewDisplaySource(cfg.Capture.ScreenName)
	capturer, err := capture.NewCapturer(store, index, imagesDir, source, ocr, capture.Options{
		Interval:    cfg.Capture.Interval(),
		MaxLongEdge: cfg.Capture.MaxLongEdge,
		JPEGQuality: cfg.Capture.JPEGQuality,
		Workers:     cfg.Capture.OCRWorkers,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return capturer.Run(ctx)
}
