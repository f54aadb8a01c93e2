// Package syncer uploads locally captured records to the central server. It
// is differential: only records the remote side does not hold are sent, so
// repeated runs converge and interrupted runs resume where they stopped.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/memexhq/memex/internal/record"
	"github.com/memexhq/memex/internal/vector"
)

const (
	defaultBatchSize   = 100
	defaultMaxAttempts = 3
	probeTimeout       = 2 * time.Second

	// batchesPerSecond paces uploads so a cold-start sync does not starve
	// the server's rate limiter for interactive clients.
	batchesPerSecond = 2
)

// Report summarizes one sync run.
type Report struct {
	Scanned int  `json:"scanned"`
	Missing int  `json:"missing"`
	Synced  int  `json:"synced"`
	Errors  int  `json:"errors"`
	DryRun  bool `json:"dry_run,omitempty"`
}

// Options configures a sync run.
type Options struct {
	BatchSize   int
	MaxAttempts int
	Force       bool
	DryRun      bool
	Logger      *slog.Logger
}

func (o *Options) fill() {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Client syncs one instance's record store to a remote target.
type Client struct {
	store   *record.Store
	opts    Options
	limiter *rate.Limiter
	sleep   func(time.Duration)
}

func NewClient(store *record.Store, opts Options) *Client {
	opts.fill()
	return &Client{
		store:   store,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(batchesPerSecond), 1),
		sleep:   time.Sleep,
	}
}

// Probe checks TCP reachability of a host before attempting a sync.
func Probe(host string, port int) error {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", addr, probeTimeout)
	if err != nil {
		return fmt.Errorf("probe %s: %w", addr, err)
	}
	conn.Close()
	return nil
}

// missingIDs diffs local records against a remote id set.
func (c *Client) missingIDs(remote []string) ([]string, int, error) {
	local, err := c.store.ListIDs()
	if err != nil {
		return nil, 0, fmt.Errorf("list local records: %w", err)
	}
	if c.opts.Force {
		return local, len(local), nil
	}

	have := make(map[string]struct{}, len(remote))
	for _, id := range remote {
		have[id] = struct{}{}
	}
	var missing []string
	for _, id := range local {
		if _, ok := have[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, len(local), nil
}

// syncDocument mirrors the server's sync ingest shape.
type syncDocument struct {
	ID       string          `json:"id"`
	Text     string          `json:"text"`
	Metadata map[string]any  `json:"metadata"`
	RawJSON  json.RawMessage `json:"raw_json"`
}

// buildDocument loads one record and wraps it for upload.
func (c *Client) buildDocument(id string) (syncDocument, error) {
	rec, err := c.store.Get(id)
	if err != nil {
		return syncDocument{}, err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return syncDocument{}, err
	}

	meta := map[string]any{
		"screen_name": rec.ScreenName,
		"source":      rec.Source,
		"text_length": rec.TextLength,
		"word_count":  rec.WordCount,
	}
	if ts, err := record.StemTime(id); err == nil {
		meta["timestamp"] = float64(ts.Unix())
	}

	// Empty records stay empty so the ingest side skips indexing them.
	text := ""
	if rec.Text != "" {
		text = vector.DocText(rec.ScreenName, rec.Text)
		meta["extracted_text"] = rec.Text
	}
	return syncDocument{ID: id, Text: text, Metadata: meta, RawJSON: raw}, nil
}

func (c *Client) buildBatch(ids []string) ([]syncDocument, int) {
	docs := make([]syncDocument, 0, len(ids))
	failed := 0
	for _, id := range ids {
		doc, err := c.buildDocument(id)
		if err != nil {
			c.opts.Logger.Warn("sync.record_unreadable", "id", id, "error", err)
			failed++
			continue
		}
		docs = append(docs, doc)
	}
	return docs, failed
}

// SyncDirect pushes missing records straight into a vector index on the LAN.
func (c *Client) SyncDirect(ctx context.Context, index vector.Index) (Report, error) {
	remote, err := index.IDs(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("remote ids: %w", err)
	}

	missing, scanned, err := c.missingIDs(remote)
	if err != nil {
		return Report{}, err
	}
	report := Report{Scanned: scanned, Missing: len(missing), DryRun: c.opts.DryRun}
	if c.opts.DryRun {
		return report, nil
	}

	for start := 0; start < len(missing); start += c.opts.BatchSize {
		end := start + c.opts.BatchSize
		if end > len(missing) {
			end = len(missing)
		}
		docs, failed := c.buildBatch(missing[start:end])
		report.Errors += failed

		batch := make([]vector.Document, 0, len(docs))
		for _, d := range docs {
			if d.Text == "" {
				report.Synced++ // nothing to index, nothing to fail
				continue
			}
			batch = append(batch, vector.Document{ID: d.ID, Text: d.Text, Metadata: d.Metadata})
		}
		if len(batch) == 0 {
			continue
		}
		if err := index.Upsert(ctx, batch); err != nil {
			c.opts.Logger.Warn("sync.direct_upsert_failed", "batch", len(batch), "error", err)
			report.Errors += len(batch)
			continue
		}
		report.Synced += len(batch)
	}
	return report, nil
}
