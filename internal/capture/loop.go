package capture

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/memexhq/memex/internal/record"
	"github.com/memexhq/memex/internal/vector"
)

const (
	captureSource = "memex-capture"
	drainGrace    = 30 * time.Second
	upsertTimeout = 10 * time.Second
)

// Options configures a Capturer. Zero values fall back to the defaults the
// server expects: 60s interval, 1280px long edge, JPEG quality 70, 4 workers.
type Options struct {
	Interval    time.Duration
	MaxLongEdge int
	JPEGQuality int
	Workers     int
	Logger      *slog.Logger
}

func (o *Options) fill() {
	if o.Interval <= 0 {
		o.Interval = 60 * time.Second
	}
	if o.MaxLongEdge <= 0 {
		o.MaxLongEdge = 1280
	}
	if o.JPEGQuality <= 0 {
		o.JPEGQuality = 70
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Capturer drives the capture loop for one instance. Index may be nil; the
// record store is the source of truth and indexing is best-effort.
type Capturer struct {
	store     *record.Store
	index     vector.Index
	imagesDir string
	source    ScreenSource
	ocr       OCRBackend
	opts      Options
	now       func() time.Time
}

type ocrJob struct {
	id        string
	ts        time.Time
	screen    string
	imagePath string
}

func NewCapturer(store *record.Store, index vector.Index, imagesDir string, source ScreenSource, ocr OCRBackend, opts Options) (*Capturer, error) {
	if ocr == nil {
		return nil, fmt.Errorf("capture requires an OCR backend")
	}
	opts.fill()
	return &Capturer{
		store:     store,
		index:     index,
		imagesDir: imagesDir,
		source:    source,
		ocr:       ocr,
		opts:      opts,
		now:       time.Now,
	}, nil
}

// Run captures until the context is cancelled. On shutdown it stops
// dispatching, drains in-flight OCR work up to a grace period, then returns.
func (c *Capturer) Run(ctx context.Context) error {
	log := c.opts.Logger
	log.Info("capture.starting", "interval", c.opts.Interval.String(),
		"workers", c.opts.Workers, "ocr", c.ocr.Name())

	jobs := make(chan ocrJob, c.opts.Workers*4)
	var wg sync.WaitGroup
	for i := 0; i < c.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				c.process(context.WithoutCancel(ctx), job)
			}
		}()
	}

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	c.captureAll(ctx, jobs)
	for {
		select {
		case <-ctx.Done():
			close(jobs)
			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(drainGrace):
				log.Warn("capture.drain_timeout")
			}
			log.Info("capture.stopped")
			return nil
		case <-ticker.C:
			c.captureAll(ctx, jobs)
		}
	}
}

// captureAll grabs every screen once and queues OCR work.
func (c *Capturer) captureAll(ctx context.Context, jobs chan<- ocrJob) {
	log := c.opts.Logger
	n := c.source.NumScreens()
	if n == 0 {
		log.Warn("capture.no_screens")
		return
	}

	ts := c.now()
	for i := 0; i < n; i++ {
		screen := c.source.ScreenName(i)
		img, err := c.source.Capture(i)
		if err != nil {
			log.Warn("capture.grab_failed", "screen", screen, "error", err)
			continue
		}

		id := record.ID(ts, screen)
		imagePath := filepath.Join(c.imagesDir, id+".jpg")
		if err := c.saveJPEG(img, imagePath); err != nil {
			log.Warn("capture.save_failed", "screen", screen, "error", err)
			continue
		}

		job := ocrJob{id: id, ts: ts, screen: screen, imagePath: imagePath}
		select {
		case jobs <- job:
		case <-ctx.Done():
			return
		default:
			// OCR is behind; favor fresh captures over a backlog.
			log.Warn("capture.ocr_backlog", "dropped", id)
		}
	}
}

// saveJPEG shrinks the long edge and writes the screenshot.
func (c *Capturer) saveJPEG(img image.Image, path string) error {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	max := c.opts.MaxLongEdge
	if w >= h && w > max {
		img = imaging.Resize(img, max, 0, imaging.Lanczos)
	} else if h > w && h > max {
		img = imaging.Resize(img, 0, max, imaging.Lanczos)
	}
	return imaging.Save(img, path, imaging.JPEGQuality(c.opts.JPEGQuality))
}

// process runs OCR on one saved screenshot and persists the record. Index
// failures are logged and dropped; sync will repair the index later.
func (c *Capturer) process(ctx context.Context, job ocrJob) {
	log := c.opts.Logger

	text, err := c.ocr.Recognize(ctx, job.imagePath)
	if err != nil {
		log.Warn("capture.ocr_failed", "id", job.id, "error", err)
		return
	}

	rec := record.New(job.ts, job.screen, text, captureSource, job.imagePath)
	if err := c.store.PutRecord(rec); err != nil {
		log.Error("capture.record_write_failed", "id", job.id, "error", err)
		return
	}
	log.Debug("capture.record_written", "id", job.id, "words", rec.WordCount)

	if c.index == nil || text == "" {
		return
	}
	upsertCtx, cancel := context.WithTimeout(ctx, upsertTimeout)
	defer cancel()
	doc := vector.Document{
		ID:   job.id,
		Text: vector.DocText(job.screen, text),
		Metadata: map[string]any{
			"timestamp":      float64(job.ts.Unix()),
			"screen_name":    job.screen,
			"source":         captureSource,
			"extracted_text": text,
		},
	}
	if err := c.index.Upsert(upsertCtx, []vector.Document{doc}); err != nil {
		log.Warn("capture.index_upsert_failed", "id", job.id, "error", err)
	}
}
