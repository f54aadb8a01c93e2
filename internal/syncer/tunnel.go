package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TunnelTarget is the central server reached over HTTPS or a tunnel.
type TunnelTarget struct {
	BaseURL  string
	Instance string
	Token    string
	Client   *http.Client
}

func (t *TunnelTarget) httpClient() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func (t *TunnelTarget) url(path string) string {
	return strings.TrimRight(t.BaseURL, "/") + "/" + t.Instance + path
}

type statusResponse struct {
	Instance string   `json:"instance"`
	Count    int      `json:"count"`
	IDs      []string `json:"ids"`
}

type syncResponse struct {
	Status  string   `json:"status"`
	Written int      `json:"written"`
	Indexed int      `json:"indexed"`
	Errors  []string `json:"errors"`
}

// fetchStatus asks the server which record ids it already holds.
func (c *Client) fetchStatus(ctx context.Context, target TunnelTarget) (statusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.url("/sync/status"), nil)
	if err != nil {
		return statusResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+target.Token)

	resp, err := target.httpClient().Do(req)
	if err != nil {
		return statusResponse{}, fmt.Errorf("sync status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusResponse{}, fmt.Errorf("sync status: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return statusResponse{}, fmt.Errorf("sync status: %w", err)
	}
	return status, nil
}

// SyncTunnel runs a differential upload through the server's sync endpoint.
func (c *Client) SyncTunnel(ctx context.Context, target TunnelTarget) (Report, error) {
	status, err := c.fetchStatus(ctx, target)
	if err != nil {
		return Report{}, err
	}
	c.opts.Logger.Info("sync.status", "instance", target.Instance, "remote", status.Count)

	missing, scanned, err := c.missingIDs(status.IDs)
	if err != nil {
		return Report{}, err
	}
	report := Report{Scanned: scanned, Missing: len(missing), DryRun: c.opts.DryRun}
	if c.opts.DryRun || len(missing) == 0 {
		return report, nil
	}

	for start := 0; start < len(missing); start += c.opts.BatchSize {
		end := start + c.opts.BatchSize
		if end > len(missing) {
			end = len(missing)
		}
		docs, failed := c.buildBatch(missing[start:end])
		report.Errors += failed
		if len(docs) == 0 {
			continue
		}

		synced, errCount := c.postBatch(ctx, target, docs)
		report.Synced += synced
		report.Errors += errCount
	}

	c.opts.Logger.Info("sync.done", "instance", target.Instance,
		"synced", report.Synced, "errors", report.Errors)
	return report, nil
}

// postBatch uploads one batch with the retry ladder: HTTP 413 splits the
// batch and retries each half, anything else backs off exponentially. A
// single document that still draws 413 is counted as an error and dropped.
func (c *Client) postBatch(ctx context.Context, target TunnelTarget, docs []syncDocument) (synced, errCount int) {
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			c.sleep(time.Duration(1<<attempt) * time.Second)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return synced, errCount + len(docs)
		}

		resp, err := c.postOnce(ctx, target, docs)
		if err != nil {
			c.opts.Logger.Warn("sync.post_failed", "batch", len(docs), "attempt", attempt+1, "error", err)
			continue
		}

		if resp.StatusCode == http.StatusRequestEntityTooLarge {
			resp.Body.Close()
			if len(docs) == 1 {
				c.opts.Logger.Warn("sync.document_too_large", "id", docs[0].ID)
				return 0, 1
			}
			mid := len(docs) / 2
			s1, e1 := c.postBatch(ctx, target, docs[:mid])
			s2, e2 := c.postBatch(ctx, target, docs[mid:])
			return s1 + s2, e1 + e2
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			c.opts.Logger.Warn("sync.post_rejected", "status", resp.StatusCode,
				"attempt", attempt+1, "body", strings.TrimSpace(string(body)))
			continue
		}

		var result syncResponse
		err = json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		if err != nil {
			c.opts.Logger.Warn("sync.bad_response", "error", err)
			continue
		}
		return result.Written, errCount + len(result.Errors)
	}
	return synced, errCount + len(docs)
}

func (c *Client) postOnce(ctx context.Context, target TunnelTarget, docs []syncDocument) (*http.Response, error) {
	body, err := json.Marshal(map[string]any{"documents": docs})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.url("/sync"), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+target.Token)
	return target.httpClient().Do(req)
}
