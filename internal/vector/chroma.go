package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Chroma is an Index backed by a Chroma server's REST API. The collection is
// resolved lazily on first use so that an unreachable store at startup does
// not prevent the server from serving file-backed tools.
type Chroma struct {
	baseURL    string
	collection string
	client     *http.Client

	mu           sync.Mutex
	collectionID string
}

// ChromaOption configures a Chroma client.
type ChromaOption func(*Chroma)

// WithChromaHTTPClient replaces the underlying HTTP client (tests).
func WithChromaHTTPClient(c *http.Client) ChromaOption {
	return func(ch *Chroma) { ch.client = c }
}

// NewChroma creates a client for one collection on one Chroma server.
func NewChroma(host string, port int, collection string, opts ...ChromaOption) *Chroma {
	c := &Chroma{
		baseURL:    fmt.Sprintf("http://%s:%d/api/v1", host, port),
		collection: collection,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewChromaURL creates a client from a full base URL (e.g. a tunnel).
func NewChromaURL(baseURL, collection string, opts ...ChromaOption) *Chroma {
	c := &Chroma{
		baseURL:    strings.TrimRight(baseURL, "/") + "/api/v1",
		collection: collection,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Heartbeat probes the server.
func (c *Chroma) Heartbeat(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/heartbeat", nil)
	return err
}

func (c *Chroma) collectionPath(ctx context.Context, suffix string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.collectionID == "" {
		body, err := c.do(ctx, http.MethodPost, "/collections", map[string]any{
			"name":          c.collection,
			"get_or_create": true,
		})
		if err != nil {
			return "", fmt.Errorf("resolve collection %s: %w", c.collection, err)
		}
		var resp struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(body, &resp); err != nil || resp.ID == "" {
			return "", fmt.Errorf("resolve collection %s: bad response", c.collection)
		}
		c.collectionID = resp.ID
	}
	return "/collections/" + c.collectionID + suffix, nil
}

// Upsert adds or replaces documents. The server computes embeddings from the
// document text with the collection's embedding function.
func (c *Chroma) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	path, err := c.collectionPath(ctx, "/upsert")
	if err != nil {
		return err
	}

	ids := make([]string, len(docs))
	texts := make([]string, len(docs))
	metas := make([]map[string]any, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
		texts[i] = d.Text
		metas[i] = d.Metadata
	}

	_, err = c.do(ctx, http.MethodPost, path, map[string]any{
		"ids":       ids,
		"documents": texts,
		"metadatas": metas,
	})
	return err
}

// Query runs a semantic search, optionally filtered by a metadata where
// expression, and returns up to k hits ordered by ascending distance.
func (c *Chroma) Query(ctx context.Context, text string, k int, where Where) ([]Result, error) {
	path, err := c.collectionPath(ctx, "/query")
	if err != nil {
		return nil, err
	}

	req := map[string]any{
		"query_texts": []string{text},
		"n_results":   k,
		"include":     []string{"documents", "metadatas", "distances"},
	}
	if where != nil {
		req["where"] = map[string]any(where)
	}

	body, err := c.do(ctx, http.MethodPost, path, req)
	if err != nil {
		return nil, err
	}

	var resp struct {
		IDs       [][]string         `json:"ids"`
		Documents [][]string         `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
		Distances [][]float64        `json:"distances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("chroma: decode query response: %w", err)
	}
	if len(resp.IDs) == 0 {
		return nil, nil
	}

	results := make([]Result, 0, len(resp.IDs[0]))
	for i, id := range resp.IDs[0] {
		r := Result{ID: id, Distance: 1.0}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) {
			r.Document = resp.Documents[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			r.Metadata = resp.Metadatas[0][i]
		}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			r.Distance = resp.Distances[0][i]
		}
		results = append(results, r)
	}
	return results, nil
}

// Count returns the number of documents in the collection.
func (c *Chroma) Count(ctx context.Context) (int, error) {
	path, err := c.collectionPath(ctx, "/count")
	if err != nil {
		return 0, err
	}
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	var n int
	if err := json.Unmarshal(body, &n); err != nil {
		return 0, fmt.Errorf("chroma: decode count: %w", err)
	}
	return n, nil
}

// IDs returns every document id in the collection. Used by the direct sync
// transport to diff against the local record store.
func (c *Chroma) IDs(ctx context.Context) ([]string, error) {
	path, err := c.collectionPath(ctx, "/get")
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, http.MethodPost, path, map[string]any{"include": []string{}})
	if err != nil {
		return nil, err
	}
	var resp struct {
		IDs []string `json:"ids"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("chroma: decode ids: %w", err)
	}
	return resp.IDs, nil
}

func (c *Chroma) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("chroma: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("chroma: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chroma: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("chroma: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chroma: %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}
	return data, nil
}
