package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/memexhq/memex/internal/vector"
)

// SyncDocument is one record in a sync batch. RawJSON is written to the
// record store verbatim; Text and Metadata feed the vector index.
type SyncDocument struct {
	ID       string          `json:"id"`
	Text     string          `json:"text"`
	Metadata map[string]any  `json:"metadata"`
	RawJSON  json.RawMessage `json:"raw_json"`
}

type syncRequest struct {
	Documents []SyncDocument `json:"documents"`
}

// handleSyncStatus reports the ids present in the record store. The diff
// set comes from the store, not the vector index, so a broken index cannot
// make persisted records look missing.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	inst := instanceFrom(r.Context())

	ids, err := inst.Records.ListIDs()
	if err != nil {
		s.logger.Error("sync.status_failed", "instance", inst.Name, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "could not list records"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"instance": inst.Name,
		"count":    len(ids),
		"ids":      ids,
	})
}

// handleSyncPost ingests a batch: every document lands in the record store,
// non-empty texts are upserted into the vector index. Per-document failures
// never abort the batch.
func (s *Server) handleSyncPost(w http.ResponseWriter, r *http.Request) {
	inst := instanceFrom(r.Context())
	started := time.Now()

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}

	written := 0
	var syncErrors []string
	var docs []vector.Document

	for _, doc := range req.Documents {
		if doc.ID == "" {
			syncErrors = append(syncErrors, "document with empty id skipped")
			continue
		}
		raw := doc.RawJSON
		if len(raw) == 0 {
			fallback, err := json.Marshal(map[string]any{"text": doc.Text, "metadata": doc.Metadata})
			if err != nil {
				syncErrors = append(syncErrors, fmt.Sprintf("%s: %v", doc.ID, err))
				continue
			}
			raw = fallback
		}
		if err := inst.Records.Put(doc.ID, raw); err != nil {
			syncErrors = append(syncErrors, fmt.Sprintf("%s: %v", doc.ID, err))
			continue
		}
		written++

		if doc.Text != "" {
			docs = append(docs, vector.Document{
				ID:       doc.ID,
				Text:     doc.Text,
				Metadata: flattenMetadata(doc.Metadata),
			})
		}
	}

	indexed := 0
	if len(docs) > 0 && inst.Index != nil {
		if err := inst.Index.Upsert(r.Context(), docs); err != nil {
			s.logger.Warn("sync.index_failed", "instance", inst.Name, "error", err)
			syncErrors = append(syncErrors, fmt.Sprintf("vector upsert: %v", err))
		} else {
			indexed = len(docs)
		}
	}

	if s.audit != nil {
		s.audit.Sync(inst.Name, written, time.Since(started))
	}
	s.logger.Info("sync.batch", "instance", inst.Name, "received", len(req.Documents),
		"written", written, "indexed", indexed, "errors", len(syncErrors))

	if len(syncErrors) > 10 {
		syncErrors = syncErrors[:10]
	}
	if syncErrors == nil {
		syncErrors = []string{}
	}

	status := "ok"
	if len(syncErrors) > 0 {
		status = "partial"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"written": written,
		"indexed": indexed,
		"errors":  syncErrors,
	})
}

// flattenMetadata keeps only scalar fields; vector stores reject nested
// values.
func flattenMetadata(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		switch v.(type) {
		case string, float64, int, int64, bool:
			out[k] = v
		}
	}
	return out
}
