package tools

import (
	"context"
	"time"

	"github.com/memexhq/memex/internal/record"
)

func getStatsDef() Definition {
	return Definition{
		Name:        "get-stats",
		Description: "Get statistics about OCR data and ChromaDB collection",
		InputSchema: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{},
			"additionalProperties": false,
		},
		Run: runGetStats,
	}
}

func runGetStats(ctx context.Context, env *Env, _ map[string]any) map[string]any {
	ids, err := env.Records.ListIDs()
	if err != nil {
		return errPayload("get-stats", err, nil)
	}
	size, err := env.Records.DirSize()
	if err != nil {
		return errPayload("get-stats", err, nil)
	}

	var earliest, latest string
	if len(ids) > 0 {
		// ListIDs is sorted and ids sort chronologically by construction.
		if ts, err := record.StemTime(ids[0]); err == nil {
			earliest = ts.Format(time.RFC3339)
		}
		if ts, err := record.StemTime(ids[len(ids)-1]); err == nil {
			latest = ts.Format(time.RFC3339)
		}
	}

	payload := map[string]any{
		"instance":         env.Instance,
		"ocr_files":        len(ids),
		"storage_bytes":    size,
		"storage_mb":       round2(float64(size) / (1024 * 1024)),
		"earliest_capture": earliest,
		"latest_capture":   latest,
	}

	if env.Index != nil {
		if n, err := env.Index.Count(ctx); err == nil {
			payload["vector_count"] = n
			payload["chromadb_available"] = true
		} else {
			payload["chromadb_available"] = false
			payload["chromadb_error"] = err.Error()
		}
	} else {
		payload["chromadb_available"] = false
	}
	return payload
}
