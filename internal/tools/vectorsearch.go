package tools

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/memexhq/memex/internal/vector"
)

func vectorSearchWindowedDef() Definition {
	return Definition{
		Name:        "vector-search-windowed",
		Description: "Semantic vector search across time with windowing",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":         map[string]any{"type": "string", "description": "Search query (semantic)"},
				"start_time":    map[string]any{"type": "string", "description": "Start of time range (ISO format)"},
				"end_time":      map[string]any{"type": "string", "description": "End of time range (ISO format)"},
				"max_results":   map[string]any{"type": "integer", "default": 20},
				"min_relevance": map[string]any{"type": "number", "default": 0.5},
			},
			"required":             []string{"query", "start_time", "end_time"},
			"additionalProperties": false,
		},
		Run: runVectorSearchWindowed,
	}
}

func runVectorSearchWindowed(ctx context.Context, env *Env, args map[string]any) map[string]any {
	query := argString(args, "query", "")
	startStr := argString(args, "start_time", "")
	endStr := argString(args, "end_time", "")
	maxResults := argInt(args, "max_results", 20)
	minRelevance := argFloat(args, "min_relevance", 0.5)

	fail := func(err error) map[string]any {
		return errPayload("vector_search_windowed", err, map[string]any{"query": query, "results": []any{}})
	}

	if env.Index == nil {
		return fail(fmt.Errorf("ChromaDB not available"))
	}

	start, err := ParseStart(startStr)
	if err != nil {
		return fail(err)
	}
	end, err := ParseEnd(endStr)
	if err != nil {
		return fail(err)
	}
	if !start.Before(end) {
		return fail(fmt.Errorf("start time must be before end time"))
	}

	totalHours := end.Sub(start).Hours()
	windowHours := totalHours / float64(maxResults)
	if windowHours < 1 {
		windowHours = 1
	}
	windowSize := time.Duration(windowHours * float64(time.Hour))

	type span struct{ start, end time.Time }
	var windows []span
	for cur := start; cur.Before(end); {
		wEnd := cur.Add(windowSize)
		if wEnd.After(end) {
			wEnd = end
		}
		windows = append(windows, span{cur, wEnd})
		cur = wEnd
	}

	var results []map[string]any
	for i, w := range windows {
		hits, err := env.Index.Query(ctx, query, 1, vector.And(
			vector.Gte("timestamp", float64(w.start.Unix())),
			vector.Lt("timestamp", float64(w.end.Unix())),
		))
		if err != nil {
			env.logger().Debug("tool.vector_search.window_failed", "window", i, "error", err)
			continue
		}
		if len(hits) == 0 {
			continue
		}
		h := hits[0]
		relevance := vector.Relevance(h.Distance)
		if relevance < minRelevance {
			continue
		}
		screenshotPath := metaString(h.Metadata, "screenshot_path", "")
		results = append(results, map[string]any{
			"text":            h.Document,
			"timestamp":       metaTimestamp(h.Metadata),
			"screen_name":     metaString(h.Metadata, "screen_name", "unknown"),
			"relevance_score": round3(relevance),
			"window_start":    w.start.Format(time.RFC3339),
			"window_end":      w.end.Format(time.RFC3339),
			"window_index":    i,
			"screenshot_path": screenshotPath,
			"has_screenshot":  screenshotPath != "",
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i]["relevance_score"].(float64) > results[j]["relevance_score"].(float64)
	})

	return map[string]any{
		"tool_name": "vector_search_windowed",
		"query":     query,
		"time_range": map[string]any{
			"start_time":     start.Format(time.RFC3339),
			"end_time":       end.Format(time.RFC3339),
			"duration_hours": round2(totalHours),
		},
		"windowing": map[string]any{
			"window_size_hours":    round2(windowHours),
			"total_windows":        len(windows),
			"windows_with_results": len(results),
		},
		"results": results,
	}
}
