package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/memexhq/memex/internal/vector"
)

func searchScreenshotsDef() Definition {
	return Definition{
		Name:        "search-screenshots",
		Description: "Search OCR data from screenshots with optional filtering by date range.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":      map[string]any{"type": "string", "description": "Search query for the OCR text content"},
				"start_date": map[string]any{"type": "string", "description": "Start date (YYYY-MM-DD format, optional)"},
				"end_date":   map[string]any{"type": "string", "description": "End date (YYYY-MM-DD format, optional)"},
				"limit":      map[string]any{"type": "integer", "description": "Max results (default: 10)", "default": 10},
				"data_type":  map[string]any{"type": "string", "enum": []string{"ocr"}, "description": "Filter by data type"},
			},
			"required":             []string{"query"},
			"additionalProperties": false,
		},
		Run: runSearchScreenshots,
	}
}

func runSearchScreenshots(ctx context.Context, env *Env, args map[string]any) map[string]any {
	query := argString(args, "query", "")
	startDate := argString(args, "start_date", "")
	endDate := argString(args, "end_date", "")
	limit := argInt(args, "limit", 10)
	dataType := argString(args, "data_type", "")

	env.logger().Info("tool.search", "instance", env.Instance, "query", query,
		"start_date", startDate, "end_date", endDate, "limit", limit)

	if env.Index != nil {
		payload, err := searchVector(ctx, env, query, startDate, endDate, limit, dataType)
		if err == nil {
			return payload
		}
		env.logger().Warn("tool.search.vector_failed", "instance", env.Instance, "error", err)
	}
	return searchFiles(env, query, startDate, endDate, limit)
}

func searchVector(ctx context.Context, env *Env, query, startDate, endDate string, limit int, dataType string) (map[string]any, error) {
	var clauses []vector.Where
	if startDate != "" {
		start, err := ParseStart(startDate)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, vector.Gte("timestamp", float64(start.Unix())))
	}
	if endDate != "" {
		end, err := ParseEnd(endDate)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, vector.Lte("timestamp", float64(end.Unix())))
	}
	if dataType == "ocr" {
		clauses = append(clauses, vector.Eq("data_type", "ocr"))
	}

	hits, err := env.Index.Query(ctx, query, limit, vector.And(clauses...))
	if err != nil {
		return nil, err
	}

	results := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		preview := metaString(h.Metadata, "extracted_text", h.Document)
		if len(preview) > 200 {
			preview = preview[:200]
		}
		screenshotPath := metaString(h.Metadata, "screenshot_path", "")
		results = append(results, map[string]any{
			"timestamp":       metaTimestamp(h.Metadata),
			"screen_name":     metaString(h.Metadata, "screen_name", "N/A"),
			"data_type":       metaString(h.Metadata, "data_type", "unknown"),
			"text_length":     metaInt(h.Metadata, "text_length"),
			"word_count":      metaInt(h.Metadata, "word_count"),
			"text_preview":    preview,
			"relevance":       round3(vector.Relevance(h.Distance)),
			"source":          metaString(h.Metadata, "source", "unknown"),
			"screenshot_path": screenshotPath,
			"has_screenshot":  screenshotPath != "",
		})
	}

	return map[string]any{
		"query":            query,
		"results":          results,
		"total_found":      len(results),
		"search_method":    "vector_search_chromadb",
		"data_type_filter": orAll(dataType),
		"date_range":       map[string]any{"start_date": startDate, "end_date": endDate},
	}, nil
}

// searchFiles is the fallback when no vector index is reachable: a substring
// scan over the record store, newest first, relevance = occurrence count.
func searchFiles(env *Env, query, startDate, endDate string, limit int) map[string]any {
	start := time.Time{}
	end := time.Now().AddDate(100, 0, 0)
	if startDate != "" {
		ts, err := ParseStart(startDate)
		if err != nil {
			return errPayload("search-screenshots", err, map[string]any{"query": query, "results": []any{}, "total_found": 0})
		}
		start = ts
	}
	if endDate != "" {
		ts, err := ParseEnd(endDate)
		if err != nil {
			return errPayload("search-screenshots", err, map[string]any{"query": query, "results": []any{}, "total_found": 0})
		}
		end = ts
	}

	entries, err := env.Records.IterInRange(start, end)
	if err != nil {
		return errPayload("search-screenshots", err, map[string]any{"query": query, "results": []any{}, "total_found": 0})
	}
	// Newest first.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Time.After(entries[j].Time) })

	queryLower := strings.ToLower(query)
	var results []map[string]any
	processed := 0

	for _, e := range entries {
		if len(results) >= limit {
			break
		}
		rec, err := env.Records.Load(e)
		if err != nil {
			env.logger().Warn("tool.search.read_failed", "id", e.ID, "error", err)
			continue
		}
		processed++

		textLower := strings.ToLower(rec.Text)
		if queryLower != "" && !strings.Contains(textLower, queryLower) {
			continue
		}

		results = append(results, map[string]any{
			"timestamp":       rec.Timestamp,
			"screen_name":     rec.ScreenName,
			"data_type":       "ocr",
			"text_length":     len(rec.Text),
			"word_count":      len(strings.Fields(rec.Text)),
			"text_preview":    contextPreview(textLower, queryLower),
			"relevance":       strings.Count(textLower, queryLower),
			"source":          "file_based_search",
			"screenshot_path": rec.ScreenshotPath,
			"has_screenshot":  rec.ScreenshotPath != "",
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i]["relevance"].(int) > results[j]["relevance"].(int)
	})

	return map[string]any{
		"query":            query,
		"results":          results,
		"total_found":      len(results),
		"processed_files":  processed,
		"search_method":    "file_based_text_search",
		"data_type_filter": "ocr",
		"date_range":       map[string]any{"start_date": startDate, "end_date": endDate},
	}
}

// contextPreview extracts up to ~200 chars of text around the first match.
func contextPreview(text, query string) string {
	if query == "" {
		if len(text) > 200 {
			return text[:200]
		}
		return text
	}
	idx := strings.Index(text, query)
	if idx < 0 {
		return ""
	}
	contextSize := (200 - len(query)) / 2
	start := idx - contextSize
	if start < 0 {
		start = 0
	}
	end := idx + len(query) + contextSize
	if end > len(text) {
		end = len(text)
	}
	preview := text[start:end]
	if start > 0 {
		preview = "..." + preview
	}
	if end < len(text) {
		preview += "..."
	}
	return preview
}

func orAll(s string) string {
	if s == "" {
		return "all"
	}
	return s
}

func metaString(meta map[string]any, key, def string) string {
	if v, ok := meta[key].(string); ok && v != "" {
		return v
	}
	return def
}

func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// metaTimestamp prefers the ISO form, falling back to the numeric epoch.
func metaTimestamp(meta map[string]any) string {
	if iso, ok := meta["timestamp_iso"].(string); ok && iso != "" {
		return iso
	}
	switch v := meta["timestamp"].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%v", v)
	}
	return ""
}
