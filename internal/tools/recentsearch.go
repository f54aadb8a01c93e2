package tools

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/memexhq/memex/internal/vector"
)

func searchRecentRelevantDef() Definition {
	return Definition{
		Name:        "search-recent-relevant",
		Description: "Find most recent and relevant information with combined scoring",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":          map[string]any{"type": "string", "description": "Search query (semantic)"},
				"max_results":    map[string]any{"type": "integer", "default": 10},
				"initial_days":   map[string]any{"type": "integer", "default": 7},
				"max_days":       map[string]any{"type": "integer", "default": 90},
				"recency_weight": map[string]any{"type": "number", "default": 0.5},
				"min_score":      map[string]any{"type": "number", "default": 0.6},
			},
			"required":             []string{"query"},
			"additionalProperties": false,
		},
		Run: runSearchRecentRelevant,
	}
}

// recencyScore maps a timestamp to [0,1]: 1 now, 0 at maxAgeDays or older.
// Unparseable timestamps score a neutral 0.5.
func recencyScore(timestamp string, maxAgeDays int, now time.Time) float64 {
	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		if ts2, err2 := time.ParseInLocation("2006-01-02T15:04:05", timestamp, time.Local); err2 == nil {
			ts = ts2
		} else {
			return 0.5
		}
	}
	ageDays := now.Sub(ts).Hours() / 24
	switch {
	case ageDays < 0:
		return 1.0
	case ageDays > float64(maxAgeDays):
		return 0.0
	}
	return 1.0 - ageDays/float64(maxAgeDays)
}

func runSearchRecentRelevant(ctx context.Context, env *Env, args map[string]any) map[string]any {
	query := argString(args, "query", "")
	maxResults := argInt(args, "max_results", 10)
	initialDays := argInt(args, "initial_days", 7)
	maxDays := argInt(args, "max_days", 90)
	recencyWeight := argFloat(args, "recency_weight", 0.5)
	minScore := argFloat(args, "min_score", 0.6)

	fail := func(err error) map[string]any {
		return errPayload("search_recent_relevant", err, map[string]any{"query": query, "results": []any{}})
	}
	if env.Index == nil {
		return fail(fmt.Errorf("ChromaDB not available"))
	}

	now := time.Now()
	relevanceWeight := 1.0 - recencyWeight
	var all []map[string]any
	var windowsSearched []int

	// Expanding window: initial, then x4, then doubling, capped at maxDays.
	for currentDays := initialDays; currentDays <= maxDays && len(all) < maxResults; {
		windowsSearched = append(windowsSearched, currentDays)
		windowStart := now.AddDate(0, 0, -currentDays)

		hits, err := env.Index.Query(ctx, query, maxResults*2,
			vector.Gte("timestamp", float64(windowStart.Unix())))
		if err != nil {
			env.logger().Warn("tool.recent_search.window_failed", "days", currentDays, "error", err)
			break
		}

		for _, h := range hits {
			relevance := vector.Relevance(h.Distance)
			timestamp := metaTimestamp(h.Metadata)
			recency := recencyScore(timestamp, maxDays, now)
			combined := relevance*relevanceWeight + recency*recencyWeight
			if combined < minScore {
				continue
			}
			screenshotPath := metaString(h.Metadata, "screenshot_path", "")
			all = append(all, map[string]any{
				"text":            h.Document,
				"timestamp":       timestamp,
				"screen_name":     metaString(h.Metadata, "screen_name", "unknown"),
				"relevance_score": round3(relevance),
				"recency_score":   round3(recency),
				"combined_score":  round3(combined),
				"screenshot_path": screenshotPath,
				"has_screenshot":  screenshotPath != "",
			})
		}

		if len(all) >= maxResults {
			break
		}
		if currentDays == maxDays {
			break
		}
		next := currentDays * 2
		if currentDays == initialDays {
			next = initialDays * 4
		}
		if next > maxDays {
			next = maxDays
		}
		currentDays = next
	}

	// Deduplicate by timestamp, keeping the first (highest scoring after sort).
	sort.SliceStable(all, func(i, j int) bool {
		return all[i]["combined_score"].(float64) > all[j]["combined_score"].(float64)
	})
	seen := map[string]struct{}{}
	unique := make([]map[string]any, 0, len(all))
	for _, r := range all {
		ts := r["timestamp"].(string)
		if _, dup := seen[ts]; dup {
			continue
		}
		seen[ts] = struct{}{}
		unique = append(unique, r)
	}
	if len(unique) > maxResults {
		unique = unique[:maxResults]
	}

	avg := 0.0
	if len(unique) > 0 {
		for _, r := range unique {
			avg += r["combined_score"].(float64)
		}
		avg = round3(avg / float64(len(unique)))
	}

	return map[string]any{
		"tool_name": "search_recent_relevant",
		"query":     query,
		"search_strategy": map[string]any{
			"initial_days":     initialDays,
			"max_days":         maxDays,
			"windows_searched": windowsSearched,
		},
		"scoring": map[string]any{
			"recency_weight":   recencyWeight,
			"relevance_weight": round2(relevanceWeight),
			"min_score":        minScore,
		},
		"summary": map[string]any{
			"results_returned":   len(unique),
			"avg_combined_score": avg,
		},
		"results": unique,
	}
}
