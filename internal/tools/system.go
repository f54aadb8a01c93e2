package tools

import "context"

func whatCanIDoDef() Definition {
	return Definition{
		Name:        "what-can-i-do",
		Description: "Get information about available capabilities",
		InputSchema: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{},
			"additionalProperties": false,
		},
		Run: runWhatCanIDo,
	}
}

func runWhatCanIDo(_ context.Context, env *Env, _ map[string]any) map[string]any {
	return map[string]any{
		"instance": env.Instance,
		"capabilities": []map[string]any{
			{"tool": "search-screenshots", "use_for": "Finding specific text you saw on screen, with optional date filters"},
			{"tool": "get-stats", "use_for": "Checking how much data this instance has collected"},
			{"tool": "activity-graph", "use_for": "Visualizing when the machine was active, hourly or daily"},
			{"tool": "time-range-summary", "use_for": "An evenly sampled overview of a specific time range"},
			{"tool": "sample-time-range", "use_for": "Window-based sampling, one capture per time window"},
			{"tool": "vector-search-windowed", "use_for": "Semantic search spread across a time range, one hit per window"},
			{"tool": "search-recent-relevant", "use_for": "Recent activity ranked by combined relevance and recency"},
			{"tool": "daily-summary", "use_for": "A structured summary of one day grouped by time of day"},
		},
		"notes": "All time inputs accept ISO-8601 dates; date-only values span the whole day.",
	}
}
