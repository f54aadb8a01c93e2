package tools

import (
	"context"
	"fmt"
	"sort"
	"time"
)

func activityGraphDef() Definition {
	return Definition{
		Name:        "activity-graph",
		Description: "Generate activity timeline graph data",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"days":          map[string]any{"type": "integer", "description": "Number of days (default: 7)", "default": 7},
				"grouping":      map[string]any{"type": "string", "enum": []string{"hourly", "daily"}, "default": "hourly"},
				"include_empty": map[string]any{"type": "boolean", "default": true},
			},
			"additionalProperties": false,
		},
		Run: runActivityGraph,
	}
}

type periodBucket struct {
	captures   int
	textLength int
	wordCount  int
	hasContent int
	screens    map[string]struct{}
}

func runActivityGraph(_ context.Context, env *Env, args map[string]any) map[string]any {
	days := argInt(args, "days", 7)
	grouping := argString(args, "grouping", "hourly")
	includeEmpty := argBool(args, "include_empty", true)

	end := time.Now()
	start := end.AddDate(0, 0, -days)

	entries, err := env.Records.IterInRange(start, end)
	if err != nil {
		return errPayload("activity-graph", err, map[string]any{
			"graph_type":    "activity_timeline",
			"timeline_data": []any{},
			"time_range":    map[string]any{"days": days, "grouping": grouping},
		})
	}

	keyFor := func(ts time.Time) string {
		if grouping == "daily" {
			return ts.Format("2006-01-02")
		}
		return ts.Format("2006-01-02 15:00")
	}

	buckets := map[string]*periodBucket{}
	total := 0
	for _, e := range entries {
		rec, err := env.Records.Load(e)
		if err != nil {
			env.logger().Warn("tool.activity.read_failed", "id", e.ID, "error", err)
			continue
		}
		total++

		key := keyFor(e.Time)
		b, ok := buckets[key]
		if !ok {
			b = &periodBucket{screens: map[string]struct{}{}}
			buckets[key] = b
		}
		b.captures++
		b.textLength += rec.TextLength
		b.wordCount += rec.WordCount
		b.screens[rec.ScreenName] = struct{}{}
		if rec.TextLength > 10 {
			b.hasContent++
		}
	}

	allScreens := map[string]struct{}{}
	var timeline []map[string]any
	for key, b := range buckets {
		screens := make([]string, 0, len(b.screens))
		for s := range b.screens {
			screens = append(screens, s)
			allScreens[s] = struct{}{}
		}
		sort.Strings(screens)
		timeline = append(timeline, map[string]any{
			"timestamp":          key,
			"capture_count":      b.captures,
			"avg_text_length":    b.textLength / b.captures,
			"avg_word_count":     b.wordCount / b.captures,
			"unique_screens":     len(b.screens),
			"content_percentage": (b.hasContent*100 + b.captures/2) / b.captures,
			"screen_names":       screens,
		})
	}

	if includeEmpty {
		step := time.Hour
		if grouping == "daily" {
			step = 24 * time.Hour
		}
		for ts := start; !ts.After(end); ts = ts.Add(step) {
			key := keyFor(ts)
			if _, ok := buckets[key]; ok {
				continue
			}
			buckets[key] = &periodBucket{}
			timeline = append(timeline, map[string]any{
				"timestamp":          key,
				"capture_count":      0,
				"avg_text_length":    0,
				"avg_word_count":     0,
				"unique_screens":     0,
				"content_percentage": 0,
				"screen_names":       []string{},
			})
		}
	}

	sort.Slice(timeline, func(i, j int) bool {
		return timeline[i]["timestamp"].(string) < timeline[j]["timestamp"].(string)
	})

	active := 0
	for _, p := range timeline {
		if p["capture_count"].(int) > 0 {
			active++
		}
	}
	screenList := make([]string, 0, len(allScreens))
	for s := range allScreens {
		screenList = append(screenList, s)
	}
	sort.Strings(screenList)

	return map[string]any{
		"graph_type": "activity_timeline",
		"time_range": map[string]any{
			"start_date": start.Format(time.RFC3339),
			"end_date":   end.Format(time.RFC3339),
			"days":       days,
		},
		"grouping": grouping,
		"data_summary": map[string]any{
			"total_captures": total,
			"total_periods":  len(timeline),
			"active_periods": active,
			"unique_screens": screenList,
		},
		"timeline_data": timeline,
	}
}

func timeRangeSummaryDef() Definition {
	return Definition{
		Name:        "time-range-summary",
		Description: "Get sampled summary over a time range",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"start_time":   map[string]any{"type": "string", "description": "Start time (ISO format or YYYY-MM-DD)"},
				"end_time":     map[string]any{"type": "string", "description": "End time (ISO format or YYYY-MM-DD)"},
				"max_results":  map[string]any{"type": "integer", "default": 24},
				"include_text": map[string]any{"type": "boolean", "default": true},
			},
			"required":             []string{"start_time", "end_time"},
			"additionalProperties": false,
		},
		Run: runTimeRangeSummary,
	}
}

func runTimeRangeSummary(_ context.Context, env *Env, args map[string]any) map[string]any {
	startStr := argString(args, "start_time", "")
	endStr := argString(args, "end_time", "")
	maxResults := argInt(args, "max_results", 24)
	includeText := argBool(args, "include_text", true)

	fail := func(err error) map[string]any {
		return errPayload("time-range-summary", err, map[string]any{
			"summary_type": "time_range_sampling",
			"time_range":   map[string]any{"start_time": startStr, "end_time": endStr},
			"data":         []any{},
		})
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

	entries, err := env.Records.IterInRange(start, end)
	if err != nil {
		return fail(err)
	}

	var filtered []map[string]any
	for _, e := range entries {
		rec, err := env.Records.Load(e)
		if err != nil {
			env.logger().Warn("tool.summary.read_failed", "id", e.ID, "error", err)
			continue
		}
		item := map[string]any{
			"filename":    e.ID + ".json",
			"timestamp":   rec.Timestamp,
			"screen_name": rec.ScreenName,
			"text_length": rec.TextLength,
			"word_count":  rec.WordCount,
			"has_content": rec.TextLength > 10,
		}
		if includeText {
			item["text"] = rec.Text
		}
		filtered = append(filtered, item)
	}

	sampled := filtered
	samplingInfo := map[string]any{"sampled": false, "total_items": len(filtered)}
	if maxResults > 0 && len(filtered) > maxResults {
		step := float64(len(filtered)) / float64(maxResults)
		samplingInfo["sampled"] = true
		samplingInfo["step_size"] = step
		samplingInfo["sampling_method"] = "evenly_distributed"

		sampled = make([]map[string]any, 0, maxResults)
		for i := 0; i < maxResults; i++ {
			idx := int(float64(i) * step)
			if idx < len(filtered) {
				sampled = append(sampled, filtered[idx])
			}
		}
	}

	totalText, totalWords, contentItems := 0, 0, 0
	screens := map[string]struct{}{}
	for _, item := range sampled {
		totalText += item["text_length"].(int)
		totalWords += item["word_count"].(int)
		if item["has_content"].(bool) {
			contentItems++
		}
		screens[item["screen_name"].(string)] = struct{}{}
	}
	screenList := make([]string, 0, len(screens))
	for s := range screens {
		screenList = append(screenList, s)
	}
	sort.Strings(screenList)

	var earliest, latest any
	if len(sampled) > 0 {
		earliest = sampled[0]["timestamp"]
		latest = sampled[len(sampled)-1]["timestamp"]
	}

	return map[string]any{
		"summary_type": "time_range_sampling",
		"time_range": map[string]any{
			"start_time":     start.Format(time.RFC3339),
			"end_time":       end.Format(time.RFC3339),
			"duration_hours": round2(end.Sub(start).Hours()),
		},
		"sampling_info": samplingInfo,
		"results_summary": map[string]any{
			"total_items_in_range": len(filtered),
			"returned_items":       len(sampled),
			"total_text_length":    totalText,
			"total_word_count":     totalWords,
			"unique_screens":       screenList,
			"content_items":        contentItems,
			"time_span":            map[string]any{"earliest": earliest, "latest": latest},
		},
		"data": sampled,
	}
}
