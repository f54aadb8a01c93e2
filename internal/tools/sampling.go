package tools

import (
	"context"
	"fmt"
	"sort"
	"time"
)

func sampleTimeRangeDef() Definition {
	return Definition{
		Name:        "sample-time-range",
		Description: "Flexible time range sampling with windowing",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"start_time":         map[string]any{"type": "string", "description": "Start time (ISO or relative like 'yesterday 9am')"},
				"end_time":           map[string]any{"type": "string", "description": "End time (ISO or relative like 'yesterday 5pm')"},
				"max_samples":        map[string]any{"type": "integer", "default": 24},
				"min_window_minutes": map[string]any{"type": "integer", "default": 15},
				"include_text":       map[string]any{"type": "boolean", "default": true},
			},
			"required":             []string{"start_time", "end_time"},
			"additionalProperties": false,
		},
		Run: runSampleTimeRange,
	}
}

func runSampleTimeRange(_ context.Context, env *Env, args map[string]any) map[string]any {
	startStr := argString(args, "start_time", "")
	endStr := argString(args, "end_time", "")
	maxSamples := argInt(args, "max_samples", 24)
	minWindowMinutes := argInt(args, "min_window_minutes", 15)
	includeText := argBool(args, "include_text", true)

	fail := func(err error) map[string]any {
		return errPayload("sample_time_range", err, map[string]any{"data": []any{}})
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

	totalMinutes := end.Sub(start).Minutes()
	windowMinutes := totalMinutes / float64(maxSamples)
	if windowMinutes < float64(minWindowMinutes) {
		windowMinutes = float64(minWindowMinutes)
	}
	windowSize := time.Duration(windowMinutes * float64(time.Minute))

	type window struct {
		start, end time.Time
		data       map[string]any
	}
	var windows []*window
	for cur := start; cur.Before(end); {
		wEnd := cur.Add(windowSize)
		if wEnd.After(end) {
			wEnd = end
		}
		windows = append(windows, &window{start: cur, end: wEnd})
		cur = wEnd
	}

	entries, err := env.Records.IterInRange(start, end)
	if err != nil {
		return fail(err)
	}
	// IterInRange sorts ascending, so each window keeps its earliest record.
	for _, e := range entries {
		for _, w := range windows {
			if w.data != nil || e.Time.Before(w.start) || !e.Time.Before(w.end) {
				continue
			}
			rec, err := env.Records.Load(e)
			if err != nil {
				env.logger().Warn("tool.sample.read_failed", "id", e.ID, "error", err)
				break
			}
			w.data = map[string]any{
				"timestamp":       rec.Timestamp,
				"screen_name":     rec.ScreenName,
				"text_length":     rec.TextLength,
				"word_count":      rec.WordCount,
				"has_content":     rec.TextLength > 10,
				"window_start":    w.start.Format(time.RFC3339),
				"window_end":      w.end.Format(time.RFC3339),
				"screenshot_path": rec.ScreenshotPath,
				"has_screenshot":  rec.ScreenshotPath != "",
			}
			if includeText {
				w.data["text"] = rec.Text
			}
			break
		}
	}

	var results []map[string]any
	screens := map[string]struct{}{}
	for _, w := range windows {
		if w.data == nil {
			continue
		}
		results = append(results, w.data)
		screens[w.data["screen_name"].(string)] = struct{}{}
	}
	screenList := make([]string, 0, len(screens))
	for s := range screens {
		screenList = append(screenList, s)
	}
	sort.Strings(screenList)

	return map[string]any{
		"tool_name": "sample_time_range",
		"time_range": map[string]any{
			"start_time":     start.Format(time.RFC3339),
			"end_time":       end.Format(time.RFC3339),
			"duration_hours": round2(totalMinutes / 60),
		},
		"windowing": map[string]any{
			"window_size_minutes": round2(windowMinutes),
			"total_windows":       len(windows),
			"filled_windows":      len(results),
		},
		"summary": map[string]any{
			"samples_returned": len(results),
			"unique_screens":   screenList,
		},
		"data": results,
	}
}
