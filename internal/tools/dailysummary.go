package tools

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// dayPeriods partitions a day. Hours outside every range (none, the set
// covers 0-24) fall into late_night.
var dayPeriods = []struct {
	label      string
	start, end int
}{
	{"early_morning", 5, 8},
	{"morning", 8, 12},
	{"afternoon", 12, 17},
	{"evening", 17, 21},
	{"night", 21, 24},
	{"late_night", 0, 5},
}

func dailySummaryDef() Definition {
	return Definition{
		Name:        "daily-summary",
		Description: "Get structured daily summary grouped by time periods",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"date":         map[string]any{"type": "string", "description": "Date in YYYY-MM-DD format (default: today)"},
				"include_text": map[string]any{"type": "boolean", "default": true},
			},
			"additionalProperties": false,
		},
		Run: runDailySummary,
	}
}

func periodFor(hour int) string {
	for _, p := range dayPeriods {
		if hour >= p.start && hour < p.end {
			return p.label
		}
	}
	return "late_night"
}

// sampleEvenly keeps at most max items, evenly spaced.
func sampleEvenly(items []map[string]any, max int) []map[string]any {
	if len(items) <= max {
		return items
	}
	step := float64(len(items)) / float64(max)
	out := make([]map[string]any, 0, max)
	for i := 0; i < max; i++ {
		out = append(out, items[int(float64(i)*step)])
	}
	return out
}

func runDailySummary(_ context.Context, env *Env, args map[string]any) map[string]any {
	dateStr := argString(args, "date", "")
	includeText := argBool(args, "include_text", true)

	var day time.Time
	if dateStr == "" {
		now := time.Now()
		day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
		dateStr = day.Format("2006-01-02")
	} else {
		parsed, err := time.ParseInLocation("2006-01-02", dateStr, time.Local)
		if err != nil {
			return map[string]any{
				"error":     fmt.Sprintf("Invalid date format: %v. Use YYYY-MM-DD.", err),
				"tool_name": "daily_summary",
			}
		}
		day = parsed
	}

	dayStart := day
	dayEnd := day.Add(24*time.Hour - time.Nanosecond)

	entries, err := env.Records.IterInRange(dayStart, dayEnd)
	if err != nil {
		return errPayload("daily_summary", err, nil)
	}

	type capture struct {
		hour int
		item map[string]any
		text string
	}
	var captures []capture
	totalWords := 0
	screens := map[string]struct{}{}
	hours := map[int]struct{}{}

	for _, e := range entries {
		rec, err := env.Records.Load(e)
		if err != nil {
			env.logger().Warn("tool.daily.read_failed", "id", e.ID, "error", err)
			continue
		}
		captures = append(captures, capture{
			hour: e.Time.Hour(),
			text: rec.Text,
			item: map[string]any{
				"timestamp":       rec.Timestamp,
				"screen_name":     rec.ScreenName,
				"word_count":      rec.WordCount,
				"screenshot_path": rec.ScreenshotPath,
			},
		})
		totalWords += rec.WordCount
		screens[rec.ScreenName] = struct{}{}
		hours[e.Time.Hour()] = struct{}{}
	}

	buckets := map[string][]capture{}
	for _, c := range captures {
		label := periodFor(c.hour)
		buckets[label] = append(buckets[label], c)
	}

	var periods []map[string]any
	for _, p := range dayPeriods {
		bucket := buckets[p.label]
		if len(bucket) == 0 {
			continue
		}

		bucketItems := make([]map[string]any, len(bucket))
		bucketWords := 0
		bucketScreens := map[string]struct{}{}
		for i, c := range bucket {
			entry := map[string]any{
				"timestamp":   c.item["timestamp"],
				"screen_name": c.item["screen_name"],
				"word_count":  c.item["word_count"],
			}
			if includeText {
				text := c.text
				if len(text) > 500 {
					text = text[:500] + "..."
				}
				entry["text"] = text
			}
			if sp, _ := c.item["screenshot_path"].(string); sp != "" {
				entry["screenshot_path"] = sp
				entry["has_screenshot"] = true
			}
			bucketItems[i] = entry
			bucketWords += c.item["word_count"].(int)
			bucketScreens[c.item["screen_name"].(string)] = struct{}{}
		}

		screenList := make([]string, 0, len(bucketScreens))
		for s := range bucketScreens {
			screenList = append(screenList, s)
		}
		sort.Strings(screenList)

		periods = append(periods, map[string]any{
			"period":         p.label,
			"hours":          fmt.Sprintf("%02d:00-%02d:00", p.start, p.end),
			"capture_count":  len(bucket),
			"unique_screens": screenList,
			"word_count":     bucketWords,
			"samples":        sampleEvenly(bucketItems, 5),
		})
	}

	screenList := make([]string, 0, len(screens))
	for s := range screens {
		screenList = append(screenList, s)
	}
	sort.Strings(screenList)
	hourList := make([]int, 0, len(hours))
	for h := range hours {
		hourList = append(hourList, h)
	}
	sort.Ints(hourList)

	return map[string]any{
		"tool_name": "daily_summary",
		"date":      dateStr,
		"stats": map[string]any{
			"total_captures":    len(captures),
			"total_words":       totalWords,
			"unique_screens":    screenList,
			"active_hours":      hourList,
			"active_hour_count": len(hourList),
		},
		"periods": periods,
	}
}
