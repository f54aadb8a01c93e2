package tools

import (
	"fmt"
	"strings"
	"time"
)

// isoLayouts are accepted for explicit timestamps, tried in order.
var isoLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseStart parses a range start. Date-only inputs default to T00:00:00.
// Relative phrases ("yesterday 9am", "today", "last week") are resolved
// against the current local time.
func ParseStart(s string) (time.Time, error) {
	return parseBound(s, "T00:00:00")
}

// ParseEnd parses a range end. Date-only inputs default to T23:59:59.
func ParseEnd(s string) (time.Time, error) {
	return parseBound(s, "T23:59:59")
}

func parseBound(s, defaultTime string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ts, ok := parseRelative(s, time.Now()); ok {
		return ts, nil
	}
	if !strings.Contains(s, "T") {
		s += defaultTime
	}
	for _, layout := range isoLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// parseRelative resolves the small phrase vocabulary the sampling tools
// accept. Unknown phrases return ok=false so the caller falls through to
// ISO parsing.
func parseRelative(s string, now time.Time) (time.Time, bool) {
	s = strings.ToLower(s)

	atHour := func(base time.Time, hour int) time.Time {
		return time.Date(base.Year(), base.Month(), base.Day(), hour, 0, 0, 0, base.Location())
	}

	switch {
	case strings.Contains(s, "yesterday"):
		base := now.AddDate(0, 0, -1)
		switch {
		case strings.Contains(s, "9am") || strings.Contains(s, "9:00"):
			return atHour(base, 9), true
		case strings.Contains(s, "5pm") || strings.Contains(s, "17:00"):
			return atHour(base, 17), true
		}
		return atHour(base, 0), true
	case strings.Contains(s, "today"):
		switch {
		case strings.Contains(s, "9am") || strings.Contains(s, "9:00"):
			return atHour(now, 9), true
		case strings.Contains(s, "5pm") || strings.Contains(s, "17:00"):
			return atHour(now, 17), true
		}
		return atHour(now, 0), true
	case strings.Contains(s, "last week"):
		return now.AddDate(0, 0, -7), true
	}
	return time.Time{}, false
}
